package resolve

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclerk/recordsync/internal/models"
)

var (
	earlier = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	later   = time.Date(2026, 4, 2, 10, 0, 5, 0, time.UTC)
)

func fieldConflict(clientTS, serverTS time.Time) *models.Conflict {
	return &models.Conflict{
		ID:         "c1",
		Collection: "permits",
		DocumentID: "p1",
		ClientDelta: &models.Delta{
			Timestamp:  clientTS,
			Collection: "permits",
			DocumentID: "p1",
			Operation:  models.OpUpdate,
			Source:     models.SourceClient,
			Changes: []models.FieldChange{
				{Path: "owner", Old: models.String("clerk1"), New: models.String("client-owner")},
				{Path: "notes", Old: models.Absent(), New: models.String("client-note")},
			},
		},
		ServerDelta: &models.Delta{
			Timestamp:  serverTS,
			Collection: "permits",
			DocumentID: "p1",
			Cursor:     "00000000000000000042",
			Operation:  models.OpUpdate,
			Source:     models.SourceServer,
			Changes: []models.FieldChange{
				{Path: "owner", Old: models.String("clerk1"), New: models.String("server-owner")},
				{Path: "status", Old: models.String("draft"), New: models.String("approved")},
			},
		},
	}
}

func TestTimestampWins(t *testing.T) {
	tests := []struct {
		name      string
		clientTS  time.Time
		serverTS  time.Time
		wantOwner string
	}{
		{name: "client later", clientTS: later, serverTS: earlier, wantOwner: "client-owner"},
		{name: "server later", clientTS: earlier, serverTS: later, wantOwner: "server-owner"},
		{name: "tie falls to server", clientTS: later, serverTS: later, wantOwner: "server-owner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := TimestampWins().Resolve(context.Background(), fieldConflict(tt.clientTS, tt.serverTS))
			require.NoError(t, err)
			require.False(t, res.RequiresManualReview)

			owner, ok := res.Merged.ChangeFor("owner")
			require.True(t, ok)
			assert.True(t, owner.New.Equal(models.String(tt.wantOwner)))
		})
	}
}

func TestResolutionCoversEveryContestedField(t *testing.T) {
	strategies := map[string]Strategy{
		"timestamp-wins": TimestampWins(),
		"client-wins":    ClientWins(),
		"server-wins":    ServerWins(),
		"merge-fields":   MergeFields(map[string]models.Side{"owner": models.SideClient}),
	}

	for name, strategy := range strategies {
		t.Run(name, func(t *testing.T) {
			res, err := strategy.Resolve(context.Background(), fieldConflict(earlier, later))
			require.NoError(t, err)
			require.False(t, res.RequiresManualReview)

			// Every field from either side must appear in the decisions.
			assert.Equal(t, []string{"notes", "owner", "status"}, sortedKeys(res.Decisions))
			assert.Equal(t, res.Merged.FieldPaths(), sortedKeys(res.Decisions))
		})
	}
}

func TestOneSidedFieldsSurviveRegardlessOfWinner(t *testing.T) {
	// Server wins the contested owner field, but the client-only notes
	// field must still survive, attributed to the client.
	res, err := ServerWins().Resolve(context.Background(), fieldConflict(later, earlier))
	require.NoError(t, err)

	notes, ok := res.Merged.ChangeFor("notes")
	require.True(t, ok)
	assert.True(t, notes.New.Equal(models.String("client-note")))
	assert.Equal(t, models.SideClient, res.Decisions["notes"])

	status, ok := res.Merged.ChangeFor("status")
	require.True(t, ok)
	assert.True(t, status.New.Equal(models.String("approved")))
	assert.Equal(t, models.SideServer, res.Decisions["status"])
}

func TestMergeFieldsPriorityTable(t *testing.T) {
	strategy := MergeFields(map[string]models.Side{
		"owner": models.SideClient,
	})

	// Server is newer, so unlisted contested fields would fall to the
	// server; owner is pinned to the client by the table.
	res, err := strategy.Resolve(context.Background(), fieldConflict(earlier, later))
	require.NoError(t, err)

	owner, _ := res.Merged.ChangeFor("owner")
	assert.True(t, owner.New.Equal(models.String("client-owner")))
	assert.Equal(t, models.SideClient, res.Decisions["owner"])
}

func TestMergedDeltaCarriesServerCursor(t *testing.T) {
	res, err := TimestampWins().Resolve(context.Background(), fieldConflict(later, earlier))
	require.NoError(t, err)
	assert.Equal(t, "00000000000000000042", res.Merged.Cursor)
}

func TestDeleteConflictSingleWinner(t *testing.T) {
	c := fieldConflict(earlier, later)
	c.ServerDelta = &models.Delta{
		Timestamp:  later,
		Collection: "permits",
		DocumentID: "p1",
		Operation:  models.OpDelete,
		Source:     models.SourceServer,
	}

	res, err := TimestampWins().Resolve(context.Background(), c)
	require.NoError(t, err)
	require.False(t, res.RequiresManualReview)
	assert.Equal(t, models.OpDelete, res.Merged.Operation)
}

func TestDeleteConflictSplitPickGoesToManualReview(t *testing.T) {
	c := fieldConflict(earlier, later)
	c.ClientDelta.Operation = models.OpDelete
	c.ClientDelta.Changes = nil

	// owner pinned to client, everything else timestamp-wins (server):
	// the pick disagrees across paths and a delete cannot be split.
	strategy := MergeFields(map[string]models.Side{"owner": models.SideClient})

	res, err := strategy.Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, res.RequiresManualReview)
	assert.Nil(t, res.Merged)
}

func TestCustomVeto(t *testing.T) {
	vetoLargeFee := func(ctx context.Context, c *models.Conflict) (bool, error) {
		ch, ok := c.ServerDelta.ChangeFor("fee")
		if !ok {
			return false, nil
		}
		fee, _ := ch.New.AsNumber()
		return fee > 1000, nil
	}
	strategy := Custom(TimestampWins(), vetoLargeFee)

	t.Run("veto routes to manual review", func(t *testing.T) {
		c := fieldConflict(earlier, later)
		c.ServerDelta.Changes = append(c.ServerDelta.Changes, models.FieldChange{
			Path: "fee", New: models.Number(5000),
		})

		res, err := strategy.Resolve(context.Background(), c)
		require.NoError(t, err)
		assert.True(t, res.RequiresManualReview)
	})

	t.Run("no veto delegates to inner strategy", func(t *testing.T) {
		res, err := strategy.Resolve(context.Background(), fieldConflict(earlier, later))
		require.NoError(t, err)
		assert.False(t, res.RequiresManualReview)
		assert.Equal(t, "custom", res.Strategy)
	})

	t.Run("veto error propagates", func(t *testing.T) {
		failing := Custom(TimestampWins(), func(ctx context.Context, c *models.Conflict) (bool, error) {
			return false, errors.New("lookup failed")
		})
		_, err := failing.Resolve(context.Background(), fieldConflict(earlier, later))
		require.Error(t, err)
	})
}

func TestManualOnly(t *testing.T) {
	res, err := ManualOnly().Resolve(context.Background(), fieldConflict(earlier, later))
	require.NoError(t, err)
	assert.True(t, res.RequiresManualReview)
}

func TestRegistry(t *testing.T) {
	fallback := TimestampWins()
	registry := NewRegistry(fallback)
	registry.Register("annotations", ClientWins())

	res, err := registry.For("annotations").Resolve(context.Background(), fieldConflict(earlier, later))
	require.NoError(t, err)
	owner, _ := res.Merged.ChangeFor("owner")
	assert.True(t, owner.New.Equal(models.String("client-owner")))

	res, err = registry.For("permits").Resolve(context.Background(), fieldConflict(earlier, later))
	require.NoError(t, err)
	owner, _ = res.Merged.ChangeFor("owner")
	assert.True(t, owner.New.Equal(models.String("server-owner")))
}

func TestStrategyMock(t *testing.T) {
	mock := &StrategyMock{
		ResolveFunc: func(ctx context.Context, c *models.Conflict) (*models.Resolution, error) {
			return &models.Resolution{Strategy: "mock", RequiresManualReview: true}, nil
		},
	}

	res, err := mock.Resolve(context.Background(), fieldConflict(earlier, later))
	require.NoError(t, err)
	assert.True(t, res.RequiresManualReview)
	assert.Len(t, mock.ResolveCalls(), 1)
}

func sortedKeys(m map[string]models.Side) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
