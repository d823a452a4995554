package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_ResumeToken(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	token, err := store.GetResumeToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.SaveResumeToken(ctx, "00000000000000000042"))

	token, err = store.GetResumeToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "00000000000000000042", token)

	// Tokens overwrite, they do not accumulate.
	require.NoError(t, store.SaveResumeToken(ctx, "00000000000000000043"))

	token, err = store.GetResumeToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "00000000000000000043", token)
}

func TestStorage_LastFullSync(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	got, err := store.GetLastFullSync(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	want := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	require.NoError(t, store.SaveLastFullSync(ctx, want))

	got, err = store.GetLastFullSync(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(want))
}
