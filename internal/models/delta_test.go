package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeltaNewerThan(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b *Delta
		want bool
	}{
		{
			name: "later timestamp wins",
			a:    &Delta{Timestamp: base.Add(time.Second), Source: SourceClient},
			b:    &Delta{Timestamp: base, Source: SourceServer},
			want: true,
		},
		{
			name: "earlier timestamp loses",
			a:    &Delta{Timestamp: base, Source: SourceServer},
			b:    &Delta{Timestamp: base.Add(time.Second), Source: SourceClient},
			want: false,
		},
		{
			name: "tie falls to server",
			a:    &Delta{Timestamp: base, Source: SourceServer},
			b:    &Delta{Timestamp: base, Source: SourceClient},
			want: true,
		},
		{
			name: "tie client side loses",
			a:    &Delta{Timestamp: base, Source: SourceClient},
			b:    &Delta{Timestamp: base, Source: SourceServer},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.NewerThan(tt.b))
		})
	}
}

func TestDeltaFieldPaths(t *testing.T) {
	d := &Delta{Changes: []FieldChange{
		{Path: "b"},
		{Path: "a"},
		{Path: "b"}, // duplicate
	}}
	assert.Equal(t, []string{"a", "b"}, d.FieldPaths())
}

func TestDeltaChangeForLastWins(t *testing.T) {
	d := &Delta{Changes: []FieldChange{
		{Path: "status", New: String("draft")},
		{Path: "status", New: String("final")},
	}}

	ch, ok := d.ChangeFor("status")
	assert.True(t, ok)
	assert.True(t, ch.New.Equal(String("final")))

	_, ok = d.ChangeFor("missing")
	assert.False(t, ok)
}

func TestDeltaOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b *Delta
		want bool
	}{
		{
			name: "disjoint fields",
			a:    &Delta{Operation: OpUpdate, Changes: []FieldChange{{Path: "owner"}}},
			b:    &Delta{Operation: OpUpdate, Changes: []FieldChange{{Path: "notes"}}},
			want: false,
		},
		{
			name: "shared field",
			a:    &Delta{Operation: OpUpdate, Changes: []FieldChange{{Path: "owner"}}},
			b:    &Delta{Operation: OpUpdate, Changes: []FieldChange{{Path: "owner"}}},
			want: true,
		},
		{
			name: "delete overlaps everything",
			a:    &Delta{Operation: OpDelete},
			b:    &Delta{Operation: OpUpdate, Changes: []FieldChange{{Path: "notes"}}},
			want: true,
		},
		{
			name: "replace overlaps everything",
			a:    &Delta{Operation: OpUpdate, Changes: []FieldChange{{Path: "notes"}}},
			b:    &Delta{Operation: OpReplace},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
		})
	}
}

func TestDeltaCloneIndependence(t *testing.T) {
	d := &Delta{
		Collection: "permits",
		DocumentID: "p1",
		Operation:  OpUpdate,
		Changes:    []FieldChange{{Path: "owner", New: String("a")}},
	}

	clone := d.Clone()
	clone.Changes[0].New = String("b")

	assert.True(t, d.Changes[0].New.Equal(String("a")))
}
