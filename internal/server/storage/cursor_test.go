package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := Cursor(42)
	assert.Equal(t, "00000000000000000042", cursor)

	seq, err := ParseCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	// Zero padding keeps lexicographic order equal to numeric order.
	assert.Less(t, Cursor(99), Cursor(100))
}

func TestParseCursorRejectsMalformedInput(t *testing.T) {
	for _, bad := range []string{"", "42", "not-a-cursor", "0000000000000000004x"} {
		_, err := ParseCursor(bad)
		assert.ErrorIs(t, err, ErrBadCursor, bad)
	}
}
