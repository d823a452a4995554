package storage

import "errors"

// Common storage errors
var (
	// ErrLogEmpty indicates the event log has no events yet.
	ErrLogEmpty = errors.New("event log is empty")

	// ErrBadCursor indicates a cursor that is not a zero-padded sequence.
	ErrBadCursor = errors.New("malformed cursor")
)
