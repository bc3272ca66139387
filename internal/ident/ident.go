// ABOUTME: Sortable identifier generation for messages, traces and events
// ABOUTME: Uses UUIDv7 so lexicographic order tracks creation order

package ident

import "github.com/google/uuid"

// NewID returns a sortable unique identifier. UUIDv7 carries a
// millisecond timestamp in its high bits, so string comparison of two
// ids agrees with their creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4
		// rather than crashing an id allocation.
		return uuid.NewString()
	}
	return id.String()
}

// NewTraceID returns a correlation id spanning one turn's frames and
// published events. Same format as NewID.
func NewTraceID() string {
	return NewID()
}
