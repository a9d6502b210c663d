// Package chat contains the canonical message model and the pure
// normalization/reconciliation primitives of the sync engine.
package chat

import "time"

// Raw is an untyped message payload as returned by the remote feed.
// There is no guaranteed shape; Normalize converts it into a Message.
type Raw = map[string]any

// Message is the canonical message representation used everywhere inside
// the engine.
//
// Invariants for any collection held or produced by the engine:
//   - IDs are unique.
//   - The sequence is non-decreasing by CreatedAt.
type Message struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`

	// Pending and Failed are local-only flags managed by the sync
	// controller; normalization never sets them.
	Pending bool `json:"pending,omitempty"`
	Failed  bool `json:"failed,omitempty"`
}

// Instant returns the parsed CreatedAt timestamp.
// Unparseable values sort before everything else (zero time).
func (m Message) Instant() time.Time {
	t, ok := parseTimestampString(m.CreatedAt)
	if !ok {
		return time.Time{}
	}
	return t
}
