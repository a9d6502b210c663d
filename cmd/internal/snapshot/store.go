// Package snapshot persists a bounded local copy of the chat session:
// the draft text plus the most recent messages.
//
// Persistence is best-effort by design. Load never surfaces storage
// problems to the engine (missing or corrupt payloads yield the empty
// default), and callers are expected to treat Save failures as advisory.
package snapshot

import (
	"context"
	"encoding/json"

	"doodle/cmd/internal/chat"
)

// SlotKey is the fixed namespace/version key of the single durable slot.
// Bump the version suffix when the payload layout changes.
const SlotKey = "doodle.chat-state.v1"

// MaxStoredMessages caps how many messages a snapshot retains.
// Save keeps the most recent suffix.
const MaxStoredMessages = 200

// State is the persisted session snapshot.
type State struct {
	Draft    string         `json:"draft"`
	Messages []chat.Message `json:"messages"`
}

// Store is the durable slot behind the sync engine.
//
// Requirements:
//   - Load returns the empty default for a missing slot, never an error
//     for absence. Backend errors may still surface; the engine absorbs
//     them.
//   - Save supersedes the slot wholesale; there is no partial update.
//   - The slot is single-writer (the sync controller).
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
	Close() error
}

// storedMessage mirrors chat.Message with loose types so one malformed
// entry drops alone instead of rejecting the whole snapshot.
type storedMessage struct {
	ID        any  `json:"id"`
	Author    any  `json:"author"`
	Message   any  `json:"message"`
	CreatedAt any  `json:"createdAt"`
	Pending   bool `json:"pending"`
	Failed    bool `json:"failed"`
}

type storedState struct {
	Draft    any             `json:"draft"`
	Messages json.RawMessage `json:"messages"`
}

// decodeState turns a raw slot payload into a State, dropping whatever
// does not validate. Any decode failure yields the empty default.
func decodeState(payload []byte) State {
	var raw storedState
	if err := json.Unmarshal(payload, &raw); err != nil {
		return State{}
	}

	st := State{Messages: []chat.Message{}}
	if draft, ok := raw.Draft.(string); ok {
		st.Draft = draft
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw.Messages, &entries); err != nil {
		return st
	}
	for _, entry := range entries {
		var e storedMessage
		if err := json.Unmarshal(entry, &e); err != nil {
			continue
		}
		msg, ok := validMessage(e)
		if !ok {
			continue
		}
		st.Messages = append(st.Messages, msg)
	}
	if len(st.Messages) > MaxStoredMessages {
		st.Messages = st.Messages[len(st.Messages)-MaxStoredMessages:]
	}
	return st
}

// validMessage requires string id/author/message/createdAt.
func validMessage(e storedMessage) (chat.Message, bool) {
	id, ok1 := e.ID.(string)
	author, ok2 := e.Author.(string)
	text, ok3 := e.Message.(string)
	createdAt, ok4 := e.CreatedAt.(string)
	if !ok1 || !ok2 || !ok3 || !ok4 || id == "" {
		return chat.Message{}, false
	}
	return chat.Message{
		ID:        id,
		Author:    author,
		Message:   text,
		CreatedAt: createdAt,
		Pending:   e.Pending,
		Failed:    e.Failed,
	}, true
}

// encodeState serializes st with the retention cap applied.
func encodeState(st State) ([]byte, error) {
	msgs := st.Messages
	if len(msgs) > MaxStoredMessages {
		msgs = msgs[len(msgs)-MaxStoredMessages:]
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return json.Marshal(State{Draft: st.Draft, Messages: msgs})
}
