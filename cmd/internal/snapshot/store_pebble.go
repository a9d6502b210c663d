package snapshot

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is the default Store: a local pebble database holding the
// one durable slot. It is the desktop analog of browser local storage,
// with the same "best effort, never block the session" posture.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the snapshot database at path.
func OpenPebble(path string) (*PebbleStore, error) {
	if path == "" {
		return nil, errors.New("snapshot: empty pebble path")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

// Load reads the slot. A missing key yields the empty default state.
func (s *PebbleStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	value, closer, err := s.db.Get([]byte(SlotKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return State{}, nil
		}
		return State{}, err
	}
	payload := append([]byte(nil), value...)
	if err := closer.Close(); err != nil {
		return State{}, err
	}

	return decodeState(payload), nil
}

// Save supersedes the slot wholesale, truncated to the retention cap.
func (s *PebbleStore) Save(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := encodeState(st)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(SlotKey), payload, pebble.Sync)
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
