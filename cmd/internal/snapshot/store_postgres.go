package snapshot

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by a single-row slot table in
// PostgreSQL, for deployments where the client runtime has no writable
// local disk.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the
//     pool. Close() is therefore a no-op.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("snapshot: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// Init creates the slot table when it does not exist yet.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chat_snapshot (
    slot_key   text PRIMARY KEY,
    payload    jsonb NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now()
)`)
	return err
}

// Load reads the slot row. A missing row yields the empty default state.
func (s *PostgresStore) Load(ctx context.Context) (State, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM chat_snapshot WHERE slot_key = $1`, SlotKey,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, nil
		}
		return State{}, err
	}
	return decodeState(payload), nil
}

// Save upserts the slot row, superseding the previous payload wholesale.
func (s *PostgresStore) Save(ctx context.Context, st State) error {
	payload, err := encodeState(st)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO chat_snapshot (slot_key, payload, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (slot_key)
DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		SlotKey, payload)
	return err
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }
