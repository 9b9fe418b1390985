// Package postgres provides a PostgreSQL-backed state store for teams that
// run switchovers from ephemeral environments (CI runners, bastion pods)
// where a local state file would not survive the invocation.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"

	_ "github.com/lib/pq"

	"github.com/hubfleet/switchover"
)

const schema = `
CREATE TABLE IF NOT EXISTS switchover_state (
	primary_context   text        NOT NULL,
	secondary_context text        NOT NULL,
	document          jsonb       NOT NULL,
	updated_at        timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (primary_context, secondary_context)
)`

// StateStore persists the workflow document as one row per cluster identity
// pair. The single-writer rule uses a session-scoped advisory lock keyed on
// the pair, so two invocations against the same pair exclude each other even
// from different hosts.
type StateStore struct {
	db               *sql.DB
	primaryContext   string
	secondaryContext string
}

var _ switchover.StateStore = (*StateStore)(nil)

// New connects to the database named by dsn, ensures the schema exists, and
// returns a store scoped to the given cluster pair.
func New(ctx context.Context, dsn, primaryContext, secondaryContext string) (*StateStore, error) {
	if primaryContext == "" || secondaryContext == "" {
		return nil, fmt.Errorf("primary and secondary contexts are required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach state database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure state schema: %w", err)
	}
	return &StateStore{
		db:               db,
		primaryContext:   primaryContext,
		secondaryContext: secondaryContext,
	}, nil
}

// Close releases the underlying connection pool.
func (s *StateStore) Close() error {
	return s.db.Close()
}

// lockKey derives the advisory lock key for this cluster pair.
func (s *StateStore) lockKey() int64 {
	h := fnv.New64a()
	h.Write([]byte(s.primaryContext))
	h.Write([]byte{0})
	h.Write([]byte(s.secondaryContext))
	return int64(h.Sum64())
}

// Acquire takes the pair's advisory lock on a dedicated session. Like the
// file store, a held lock fails immediately instead of queueing.
func (s *StateStore) Acquire(ctx context.Context) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock session: %w", err)
	}
	key := s.lockKey()
	var locked bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !locked {
		conn.Close()
		return nil, fmt.Errorf("state for pair (%s, %s) is locked by another invocation",
			s.primaryContext, s.secondaryContext)
	}
	return func() {
		// Closing the session releases the lock even if the unlock call fails.
		conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Close()
	}, nil
}

// Load returns the persisted state for this pair, or nil if none exists.
func (s *StateStore) Load(ctx context.Context) (*switchover.WorkflowState, error) {
	var document []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM switchover_state WHERE primary_context = $1 AND secondary_context = $2`,
		s.primaryContext, s.secondaryContext).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	var state switchover.WorkflowState
	if err := json.Unmarshal(document, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state document: %w", err)
	}
	return &state, nil
}

// Save upserts the state document. Row-level atomicity gives concurrent
// readers a consistent document without any temp-and-rename dance.
func (s *StateStore) Save(ctx context.Context, state *switchover.WorkflowState) error {
	document, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO switchover_state (primary_context, secondary_context, document, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (primary_context, secondary_context)
		DO UPDATE SET document = EXCLUDED.document, updated_at = now()`,
		s.primaryContext, s.secondaryContext, document)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Reset deletes this pair's row. Resetting absent state is not an error.
func (s *StateStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM switchover_state WHERE primary_context = $1 AND secondary_context = $2`,
		s.primaryContext, s.secondaryContext)
	if err != nil {
		return fmt.Errorf("failed to reset state: %w", err)
	}
	return nil
}
