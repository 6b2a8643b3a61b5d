package reviewlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// PostgresStore persists review events in an append-only table. Rows are
// only ever inserted; there is no update or delete path by design.
type PostgresStore struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS review_events (
	id               TEXT PRIMARY KEY,
	ts               TIMESTAMPTZ NOT NULL,
	kind             TEXT NOT NULL,
	ledger_id        TEXT,
	result           TEXT,
	rule_fired       TEXT,
	original_intent  TEXT,
	effective_action TEXT,
	detail           TEXT
);
CREATE INDEX IF NOT EXISTS review_events_ts_idx ON review_events (ts DESC);
`

// NewPostgresStore connects with the given DSN and ensures the table
// exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("reviewlog: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("reviewlog: postgres ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("reviewlog: ensure table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Record(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_events (id, ts, kind, ledger_id, result, rule_fired, original_intent, effective_action, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Timestamp, e.Kind, e.LedgerID, e.Result, e.RuleFired, e.OriginalIntent, e.EffectiveAction, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("reviewlog: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, kind, ledger_id, result, rule_fired, original_intent, effective_action, detail
		 FROM review_events ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.LedgerID, &e.Result, &e.RuleFired, &e.OriginalIntent, &e.EffectiveAction, &e.Detail); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
