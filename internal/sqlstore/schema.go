package sqlstore

import (
	"context"
	"fmt"
)

// migrations holds the statements that bring the schema to version i+1.
// Statements are portable across SQLite and PostgreSQL.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS payment_states (
			session_id           TEXT    PRIMARY KEY,
			balance              TEXT    NOT NULL,
			tab_total            TEXT    NOT NULL,
			payment_id           TEXT    NOT NULL DEFAULT '',
			payment_status       TEXT    NOT NULL,
			idempotency_key      TEXT    NOT NULL DEFAULT '',
			version              BIGINT  NOT NULL,
			needs_reconciliation BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at           BIGINT  NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_states_flagged ON payment_states(needs_reconciliation)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_states_updated ON payment_states(updated_at)`,
	},
	{
		`ALTER TABLE payment_states ADD COLUMN link_amount TEXT NOT NULL DEFAULT '0'`,
	},
}

var schemaVersion = len(migrations)

// Migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlstore: create schema_version: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlstore: read schema version: %w", err)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		if err := s.migrateTo(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrateTo(ctx context.Context, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: migrate to %d: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range migrations[version-1] {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate to %d: %w\nstatement: %s", version, err, stmt)
		}
	}

	q := s.dialect.rebind("INSERT INTO schema_version (version) VALUES (?) ON CONFLICT (version) DO NOTHING")
	if _, err := tx.ExecContext(ctx, q, version); err != nil {
		return fmt.Errorf("sqlstore: record schema version %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: migrate to %d: %w", version, err)
	}
	return nil
}
