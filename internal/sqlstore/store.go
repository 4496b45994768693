// Package sqlstore implements payment.Store over database/sql. Amounts are
// stored as decimal text so no precision is lost, and every write is a
// version-conditioned statement whose affected row count decides between
// commit and conflict.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flemzord/tabkeeper/internal/payment"
)

var _ payment.Store = (*Store)(nil)

const stateColumns = `session_id, balance, tab_total, payment_id, payment_status,
	idempotency_key, link_amount, version, needs_reconciliation, updated_at`

// Store is a payment.Store backed by a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

// New wraps db. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Load returns the record for sessionID or payment.ErrNotFound.
func (s *Store) Load(ctx context.Context, sessionID string) (payment.State, error) {
	q := s.dialect.rebind(`SELECT ` + stateColumns + ` FROM payment_states WHERE session_id = ?`)
	st, err := scanState(s.db.QueryRowContext(ctx, q, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return payment.State{}, payment.ErrNotFound
	}
	if err != nil {
		return payment.State{}, fmt.Errorf("sqlstore: load %s: %w", sessionID, err)
	}
	return st, nil
}

// Commit performs the versioned compare-and-write.
func (s *Store) Commit(ctx context.Context, expected int64, next payment.State) (payment.State, error) {
	next.Version = expected + 1
	if err := next.Validate(); err != nil {
		return payment.State{}, err
	}
	next.UpdatedAt = s.now().UTC()

	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		q := s.dialect.rebind(`INSERT INTO payment_states (` + stateColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id) DO NOTHING`)
		res, err = s.db.ExecContext(ctx, q,
			next.SessionID, next.Balance.String(), next.TabTotal.String(), next.PaymentID,
			string(next.Status), next.IdempotencyKey, next.LinkAmount.String(), next.Version,
			next.NeedsReconciliation, next.UpdatedAt.UnixNano())
	} else {
		q := s.dialect.rebind(`UPDATE payment_states SET
			balance = ?, tab_total = ?, payment_id = ?, payment_status = ?,
			idempotency_key = ?, link_amount = ?, version = ?, needs_reconciliation = ?, updated_at = ?
			WHERE session_id = ? AND version = ?`)
		res, err = s.db.ExecContext(ctx, q,
			next.Balance.String(), next.TabTotal.String(), next.PaymentID, string(next.Status),
			next.IdempotencyKey, next.LinkAmount.String(), next.Version, next.NeedsReconciliation,
			next.UpdatedAt.UnixNano(),
			next.SessionID, expected)
	}
	if err != nil {
		return payment.State{}, fmt.Errorf("sqlstore: commit %s: %w", next.SessionID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return payment.State{}, fmt.Errorf("sqlstore: commit %s: %w", next.SessionID, err)
	}
	if n == 0 {
		return payment.State{}, payment.ErrVersionConflict
	}
	return next, nil
}

// Delete removes the record. It is a no-op if none exists.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	q := s.dialect.rebind(`DELETE FROM payment_states WHERE session_id = ?`)
	if _, err := s.db.ExecContext(ctx, q, sessionID); err != nil {
		return fmt.Errorf("sqlstore: delete %s: %w", sessionID, err)
	}
	return nil
}

// Flagged returns records awaiting reconciliation ordered by session id.
func (s *Store) Flagged(ctx context.Context) ([]payment.State, error) {
	q := s.dialect.rebind(`SELECT ` + stateColumns + ` FROM payment_states
		WHERE needs_reconciliation = ? ORDER BY session_id`)
	rows, err := s.db.QueryContext(ctx, q, true)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: flagged: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []payment.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: flagged: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: flagged: %w", err)
	}
	return out, nil
}

// Prune removes unflagged records whose last write is older than maxIdle.
func (s *Store) Prune(ctx context.Context, maxIdle time.Duration) (int, error) {
	cutoff := s.now().Add(-maxIdle).UnixNano()
	q := s.dialect.rebind(`DELETE FROM payment_states WHERE updated_at < ? AND needs_reconciliation = ?`)
	res, err := s.db.ExecContext(ctx, q, cutoff, false)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: prune: %w", err)
	}
	return int(n), nil
}

// Len returns the number of stored records.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_states`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: count: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (payment.State, error) {
	var (
		st              payment.State
		balance, tab    string
		linkAmount      string
		status          string
		updatedUnixNano int64
	)
	if err := row.Scan(&st.SessionID, &balance, &tab, &st.PaymentID, &status,
		&st.IdempotencyKey, &linkAmount, &st.Version, &st.NeedsReconciliation, &updatedUnixNano); err != nil {
		return payment.State{}, err
	}

	var err error
	if st.Balance, err = decimal.NewFromString(balance); err != nil {
		return payment.State{}, fmt.Errorf("decoding balance %q: %w", balance, err)
	}
	if st.TabTotal, err = decimal.NewFromString(tab); err != nil {
		return payment.State{}, fmt.Errorf("decoding tab_total %q: %w", tab, err)
	}
	if st.LinkAmount, err = decimal.NewFromString(linkAmount); err != nil {
		return payment.State{}, fmt.Errorf("decoding link_amount %q: %w", linkAmount, err)
	}
	st.Status = payment.Status(status)
	st.UpdatedAt = time.Unix(0, updatedUnixNano).UTC()
	return st, nil
}
