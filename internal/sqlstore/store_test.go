package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/payment/paymenttest"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(openTestDB(t), SQLite)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestStore_SQLiteConformance(t *testing.T) {
	paymenttest.RunStoreSuite(t, func(t *testing.T) payment.Store {
		return newTestStore(t)
	})
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var v int
	if err := s.DB().QueryRow("SELECT MAX(version) FROM schema_version").Scan(&v); err != nil {
		t.Fatal(err)
	}
	if v != schemaVersion {
		t.Errorf("schema version = %d, want %d", v, schemaVersion)
	}
}

func TestStore_MigratesVersionOneRecords(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t), SQLite)

	if _, err := s.DB().Exec("CREATE TABLE schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		t.Fatal(err)
	}
	for _, stmt := range migrations[0] {
		if _, err := s.DB().Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.DB().Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DB().Exec(`INSERT INTO payment_states
		(session_id, balance, tab_total, payment_id, payment_status, idempotency_key, version, needs_reconciliation, updated_at)
		VALUES ('s1', '990', '10', 'plink_old', 'processing', 'k1', 2, FALSE, 0)`); err != nil {
		t.Fatal(err)
	}

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	got, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.PaymentID != "plink_old" || !got.LinkAmount.IsZero() || !got.LinkCovers() {
		t.Errorf("migrated record = %+v", got)
	}

	next := got
	next.LinkAmount = got.TabTotal
	if _, err := s.Commit(ctx, got.Version, next); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Load(ctx, "s1")
	if !got.LinkAmount.Equal(got.TabTotal) {
		t.Errorf("link amount = %s, want %s", got.LinkAmount, got.TabTotal)
	}
}

func TestStore_PersistsAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	open := func() *Store {
		db, err := sql.Open("sqlite", path)
		if err != nil {
			t.Fatal(err)
		}
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })
		s := New(db, SQLite)
		if err := s.Migrate(ctx); err != nil {
			t.Fatal(err)
		}
		return s
	}

	first := open()
	st := payment.NewState("s1", payment.DefaultBalance)
	st.NeedsReconciliation = true
	if _, err := first.Commit(ctx, 0, st); err != nil {
		t.Fatal(err)
	}
	_ = first.DB().Close()

	second := open()
	got, err := second.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.NeedsReconciliation || got.Version != 1 {
		t.Errorf("reloaded = %+v", got)
	}
}

func TestDialect_Rebind(t *testing.T) {
	t.Parallel()

	q := "UPDATE t SET a = ?, b = ? WHERE c = ?"
	if got := SQLite.rebind(q); got != q {
		t.Errorf("sqlite rebind = %q", got)
	}
	want := "UPDATE t SET a = $1, b = $2 WHERE c = $3"
	if got := Postgres.rebind(q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}
