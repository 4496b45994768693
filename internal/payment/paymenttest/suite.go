// Package paymenttest provides reusable tests and doubles for
// payment.Store implementations.
package paymenttest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flemzord/tabkeeper/internal/payment"
)

// RunStoreSuite checks that a payment.Store honours the versioned
// compare-and-write contract. newStore must return an empty store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) payment.Store) {
	t.Helper()

	t.Run("LoadMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Load(context.Background(), "missing"); !errors.Is(err, payment.ErrNotFound) {
			t.Errorf("Load = %v, want ErrNotFound", err)
		}
	})

	t.Run("InsertUpdateConflict", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		st := payment.NewState("s1", payment.DefaultBalance)
		first, err := s.Commit(ctx, 0, st)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if first.Version != 1 {
			t.Errorf("version = %d, want 1", first.Version)
		}
		if _, err := s.Commit(ctx, 0, st); !errors.Is(err, payment.ErrVersionConflict) {
			t.Errorf("duplicate insert = %v, want ErrVersionConflict", err)
		}

		next := first
		next.Balance = first.Balance.Sub(decimal.RequireFromString("12.34"))
		next.TabTotal = decimal.RequireFromString("12.34")
		next.PaymentID = "plink_abc"
		next.IdempotencyKey = "s1_1767225600"
		next.Status = payment.StatusProcessing
		second, err := s.Commit(ctx, 1, next)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if second.Version != 2 {
			t.Errorf("version = %d, want 2", second.Version)
		}
		if _, err := s.Commit(ctx, 1, next); !errors.Is(err, payment.ErrVersionConflict) {
			t.Errorf("stale update = %v, want ErrVersionConflict", err)
		}

		got, err := s.Load(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(second) {
			t.Errorf("loaded %+v, want %+v", got, second)
		}
	})

	t.Run("DecimalExactness", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		st := payment.NewState("s1", decimal.RequireFromString("0.30"))
		st.TabTotal = decimal.RequireFromString("0.10").Add(decimal.RequireFromString("0.20"))
		if _, err := s.Commit(ctx, 0, st); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Load(ctx, "s1")
		if !got.TabTotal.Equal(decimal.RequireFromString("0.3")) || !got.Balance.Equal(got.TabTotal) {
			t.Errorf("amounts = %s / %s, want 0.30 / 0.30", got.Balance, got.TabTotal)
		}
	})

	t.Run("LinkAmount", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		st := payment.NewState("s1", payment.DefaultBalance)
		st.TabTotal = decimal.RequireFromString("12.50")
		st.PaymentID = "plink_1"
		st.Status = payment.StatusProcessing
		st.LinkAmount = decimal.RequireFromString("12.50")
		if _, err := s.Commit(ctx, 0, st); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Load(ctx, "s1")
		if !got.LinkAmount.Equal(st.LinkAmount) || !got.LinkCovers() {
			t.Errorf("link amount = %s, want 12.50", got.LinkAmount)
		}
	})

	t.Run("RejectsInvalidState", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		st := payment.NewState("s1", decimal.RequireFromString("-1"))
		if _, err := s.Commit(ctx, 0, st); !errors.Is(err, payment.ErrInvalidState) {
			t.Errorf("Commit = %v, want ErrInvalidState", err)
		}
		if n, _ := s.Len(ctx); n != 0 {
			t.Errorf("Len = %d, want 0", n)
		}
	})

	t.Run("ConcurrentSameVersion", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		base, err := s.Commit(ctx, 0, payment.NewState("s1", payment.DefaultBalance))
		if err != nil {
			t.Fatal(err)
		}

		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next := base
				next.TabTotal = decimal.NewFromInt(1)
				_, err := s.Commit(ctx, base.Version, next)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, payment.ErrVersionConflict):
					conflicts.Add(1)
				default:
					t.Errorf("Commit: %v", err)
				}
			}()
		}
		wg.Wait()

		if wins.Load() != 1 || conflicts.Load() != 9 {
			t.Errorf("wins = %d, conflicts = %d; want 1 and 9", wins.Load(), conflicts.Load())
		}
		got, _ := s.Load(ctx, "s1")
		if got.Version != base.Version+1 {
			t.Errorf("version = %d, want %d", got.Version, base.Version+1)
		}
	})

	t.Run("FlaggedPruneDelete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		for _, id := range []string{"c", "a", "b"} {
			st := payment.NewState(id, payment.DefaultBalance)
			st.NeedsReconciliation = id != "b"
			if _, err := s.Commit(ctx, 0, st); err != nil {
				t.Fatal(err)
			}
		}

		flagged, err := s.Flagged(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(flagged) != 2 || flagged[0].SessionID != "a" || flagged[1].SessionID != "c" {
			t.Errorf("Flagged = %+v, want a, c", flagged)
		}

		time.Sleep(5 * time.Millisecond)
		pruned, err := s.Prune(ctx, time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		if pruned != 1 {
			t.Errorf("pruned = %d, want 1", pruned)
		}

		if err := s.Delete(ctx, "a"); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(ctx, "missing"); err != nil {
			t.Errorf("Delete(missing) = %v", err)
		}
		if n, _ := s.Len(ctx); n != 1 {
			t.Errorf("Len = %d, want 1", n)
		}
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping = %v", err)
		}
	})
}
