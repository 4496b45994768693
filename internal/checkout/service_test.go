package checkout

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/paygate"
	"github.com/flemzord/tabkeeper/internal/paygate/paygatetest"
	"github.com/flemzord/tabkeeper/internal/security"
	"github.com/flemzord/tabkeeper/internal/security/securitytest"
	"github.com/flemzord/tabkeeper/internal/session"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	svc     *Service
	store   payment.Store
	backend *paygatetest.Backend
	clock   *paygatetest.Clock
	events  func() []security.AuditEvent
}

type harnessOpts struct {
	store   payment.Store
	limits  security.RateLimitConfig
	balance string
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	store := opts.store
	if store == nil {
		store = payment.NewMemoryStore()
	}
	cfg := payment.Config{Store: store, Locks: session.NewRegistry()}
	if opts.balance != "" {
		cfg.InitialBalance = dec(opts.balance)
	}
	proc, err := payment.NewProcessor(cfg)
	if err != nil {
		t.Fatal(err)
	}
	recon := payment.NewReconciler(proc, payment.ReconcilerConfig{
		Sleep: func(context.Context, time.Duration) error { return nil },
	})

	backend := &paygatetest.Backend{}
	clock := paygatetest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	gw, err := paygate.NewClient(paygate.Config{Backend: backend, Clock: clock})
	if err != nil {
		t.Fatal(err)
	}

	audit, events := securitytest.NewTestAuditLogger()
	svc, err := NewService(Options{
		Processor:  proc,
		Reconciler: recon,
		Gateway:    gw,
		Limiter:    security.NewRateLimiter(opts.limits),
		Audit:      audit,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &harness{svc: svc, store: store, backend: backend, clock: clock, events: events}
}

func sc(t *testing.T, id string) session.Context {
	t.Helper()
	c, err := session.New(id)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func wantCode(t *testing.T, err error, code payment.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", code)
	}
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(%v) = %s, want %s", err, got, code)
	}
}

func TestService_AddItemAndTab(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	s := sc(t, "tg:1")

	events, cancel := h.svc.Bus().Subscribe(s.ID, 4)
	defer cancel()

	res, err := h.svc.AddItem(ctx, s, Item{Name: "espresso", Price: dec("3.50")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Balance != "996.50" || res.TabTotal != "3.50" || res.Version != 1 || res.Item != "espresso" {
		t.Errorf("result = %+v", res)
	}

	select {
	case ev := <-events:
		if ev.Type != EventItemAdded || ev.TabTotal != "3.50" || ev.Version != 1 {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no item_added event")
	}

	view, err := h.svc.Tab(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if view.TabTotal != "3.50" || view.Status != payment.StatusPending {
		t.Errorf("tab = %+v", view)
	}
}

func TestService_AddItemInsufficientFunds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{balance: "10.00"})
	ctx := context.Background()
	s := sc(t, "tg:2")

	_, err := h.svc.AddItem(ctx, s, Item{Name: "steak", Price: dec("10.01")})
	wantCode(t, err, payment.CodeInsufficientFunds)

	view, _ := h.svc.Tab(ctx, s)
	if view.Balance != "10.00" || view.TabTotal != "0.00" || view.Version != 0 {
		t.Errorf("record changed: %+v", view)
	}
}

func TestService_AddItemRateLimited(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{limits: security.RateLimitConfig{OrdersPerMin: 2}})
	ctx := context.Background()
	s := sc(t, "tg:3")

	for range 2 {
		if _, err := h.svc.AddItem(ctx, s, Item{Name: "water", Price: dec("1")}); err != nil {
			t.Fatal(err)
		}
	}
	_, err := h.svc.AddItem(ctx, s, Item{Name: "water", Price: dec("1")})
	wantCode(t, err, payment.CodeRateLimited)

	if got := securitytest.Events(h.events(), security.EventRateLimit); len(got) != 1 {
		t.Errorf("rate limit audit events = %d", len(got))
	}
	if _, err := h.svc.AddItem(ctx, sc(t, "tg:other"), Item{Name: "water", Price: dec("1")}); err != nil {
		t.Errorf("other session limited: %v", err)
	}
}

func TestService_InvalidSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	_, err := h.svc.AddItem(context.Background(), session.Context{ID: ""}, Item{Price: dec("1")})
	wantCode(t, err, payment.CodeInvalidSession)
}

func TestService_StartCheckoutEmptyTab(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	_, err := h.svc.StartCheckout(context.Background(), sc(t, "tg:4"))
	if !errors.Is(err, payment.ErrEmptyTab) {
		t.Fatalf("err = %v", err)
	}
	wantCode(t, err, payment.CodePaymentFailed)
	if _, create, _ := h.backend.Calls(); create != 0 {
		t.Errorf("gateway called %d times for an empty tab", create)
	}
}

func TestService_StartCheckoutRecordsLinkAndResumes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	s := sc(t, "tg:5")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "pizza", Price: dec("12.5")})

	res, err := h.svc.StartCheckout(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if res.Link.PaymentID != "plink_test" || res.Link.Simulated || res.Amount != "12.50" {
		t.Errorf("result = %+v", res)
	}
	if res.Session.Status != payment.StatusProcessing || res.Session.PaymentID != "plink_test" || res.NeedsReconciliation {
		t.Errorf("session = %+v", res.Session)
	}
	if reqs := h.backend.Requests; len(reqs) != 1 || !reqs[0].Amount.Equal(dec("12.50")) || reqs[0].IdempotencyKey == "" {
		t.Errorf("gateway requests = %+v", reqs)
	}

	again, err := h.svc.StartCheckout(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Resumed || again.Link.URL != res.Link.URL {
		t.Errorf("second checkout = %+v", again)
	}
	if _, create, _ := h.backend.Calls(); create != 1 {
		t.Errorf("create calls = %d, want 1", create)
	}
}

func TestService_StartCheckoutNewLinkWhenTabGrows(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	s := sc(t, "tg:6")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "a", Price: dec("5")})
	if _, err := h.svc.StartCheckout(ctx, s); err != nil {
		t.Fatal(err)
	}

	_, _ = h.svc.AddItem(ctx, s, Item{Name: "b", Price: dec("2")})
	h.backend.CreateFunc = func(context.Context, paygate.LinkRequest) (paygate.RemoteLink, error) {
		return paygate.RemoteLink{ID: "plink_second", URL: "https://pay.example.test/plink_second"}, nil
	}
	res, err := h.svc.StartCheckout(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if res.Resumed || res.Amount != "7.00" || res.Session.PaymentID != "plink_second" {
		t.Errorf("result = %+v", res)
	}
}

func TestService_StartCheckoutUnavailableGatewayFallsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.backend.ProbeFunc = func(context.Context) ([]string, error) { return nil, paygate.ErrUnavailable }
	ctx := context.Background()
	s := sc(t, "tg:7")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "tea", Price: dec("2")})

	res, err := h.svc.StartCheckout(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Link.Simulated || !strings.HasPrefix(res.Link.PaymentID, "mock_") {
		t.Errorf("link = %+v", res.Link)
	}
	if h.clock.Slept() != 0 {
		t.Errorf("slept %v before falling back", h.clock.Slept())
	}
	if got := securitytest.Events(h.events(), security.EventPaymentFallback); len(got) != 1 {
		t.Errorf("fallback audit events = %d", len(got))
	}

	// Simulated payments settle without contacting the gateway.
	out, err := h.svc.Settle(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if out.Session.Status != payment.StatusCompleted || out.Session.TabTotal != "0.00" {
		t.Errorf("settled = %+v", out.Session)
	}
	if _, _, status := h.backend.Calls(); status != 0 {
		t.Errorf("status calls = %d", status)
	}
}

func TestService_StartCheckoutRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.backend.CreateFunc = func(context.Context, paygate.LinkRequest) (paygate.RemoteLink, error) {
		return paygate.RemoteLink{}, paygate.ErrRejected
	}
	ctx := context.Background()
	s := sc(t, "tg:8")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "x", Price: dec("1")})

	_, err := h.svc.StartCheckout(ctx, s)
	wantCode(t, err, payment.CodePaymentFailed)

	view, _ := h.svc.Tab(ctx, s)
	if view.Status != payment.StatusPending || view.PaymentID != "" {
		t.Errorf("record changed: %+v", view)
	}
}

func TestService_StartCheckoutMalformedPaymentIDFlagsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.backend.CreateFunc = func(context.Context, paygate.LinkRequest) (paygate.RemoteLink, error) {
		return paygate.RemoteLink{ID: "pay-8f3a", URL: "https://pay.example.test/pay-8f3a"}, nil
	}
	ctx := context.Background()
	s := sc(t, "tg:81")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "x", Price: dec("15")})

	res, err := h.svc.StartCheckout(ctx, s)
	if err != nil {
		t.Fatalf("checkout should succeed with a flag, got %v", err)
	}
	if !res.NeedsReconciliation || res.Link.PaymentID != "pay-8f3a" || res.Link.Simulated {
		t.Errorf("result = %+v", res)
	}
	if _, create, _ := h.backend.Calls(); create != 1 {
		t.Errorf("create calls = %d, want 1", create)
	}

	got := securitytest.Events(h.events(), security.EventReconciliationRequired)
	if len(got) != 1 || got[0].PaymentID != "pay-8f3a" || got[0].Amount != "15.00" {
		t.Errorf("reconciliation audit events = %+v", got)
	}
	report, err := h.svc.Reconciliation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Flagged) != 1 || report.Flagged[0].SessionID != s.ID || report.Flagged[0].PaymentID != "" {
		t.Errorf("report = %+v", report)
	}
}

func TestService_SettleRefusesTabGrownAfterLink(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	s := sc(t, "tg:82")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "a", Price: dec("5")})
	if _, err := h.svc.StartCheckout(ctx, s); err != nil {
		t.Fatal(err)
	}
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "b", Price: dec("40")})

	_, err := h.svc.Settle(ctx, s)
	wantCode(t, err, payment.CodePaymentFailed)
	if !errors.Is(err, payment.ErrTabChanged) {
		t.Fatalf("err = %v, want ErrTabChanged", err)
	}
	if _, _, status := h.backend.Calls(); status != 0 {
		t.Errorf("status calls = %d, want none", status)
	}

	_, err = h.svc.HandleWebhook(ctx, WebhookEvent{PaymentID: "plink_test", SessionID: s.ID, Status: paygate.RemoteSucceeded})
	if !errors.Is(err, payment.ErrTabChanged) {
		t.Fatalf("webhook err = %v, want ErrTabChanged", err)
	}
	_, err = h.svc.CompletePayment(ctx, s)
	if !errors.Is(err, payment.ErrTabChanged) {
		t.Fatalf("complete err = %v, want ErrTabChanged", err)
	}

	view, _ := h.svc.Tab(ctx, s)
	if view.TabTotal != "45.00" || view.Balance != "955.00" || view.Status != payment.StatusProcessing {
		t.Errorf("record changed: %+v", view)
	}

	// A fresh checkout covers the whole tab and settles.
	h.backend.CreateFunc = func(context.Context, paygate.LinkRequest) (paygate.RemoteLink, error) {
		return paygate.RemoteLink{ID: "plink_full", URL: "https://pay.example.test/plink_full"}, nil
	}
	res, err := h.svc.StartCheckout(ctx, s)
	if err != nil || res.Amount != "45.00" {
		t.Fatalf("restart checkout = %+v, %v", res, err)
	}
	out, err := h.svc.Settle(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if out.Session.Status != payment.StatusCompleted || out.Session.TabTotal != "0.00" {
		t.Errorf("settled = %+v", out.Session)
	}
}

func TestService_SettleSucceeded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	s := sc(t, "tg:9")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "menu", Price: dec("1000.00")})
	if _, err := h.svc.StartCheckout(ctx, s); err != nil {
		t.Fatal(err)
	}

	events, cancel := h.svc.Bus().Subscribe(s.ID, 4)
	defer cancel()

	res, err := h.svc.Settle(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if res.Poll.Status != paygate.PollSucceeded {
		t.Errorf("poll = %+v", res.Poll)
	}
	if res.Session.Status != payment.StatusCompleted || res.Session.TabTotal != "0.00" || res.Session.Balance != "0.00" {
		t.Errorf("session = %+v", res.Session)
	}
	if ev := <-events; ev.Type != EventPaymentCompleted {
		t.Errorf("event = %+v", ev)
	}

	// Settled sessions take no new orders until reset.
	_, err = h.svc.AddItem(ctx, s, Item{Name: "more", Price: dec("0.01")})
	wantCode(t, err, payment.CodeInvalidSession)
	_, err = h.svc.StartCheckout(ctx, s)
	wantCode(t, err, payment.CodeInvalidSession)

	// Settling again is a no-op.
	again, err := h.svc.Settle(ctx, s)
	if err != nil || again.Session.Version != res.Session.Version {
		t.Errorf("second settle = %+v, %v", again, err)
	}
}

func TestService_SettleTimeoutLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.backend.StatusFunc = func(context.Context, string) (paygate.RemoteStatus, error) {
		return paygate.RemotePending, nil
	}
	ctx := context.Background()
	s := sc(t, "tg:10")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "x", Price: dec("4")})
	started, err := h.svc.StartCheckout(ctx, s)
	if err != nil {
		t.Fatal(err)
	}

	res, err := h.svc.Settle(ctx, s)
	wantCode(t, err, payment.CodePaymentTimeout)
	if res.Poll.Status != paygate.PollTimeout {
		t.Errorf("poll = %+v", res.Poll)
	}
	after, _ := h.svc.Tab(ctx, s)
	if after != started.Session {
		t.Errorf("state changed: %+v -> %+v", started.Session, after)
	}
}

func TestService_SettleFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.backend.StatusFunc = func(context.Context, string) (paygate.RemoteStatus, error) {
		return paygate.RemoteFailed, nil
	}
	ctx := context.Background()
	s := sc(t, "tg:11")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "x", Price: dec("4")})
	_, _ = h.svc.StartCheckout(ctx, s)

	_, err := h.svc.Settle(ctx, s)
	wantCode(t, err, payment.CodePaymentFailed)
	if !errors.Is(err, payment.ErrPaymentFailed) {
		t.Errorf("err = %v", err)
	}
}

func TestService_SettleWithoutPayment(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	_, err := h.svc.Settle(context.Background(), sc(t, "tg:12"))
	if !errors.Is(err, payment.ErrNoPayment) {
		t.Fatalf("err = %v", err)
	}
}

// processingFails refuses to record links while broken is set.
type processingFails struct {
	*payment.MemoryStore
	broken atomic.Bool
}

func (p *processingFails) Commit(ctx context.Context, expected int64, next payment.State) (payment.State, error) {
	if p.broken.Load() && next.Status == payment.StatusProcessing && !next.NeedsReconciliation {
		return payment.State{}, errors.New("disk full")
	}
	return p.MemoryStore.Commit(ctx, expected, next)
}

func TestService_CheckoutNeedsReconciliation(t *testing.T) {
	t.Parallel()

	store := &processingFails{MemoryStore: payment.NewMemoryStore()}
	h := newHarness(t, harnessOpts{store: store})
	ctx := context.Background()
	s := sc(t, "tg:13")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "x", Price: dec("9.99")})
	store.broken.Store(true)

	res, err := h.svc.StartCheckout(ctx, s)
	if err != nil {
		t.Fatalf("checkout should succeed with a flag, got %v", err)
	}
	if !res.NeedsReconciliation || res.Link.PaymentID != "plink_test" {
		t.Errorf("result = %+v", res)
	}
	if got := securitytest.Events(h.events(), security.EventReconciliationRequired); len(got) != 1 {
		t.Errorf("reconciliation audit events = %d", len(got))
	}

	report, err := h.svc.Reconciliation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Flagged) != 1 || report.Flagged[0].SessionID != s.ID || report.Flagged[0].PaymentID != "" {
		t.Errorf("report = %+v", report)
	}

	// The gateway confirms the link the record never got.
	res2, err := h.svc.Settle(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Session.Status != payment.StatusCompleted || res2.Session.NeedsReconciliation {
		t.Errorf("settled = %+v", res2.Session)
	}
}

func TestService_Resolve(t *testing.T) {
	t.Parallel()

	store := &processingFails{MemoryStore: payment.NewMemoryStore()}
	h := newHarness(t, harnessOpts{store: store})
	ctx := context.Background()
	s := sc(t, "tg:14")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "x", Price: dec("1")})
	store.broken.Store(true)
	_, _ = h.svc.StartCheckout(ctx, s)
	store.broken.Store(false)

	view, err := h.svc.Resolve(ctx, s, payment.Resolution{PaymentID: "plink_test"})
	if err != nil {
		t.Fatal(err)
	}
	if view.NeedsReconciliation || view.PaymentID != "plink_test" || view.Status != payment.StatusProcessing {
		t.Errorf("resolved = %+v", view)
	}

	_, err = h.svc.Resolve(ctx, s, payment.Resolution{})
	wantCode(t, err, payment.CodeInvalidSession)
}

func TestService_HandleWebhook(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	s := sc(t, "tg:15")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "x", Price: dec("6")})
	_, _ = h.svc.StartCheckout(ctx, s)

	_, err := h.svc.HandleWebhook(ctx, WebhookEvent{PaymentID: "plink_other", SessionID: s.ID, Status: paygate.RemoteSucceeded})
	if !errors.Is(err, payment.ErrInvalidState) {
		t.Fatalf("mismatched payment err = %v", err)
	}

	view, err := h.svc.HandleWebhook(ctx, WebhookEvent{PaymentID: "plink_test", SessionID: s.ID, Status: paygate.RemotePending})
	if err != nil || view.Status != payment.StatusProcessing {
		t.Fatalf("pending webhook = %+v, %v", view, err)
	}

	view, err = h.svc.HandleWebhook(ctx, WebhookEvent{PaymentID: "plink_test", SessionID: s.ID, Status: paygate.RemoteSucceeded})
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != payment.StatusCompleted || view.TabTotal != "0.00" {
		t.Errorf("after webhook = %+v", view)
	}

	_, err = h.svc.HandleWebhook(ctx, WebhookEvent{PaymentID: "plink_test", SessionID: "tg:unknown", Status: paygate.RemoteSucceeded})
	wantCode(t, err, payment.CodeInvalidSession)
}

func TestService_ResetAndMaintenance(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	s := sc(t, "tg:16")
	_, _ = h.svc.AddItem(ctx, s, Item{Name: "x", Price: dec("6")})
	_, _ = h.svc.CompletePayment(ctx, s)

	if err := h.svc.Reset(ctx, s); err != nil {
		t.Fatal(err)
	}
	view, _ := h.svc.Tab(ctx, s)
	if view.Version != 0 || view.Balance != "1000.00" || view.Status != payment.StatusPending {
		t.Errorf("after reset = %+v", view)
	}
	if got := securitytest.Events(h.events(), security.EventSessionReset); len(got) != 1 {
		t.Errorf("reset audit events = %d", len(got))
	}

	// No TTL configured: nothing expires.
	if n, err := h.svc.ExpireStates(ctx); err != nil || n != 0 {
		t.Errorf("ExpireStates = %d, %v", n, err)
	}
	applied, flagged, err := h.svc.SweepReconciliation(ctx)
	if err != nil || applied != 0 || flagged != 0 {
		t.Errorf("SweepReconciliation = %d, %d, %v", applied, flagged, err)
	}
	_ = h.svc.SweepLocks(0)
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want payment.ErrorCode
	}{
		{payment.ErrInsufficientFunds, payment.CodeInsufficientFunds},
		{payment.ErrVersionConflict, payment.CodeConcurrentModification},
		{errors.Join(payment.ErrSessionBusy, context.DeadlineExceeded), payment.CodeConcurrentModification},
		{paygate.ErrUnavailable, payment.CodeStripeUnavailable},
		{paygate.ErrNetwork, payment.CodeNetworkError},
		{context.Canceled, payment.CodeNetworkError},
		{paygate.ErrRateLimited, payment.CodeRateLimited},
		{security.ErrRateLimited, payment.CodeRateLimited},
		{paygate.ErrRejected, payment.CodePaymentFailed},
		{session.ErrInvalidID, payment.CodeInvalidSession},
		{payment.ErrPaymentTimeout, payment.CodePaymentTimeout},
		{errors.New("anything else"), payment.CodePaymentFailed},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}

	env := Respond(nil, payment.ErrInsufficientFunds)
	if env.Status != payment.EnvelopeError || env.Error != payment.CodeInsufficientFunds || env.Message == "" {
		t.Errorf("envelope = %+v", env)
	}
	if ok := Respond("x", nil); !ok.IsOK() || ok.Result != "x" {
		t.Errorf("envelope = %+v", ok)
	}
}
