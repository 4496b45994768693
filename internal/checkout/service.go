// Package checkout composes the payment core into the operations exposed
// to conversations: ordering items, starting and settling a checkout,
// completing and resetting a session, gateway webhooks and operator
// reconciliation. Every state change is published on the event bus.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/tabkeeper/internal/metrics"
	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/paygate"
	"github.com/flemzord/tabkeeper/internal/security"
	"github.com/flemzord/tabkeeper/internal/session"
)

const tracerName = "github.com/flemzord/tabkeeper/internal/checkout"

// ErrNoGateway indicates the service was built without a gateway client.
var ErrNoGateway = errors.New("checkout: no gateway client configured")

// Item is one ordered line.
type Item struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// OrderResult is returned by AddItem.
type OrderResult struct {
	Item     string         `json:"item"`
	Price    string         `json:"price"`
	Balance  string         `json:"balance"`
	TabTotal string         `json:"tab_total"`
	Status   payment.Status `json:"payment_status"`
	Version  int64          `json:"version"`
}

// CheckoutResult is returned by StartCheckout.
type CheckoutResult struct {
	Link                paygate.PaymentLink `json:"link"`
	Amount              string              `json:"amount"`
	Session             payment.View        `json:"session"`
	NeedsReconciliation bool                `json:"needs_reconciliation"`
	// Resumed is true when an already recorded link was returned.
	Resumed bool `json:"resumed"`
}

// SettleResult is returned by Settle.
type SettleResult struct {
	Poll    paygate.PollResult `json:"poll"`
	Session payment.View       `json:"session"`
}

// WebhookEvent is a gateway push about one payment.
type WebhookEvent struct {
	PaymentID string               `json:"payment_id"`
	SessionID string               `json:"session_id"`
	Status    paygate.RemoteStatus `json:"status"`
}

// ReconciliationReport lists sessions awaiting an operator.
type ReconciliationReport struct {
	Flagged []payment.View        `json:"flagged"`
	Pending []payment.PendingFlag `json:"pending"`
}

// Options holds the collaborators of a Service.
type Options struct {
	Processor  *payment.Processor
	Reconciler *payment.Reconciler
	Gateway    *paygate.Client
	Bus        *Bus
	Limiter    *security.RateLimiter
	Audit      *security.AuditLogger
	Metrics    *metrics.Payments
	Logger     *slog.Logger
	Tracer     trace.Tracer

	Link paygate.LinkOptions
	Poll paygate.PollOptions

	// SessionTTL bounds how long an untouched record is kept. Zero keeps
	// records forever.
	SessionTTL time.Duration
	Now        func() time.Time
}

type cachedLink struct {
	link   paygate.PaymentLink
	amount decimal.Decimal
}

// Service is the checkout facade over the payment core.
type Service struct {
	proc    *payment.Processor
	recon   *payment.Reconciler
	gateway *paygate.Client
	bus     *Bus
	limiter *security.RateLimiter
	audit   *security.AuditLogger
	metrics *metrics.Payments
	logger  *slog.Logger
	tracer  trace.Tracer
	link    paygate.LinkOptions
	poll    paygate.PollOptions
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	links map[string]cachedLink
}

// NewService creates a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Processor == nil {
		return nil, payment.ErrNoStore
	}
	if opts.Gateway == nil {
		return nil, ErrNoGateway
	}
	if opts.Reconciler == nil {
		opts.Reconciler = payment.NewReconciler(opts.Processor, payment.ReconcilerConfig{
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
		})
	}
	if opts.Bus == nil {
		opts.Bus = NewBus()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		proc:    opts.Processor,
		recon:   opts.Reconciler,
		gateway: opts.Gateway,
		bus:     opts.Bus,
		limiter: opts.Limiter,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
		link:    opts.Link,
		poll:    opts.Poll,
		ttl:     opts.SessionTTL,
		now:     opts.Now,
		links:   make(map[string]cachedLink),
	}, nil
}

// Bus returns the event bus.
func (s *Service) Bus() *Bus { return s.bus }

// Processor returns the order processor.
func (s *Service) Processor() *payment.Processor { return s.proc }

// Reconciler returns the reconciler.
func (s *Service) Reconciler() *payment.Reconciler { return s.recon }

// Gateway returns the gateway client.
func (s *Service) Gateway() *paygate.Client { return s.gateway }

// SessionTTL returns the idle retention of payment records.
func (s *Service) SessionTTL() time.Duration { return s.ttl }

// Tab returns the session's current record.
func (s *Service) Tab(ctx context.Context, sc session.Context) (payment.View, error) {
	if err := sc.Validate(); err != nil {
		return payment.View{}, err
	}
	st, err := s.proc.Load(ctx, sc.ID)
	if err != nil {
		return payment.View{}, err
	}
	return st.View(), nil
}

// AddItem charges item to the session's tab.
func (s *Service) AddItem(ctx context.Context, sc session.Context, item Item) (OrderResult, error) {
	if err := sc.Validate(); err != nil {
		return OrderResult{}, err
	}
	if err := s.limit(security.KindOrder, sc); err != nil {
		return OrderResult{}, err
	}

	rc, err := s.proc.AtomicOrderUpdate(ctx, sc, item.Price)
	if err != nil {
		return OrderResult{}, err
	}

	st := payment.State{
		SessionID: rc.SessionID, Balance: rc.Balance, TabTotal: rc.TabTotal,
		Status: rc.Status, Version: rc.Version,
	}
	s.bus.Publish(eventOf(EventItemAdded, st, s.now()))
	return OrderResult{
		Item:     item.Name,
		Price:    item.Price.StringFixed(2),
		Balance:  rc.Balance.StringFixed(2),
		TabTotal: rc.TabTotal.StringFixed(2),
		Status:   rc.Status,
		Version:  rc.Version,
	}, nil
}

// StartCheckout creates a payment link for the session's tab and records
// it on the session. The gateway is called without holding the session
// lock. While a checkout is processing for the same amount, the recorded
// link is returned again.
func (s *Service) StartCheckout(ctx context.Context, sc session.Context) (CheckoutResult, error) {
	if err := sc.Validate(); err != nil {
		return CheckoutResult{}, err
	}
	if err := s.limit(security.KindCheckout, sc); err != nil {
		return CheckoutResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "checkout.start", trace.WithAttributes(attribute.String("session_id", sc.ID)))
	defer span.End()

	st, err := s.proc.Load(ctx, sc.ID)
	if err != nil {
		return CheckoutResult{}, spanErr(span, err)
	}
	switch {
	case st.Status == payment.StatusCompleted:
		return CheckoutResult{}, spanErr(span, fmt.Errorf("checkout on session %s: %w", sc.ID, payment.ErrSessionSettled))
	case !st.TabTotal.IsPositive():
		return CheckoutResult{}, spanErr(span, fmt.Errorf("checkout on session %s: %w", sc.ID, payment.ErrEmptyTab))
	}

	if cached, ok := s.cached(sc.ID); ok && st.Status == payment.StatusProcessing &&
		st.PaymentID == cached.link.PaymentID && cached.amount.Equal(st.TabTotal) {
		span.SetAttributes(attribute.Bool("checkout.resumed", true))
		return CheckoutResult{
			Link:    cached.link,
			Amount:  cached.amount.StringFixed(2),
			Session: st.View(),
			Resumed: true,
		}, nil
	}

	amount := st.TabTotal
	key := s.gateway.GenerateIdempotencyKey(sc.ID)
	link, err := s.gateway.CreatePaymentLink(ctx, paygate.LinkRequest{
		SessionID:      sc.ID,
		Amount:         amount,
		Description:    "Tab for session " + sc.ID,
		IdempotencyKey: key,
	}, s.link)
	if err != nil {
		return CheckoutResult{}, spanErr(span, err)
	}
	if link.Simulated {
		s.audit.Log(security.AuditEvent{
			Type:      security.EventPaymentFallback,
			SessionID: sc.ID,
			PaymentID: link.PaymentID,
			Amount:    amount.StringFixed(2),
			Detail:    link.FallbackReason,
		})
	}
	if !payment.ValidPaymentID(link.PaymentID) {
		s.logger.Error("payment gateway returned a malformed payment id", append(sc.LogAttrs(),
			"payment_id", link.PaymentID,
			"amount", amount.StringFixed(2),
		)...)
	}
	s.remember(sc.ID, cachedLink{link: link, amount: amount})

	recorded, err := s.recon.RecordLink(ctx, sc, payment.LinkRecord{
		PaymentID:      link.PaymentID,
		IdempotencyKey: key,
		Amount:         amount,
		Simulated:      link.Simulated,
	})
	flagged := errors.Is(err, payment.ErrReconciliationRequired)
	if err != nil && !flagged {
		return CheckoutResult{}, spanErr(span, err)
	}

	if flagged {
		span.AddEvent("reconciliation_required")
		s.audit.Log(security.AuditEvent{
			Type:      security.EventReconciliationRequired,
			SessionID: sc.ID,
			PaymentID: link.PaymentID,
			Amount:    amount.StringFixed(2),
			Detail:    err.Error(),
		})
		if recorded.SessionID == "" {
			recorded = st
		}
		recorded.NeedsReconciliation = true
		s.bus.Publish(s.linkEvent(EventReconciliationRequired, recorded, link))
	}

	s.audit.Log(security.AuditEvent{
		Type:      security.EventCheckoutStarted,
		SessionID: sc.ID,
		PaymentID: link.PaymentID,
		Amount:    amount.StringFixed(2),
		Metadata:  map[string]string{"simulated": fmt.Sprint(link.Simulated)},
	})
	s.bus.Publish(s.linkEvent(EventCheckoutStarted, recorded, link))

	span.SetAttributes(
		attribute.String("payment_id", link.PaymentID),
		attribute.Bool("simulated", link.Simulated),
		attribute.Bool("needs_reconciliation", flagged),
	)
	s.logger.Info("checkout started", append(sc.LogAttrs(),
		"payment_id", link.PaymentID,
		"amount", amount.StringFixed(2),
		"simulated", link.Simulated,
		"needs_reconciliation", flagged,
	)...)

	return CheckoutResult{
		Link:                link,
		Amount:              amount.StringFixed(2),
		Session:             recorded.View(),
		NeedsReconciliation: flagged,
	}, nil
}

// Settle polls the gateway for the session's payment and completes the
// session when it succeeded. A failed or timed out poll leaves the record
// untouched. Settling a completed session returns it as is. A tab that grew
// after the link was issued is refused with payment.ErrTabChanged.
func (s *Service) Settle(ctx context.Context, sc session.Context) (SettleResult, error) {
	if err := sc.Validate(); err != nil {
		return SettleResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "checkout.settle", trace.WithAttributes(attribute.String("session_id", sc.ID)))
	defer span.End()

	st, err := s.proc.Load(ctx, sc.ID)
	if err != nil {
		return SettleResult{}, spanErr(span, err)
	}
	if st.Status == payment.StatusCompleted {
		return SettleResult{Poll: paygate.PollResult{Status: paygate.PollSucceeded}, Session: st.View()}, nil
	}

	paymentID := st.PaymentID
	if paymentID == "" && st.NeedsReconciliation {
		// The link exists at the gateway but was never recorded.
		if cached, ok := s.cached(sc.ID); ok {
			paymentID = cached.link.PaymentID
		}
	}
	if paymentID == "" {
		return SettleResult{}, spanErr(span, fmt.Errorf("settle on session %s: %w", sc.ID, payment.ErrNoPayment))
	}
	span.SetAttributes(attribute.String("payment_id", paymentID))
	if !st.LinkCovers() {
		return SettleResult{Session: st.View()}, spanErr(span, s.tabChanged(st, paymentID))
	}

	poll, err := s.gateway.CheckPaymentStatus(ctx, paymentID, s.poll)
	if err != nil {
		s.bus.Publish(eventOf(EventPaymentTimeout, st, s.now()))
		return SettleResult{Poll: poll, Session: st.View()},
			spanErr(span, fmt.Errorf("%w: session %s: %w", payment.ErrPaymentTimeout, sc.ID, err))
	}

	switch poll.Status {
	case paygate.PollSucceeded:
		view, err := s.complete(ctx, sc, paymentID)
		return SettleResult{Poll: poll, Session: view}, spanErr(span, err)
	case paygate.PollFailed:
		s.bus.Publish(eventOf(EventPaymentFailed, st, s.now()))
		return SettleResult{Poll: poll, Session: st.View()},
			spanErr(span, fmt.Errorf("%w: session %s payment %s", payment.ErrPaymentFailed, sc.ID, paymentID))
	default:
		s.bus.Publish(eventOf(EventPaymentTimeout, st, s.now()))
		return SettleResult{Poll: poll, Session: st.View()},
			spanErr(span, fmt.Errorf("%w: session %s payment %s after %d polls",
				payment.ErrPaymentTimeout, sc.ID, paymentID, poll.Attempts))
	}
}

// CompletePayment marks the session paid without polling.
func (s *Service) CompletePayment(ctx context.Context, sc session.Context) (payment.View, error) {
	if err := sc.Validate(); err != nil {
		return payment.View{}, err
	}
	st, err := s.proc.Load(ctx, sc.ID)
	if err != nil {
		return payment.View{}, err
	}
	return s.complete(ctx, sc, st.PaymentID)
}

func (s *Service) complete(ctx context.Context, sc session.Context, paymentID string) (payment.View, error) {
	rc, err := s.proc.AtomicPaymentComplete(ctx, sc)
	if err != nil {
		return payment.View{}, err
	}
	s.forget(sc.ID)

	st, err := s.proc.Load(ctx, sc.ID)
	if err != nil {
		st = payment.State{SessionID: rc.SessionID, Balance: rc.Balance, TabTotal: rc.TabTotal, Status: rc.Status, Version: rc.Version}
	}
	s.audit.Log(security.AuditEvent{
		Type:      security.EventPaymentCompleted,
		SessionID: sc.ID,
		PaymentID: paymentID,
	})
	s.bus.Publish(eventOf(EventPaymentCompleted, st, s.now()))
	return st.View(), nil
}

// tabChanged reports a payment whose link no longer covers the tab. The
// record is left as is so the operator can see both amounts.
func (s *Service) tabChanged(st payment.State, paymentID string) error {
	s.logger.Warn("payment link does not cover the tab",
		"session_id", st.SessionID,
		"payment_id", paymentID,
		"link_amount", st.LinkAmount.StringFixed(2),
		"tab_total", st.TabTotal.StringFixed(2),
	)
	s.bus.Publish(eventOf(EventPaymentFailed, st, s.now()))
	return fmt.Errorf("%w: session %s payment %s covers %s, tab is %s", payment.ErrTabChanged,
		st.SessionID, paymentID, st.LinkAmount.StringFixed(2), st.TabTotal.StringFixed(2))
}

// Reset deletes the session's record and releases its lock.
func (s *Service) Reset(ctx context.Context, sc session.Context) error {
	if err := s.proc.Reset(ctx, sc); err != nil {
		return err
	}
	s.forget(sc.ID)
	s.audit.Log(security.AuditEvent{Type: security.EventSessionReset, SessionID: sc.ID})
	s.bus.Publish(Event{Type: EventSessionReset, SessionID: sc.ID, Status: payment.StatusPending, At: s.now()})
	return nil
}

// HandleWebhook applies a gateway push. A succeeded payment completes
// the session it belongs to; other statuses are only published.
func (s *Service) HandleWebhook(ctx context.Context, ev WebhookEvent) (payment.View, error) {
	sc, err := session.New(ev.SessionID)
	if err != nil {
		return payment.View{}, err
	}
	if !payment.ValidPaymentID(ev.PaymentID) {
		return payment.View{}, fmt.Errorf("%w: malformed payment id %q", payment.ErrInvalidState, ev.PaymentID)
	}
	if err := s.limit(security.KindWebhook, sc); err != nil {
		return payment.View{}, err
	}

	st, err := s.proc.Load(ctx, sc.ID)
	if err != nil {
		return payment.View{}, err
	}
	if st.Version == 0 {
		return payment.View{}, fmt.Errorf("webhook for session %s: %w", sc.ID, payment.ErrNotFound)
	}
	if st.PaymentID != ev.PaymentID && !(st.PaymentID == "" && st.NeedsReconciliation) {
		return payment.View{}, fmt.Errorf("%w: webhook payment %s does not match session payment %q",
			payment.ErrInvalidState, ev.PaymentID, st.PaymentID)
	}
	if ev.Status == paygate.RemoteSucceeded && !st.LinkCovers() {
		return st.View(), s.tabChanged(st, ev.PaymentID)
	}

	s.audit.Log(security.AuditEvent{
		Type:      security.EventWebhook,
		SessionID: sc.ID,
		PaymentID: ev.PaymentID,
		Detail:    string(ev.Status),
	})

	switch ev.Status {
	case paygate.RemoteSucceeded:
		return s.complete(ctx, sc, ev.PaymentID)
	case paygate.RemoteFailed:
		s.bus.Publish(eventOf(EventPaymentFailed, st, s.now()))
		return st.View(), nil
	case paygate.RemotePending:
		return st.View(), nil
	default:
		return payment.View{}, fmt.Errorf("%w: unknown webhook status %q", payment.ErrInvalidState, ev.Status)
	}
}

// Reconciliation reports flagged sessions and flags still parked in memory.
func (s *Service) Reconciliation(ctx context.Context) (ReconciliationReport, error) {
	flagged, err := s.recon.Flagged(ctx)
	if err != nil {
		return ReconciliationReport{}, err
	}
	views := make([]payment.View, len(flagged))
	for i, st := range flagged {
		views[i] = st.View()
	}
	return ReconciliationReport{Flagged: views, Pending: s.recon.Pending()}, nil
}

// Resolve clears the session's reconciliation flag.
func (s *Service) Resolve(ctx context.Context, sc session.Context, res payment.Resolution) (payment.View, error) {
	st, err := s.recon.Resolve(ctx, sc, res)
	if err != nil {
		return payment.View{}, err
	}
	s.audit.Log(security.AuditEvent{
		Type:      security.EventReconciliationResolved,
		SessionID: sc.ID,
		PaymentID: st.PaymentID,
	})
	s.bus.Publish(eventOf(EventReconciliationResolved, st, s.now()))
	return st.View(), nil
}

// SweepLocks drops session locks idle for longer than idle.
func (s *Service) SweepLocks(idle time.Duration) int {
	return s.proc.Locks().Sweep(idle) + s.limiter.Sweep()
}

// ExpireStates prunes records untouched for longer than the session TTL.
// Flagged records are always kept.
func (s *Service) ExpireStates(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	return s.proc.Store().Prune(ctx, s.ttl)
}

// SweepReconciliation persists parked flags and returns how many landed
// along with the number of sessions currently flagged.
func (s *Service) SweepReconciliation(ctx context.Context) (applied, flagged int, err error) {
	applied, err = s.recon.Sweep(ctx)
	states, ferr := s.recon.Flagged(ctx)
	if ferr != nil {
		return applied, 0, errors.Join(err, ferr)
	}
	return applied, len(states), err
}

func (s *Service) limit(kind string, sc session.Context) error {
	if err := s.limiter.Allow(kind, sc.ID); err != nil {
		s.audit.Log(security.AuditEvent{Type: security.EventRateLimit, SessionID: sc.ID, Detail: kind})
		s.logger.Warn("rate limited", append(sc.LogAttrs(), "kind", kind)...)
		return err
	}
	return nil
}

func (s *Service) linkEvent(typ EventType, st payment.State, link paygate.PaymentLink) Event {
	ev := eventOf(typ, st, s.now())
	ev.PaymentID = link.PaymentID
	ev.LinkURL = link.URL
	return ev
}

func (s *Service) cached(sessionID string) (cachedLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.links[sessionID]
	return c, ok
}

func (s *Service) remember(sessionID string, c cachedLink) {
	s.mu.Lock()
	s.links[sessionID] = c
	s.mu.Unlock()
}

func (s *Service) forget(sessionID string) {
	s.mu.Lock()
	delete(s.links, sessionID)
	s.mu.Unlock()
}

func spanErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CodeOf(err)))
	}
	return err
}
