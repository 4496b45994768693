package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/flemzord/tabkeeper/internal/checkout"
	"github.com/flemzord/tabkeeper/internal/session"
)

// Payment tool names.
const (
	GetTab          = "get_tab"
	AddItem         = "add_item"
	StartCheckout   = "start_checkout"
	SettlePayment   = "settle_payment"
	CompletePayment = "complete_payment"
	ResetSession    = "reset_session"
)

const sessionProperty = `"session_id":{"type":"string","description":"Session to act on. Ignored when the caller is bound to a session."}`

var emptySchema = json.RawMessage(`{"type":"object","properties":{` + sessionProperty + `},"additionalProperties":false}`)

var addItemSchema = json.RawMessage(`{"type":"object","properties":{` +
	`"name":{"type":"string","description":"Item ordered."},` +
	`"price":{"type":["string","number"],"description":"Item price, e.g. \"12.50\"."},` +
	sessionProperty +
	`},"required":["name","price"],"additionalProperties":false}`)

type sessionArgs struct {
	SessionID string `json:"session_id"`
}

type addItemArgs struct {
	sessionArgs
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// paymentTool adapts one checkout operation to the Tool interface. Results
// and domain errors are both returned as envelope JSON in Output.Content.
type paymentTool struct {
	name   string
	desc   string
	schema json.RawMessage
	scopes []Scope
	run    func(ctx context.Context, sc session.Context, args json.RawMessage) (any, error)
}

func (t *paymentTool) Name() string                 { return t.name }
func (t *paymentTool) Description() string          { return t.desc }
func (t *paymentTool) Schema() json.RawMessage      { return t.schema }
func (t *paymentTool) Scopes() []Scope              { return t.scopes }
func (t *paymentTool) DefaultPolicy() ApprovalLevel { return ApprovalAllow }

func (t *paymentTool) Execute(ctx context.Context, args json.RawMessage, env ExecutionEnv) (Output, error) {
	var sa sessionArgs
	if err := decodeArgs(args, &sa); err != nil {
		return Output{}, err
	}
	sc := env.Session
	if sc.ID == "" {
		sc.ID = sa.SessionID
	}

	result, err := t.run(ctx, sc, args)
	resp := checkout.Respond(result, err)
	body, err := json.Marshal(resp)
	if err != nil {
		return Output{}, fmt.Errorf("tool %s: encoding result: %w", t.name, err)
	}
	return Output{Content: string(body), IsError: !resp.IsOK()}, nil
}

// decodeArgs tolerates empty arguments and unknown fields, which tool
// callers routinely send.
func decodeArgs(args json.RawMessage, v any) error {
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	return nil
}

// PaymentTools returns the tools that operate on session tabs through svc.
func PaymentTools(svc *checkout.Service) []Tool {
	return []Tool{
		&paymentTool{
			name:   GetTab,
			desc:   "Show the session's balance, open tab and payment status.",
			schema: emptySchema,
			scopes: []Scope{ScopeReadOnly},
			run: func(ctx context.Context, sc session.Context, _ json.RawMessage) (any, error) {
				return svc.Tab(ctx, sc)
			},
		},
		&paymentTool{
			name:   AddItem,
			desc:   "Add an item to the session's tab, reserving its price from the balance.",
			schema: addItemSchema,
			scopes: []Scope{ScopeReadWrite},
			run: func(ctx context.Context, sc session.Context, args json.RawMessage) (any, error) {
				var a addItemArgs
				if err := decodeArgs(args, &a); err != nil {
					return nil, err
				}
				return svc.AddItem(ctx, sc, checkout.Item{Name: a.Name, Price: a.Price})
			},
		},
		&paymentTool{
			name:   StartCheckout,
			desc:   "Create a payment link for the whole tab.",
			schema: emptySchema,
			scopes: []Scope{ScopeReadWrite, ScopeNetwork},
			run: func(ctx context.Context, sc session.Context, _ json.RawMessage) (any, error) {
				return svc.StartCheckout(ctx, sc)
			},
		},
		&paymentTool{
			name:   SettlePayment,
			desc:   "Wait for the checkout's payment and close the tab once it succeeded.",
			schema: emptySchema,
			scopes: []Scope{ScopeReadWrite, ScopeNetwork},
			run: func(ctx context.Context, sc session.Context, _ json.RawMessage) (any, error) {
				return svc.Settle(ctx, sc)
			},
		},
		&paymentTool{
			name:   CompletePayment,
			desc:   "Mark the session paid without asking the gateway.",
			schema: emptySchema,
			scopes: []Scope{ScopeReadWrite},
			run: func(ctx context.Context, sc session.Context, _ json.RawMessage) (any, error) {
				return svc.CompletePayment(ctx, sc)
			},
		},
		&paymentTool{
			name:   ResetSession,
			desc:   "Discard the session's tab and start over with a fresh balance.",
			schema: emptySchema,
			scopes: []Scope{ScopeReadWrite},
			run: func(ctx context.Context, sc session.Context, _ json.RawMessage) (any, error) {
				if err := svc.Reset(ctx, sc); err != nil {
					return nil, err
				}
				return svc.Tab(ctx, sc)
			},
		},
	}
}

// RegisterPaymentTools registers every payment tool on r.
func RegisterPaymentTools(r *Registry, svc *checkout.Service) error {
	for _, t := range PaymentTools(svc) {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
