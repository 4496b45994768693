package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/flemzord/tabkeeper/internal/checkout"
)

// EventSnapshot is the first message of every stream: the session's tab
// at subscription time.
const EventSnapshot checkout.EventType = "snapshot"

const eventWriteTimeout = 5 * time.Second

// handleEvents streams the session's events over a WebSocket until the
// client leaves or the server stops. Messages from the client are ignored.
func (m *Module) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := sessionFrom(r)
		if err != nil {
			writeEnvelope(w, nil, err)
			return
		}
		view, err := m.svc.Tab(r.Context(), sc)
		if err != nil {
			writeEnvelope(w, nil, err)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			m.logger.Warn("event stream upgrade failed", append(sc.LogAttrs(), "error", err)...)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusInternalError, "unexpected close") }()

		// Subscribe before the snapshot so no change slips between them.
		events, cancel := m.svc.Bus().Subscribe(sc.ID, m.config.EventBuffer)
		defer cancel()

		m.metrics.StreamOpened()
		defer m.metrics.StreamClosed()
		m.logger.Debug("event stream opened", sc.LogAttrs()...)

		ctx := conn.CloseRead(r.Context())
		snapshot := checkout.Event{
			Type:      EventSnapshot,
			SessionID: view.SessionID,
			Balance:   view.Balance,
			TabTotal:  view.TabTotal,
			Status:    view.Status,
			Version:   view.Version,
			PaymentID: view.PaymentID,
			At:        time.Now(),
		}
		if err := writeEvent(ctx, conn, snapshot); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeEvent(ctx, conn, ev); err != nil {
					m.logger.Debug("event stream write failed", append(sc.LogAttrs(), "error", err)...)
					return
				}
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev checkout.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
