package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/shopspring/decimal"

	"github.com/flemzord/tabkeeper/internal/checkout"
	"github.com/flemzord/tabkeeper/internal/session"
)

func dialEvents(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + id + "/events"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + testToken}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) checkout.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ev checkout.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	return ev
}

func TestEvents_SnapshotThenChanges(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, Config{})
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	conn := dialEvents(t, srv, "tg:5")

	snap := readEvent(t, conn)
	if snap.Type != EventSnapshot || snap.SessionID != "tg:5" || snap.Balance != "1000.00" {
		t.Fatalf("snapshot = %+v", snap)
	}

	sc, _ := session.New("tg:5")
	if _, err := e.svc.AddItem(context.Background(), sc, checkout.Item{Name: "tea", Price: decimal.RequireFromString("4.25")}); err != nil {
		t.Fatal(err)
	}
	other, _ := session.New("tg:6")
	if _, err := e.svc.AddItem(context.Background(), other, checkout.Item{Name: "tea", Price: decimal.RequireFromString("1")}); err != nil {
		t.Fatal(err)
	}
	if err := e.svc.Reset(context.Background(), sc); err != nil {
		t.Fatal(err)
	}

	ev := readEvent(t, conn)
	if ev.Type != checkout.EventItemAdded || ev.TabTotal != "4.25" || ev.Version != 1 {
		t.Errorf("first event = %+v", ev)
	}
	// Events of tg:6 are not delivered here.
	if ev := readEvent(t, conn); ev.Type != checkout.EventSessionReset || ev.SessionID != "tg:5" {
		t.Errorf("second event = %+v", ev)
	}
	if n := e.module.metrics.Snapshot().Streams; n != 1 {
		t.Errorf("streams = %d, want 1", n)
	}
}

func TestEvents_InvalidSession(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, Config{})
	rr := e.do(t, http.MethodGet, "/ws/sessions/-bad/events", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnprocessableEntity)
	}
}
