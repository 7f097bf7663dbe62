package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pdutra/cardex/internal/bus"
	"go.uber.org/zap"
)

// notifierStub upgrades incoming connections, acks subscribe frames and
// records the frames the client sent.
type notifierStub struct {
	upgrader websocket.Upgrader
	frames   chan frame
	conns    chan *websocket.Conn
}

func newNotifierStub() *notifierStub {
	return &notifierStub{
		frames: make(chan frame, 16),
		conns:  make(chan *websocket.Conn, 4),
	}
}

func (s *notifierStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.conns <- conn
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		s.frames <- f
		switch f.Action {
		case "subscribe":
			_ = conn.WriteJSON(frame{Type: "subscribed", Channel: f.Channel})
		case "unsubscribe":
			_ = conn.WriteJSON(frame{Type: "unsubscribed", Channel: f.Channel})
		}
	}
}

func (s *notifierStub) waitFrame(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return frame{}
	}
}

func startStub(t *testing.T) (*notifierStub, string) {
	t.Helper()
	stub := newNotifierStub()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return stub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, url string, b *bus.Bus) *Client {
	t.Helper()
	c := NewClient(ClientConfig{
		URL:            url,
		AccessToken:    "test-token",
		ReconnectDelay: 50 * time.Millisecond,
		MaxReconnect:   1,
	}, b, zap.NewNop())
	t.Cleanup(c.Disconnect)
	return c
}

func TestClientSubscribeDeliversChangeEvents(t *testing.T) {
	stub, url := startStub(t)
	b := bus.New()
	events, unsub := b.Subscribe("notify.change", 8)
	defer unsub()

	c := newTestClient(t, url, b)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	h, err := c.Subscribe(context.Background(), "trade:t1", Filter{
		Tables:  []string{"trade_offers", "trade_messages"},
		TradeID: "t1",
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer h.Close()

	sent := stub.waitFrame(t)
	if sent.Action != "subscribe" || sent.Channel != "trade:t1" {
		t.Errorf("subscribe frame = %+v", sent)
	}
	if sent.Filter == nil || sent.Filter.TradeID != "t1" {
		t.Errorf("subscribe filter = %+v", sent.Filter)
	}

	conn := <-stub.conns
	if err := conn.WriteJSON(frame{Type: "event", Channel: "trade:t1", Event: &ChangeEvent{
		Channel: "trade:t1",
		Table:   "trade_messages",
		Kind:    EventInsert,
		TradeID: "t1",
	}}); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-events:
		if evt.Kind != "notify.change" {
			t.Errorf("event kind = %q", evt.Kind)
		}
		if evt.TradeID != "t1" {
			t.Errorf("event trade id = %q", evt.TradeID)
		}
		ce, ok := evt.Payload.(ChangeEvent)
		if !ok {
			t.Fatalf("payload type = %T", evt.Payload)
		}
		if ce.Table != "trade_messages" || ce.Kind != EventInsert {
			t.Errorf("change event = %+v", ce)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("change event never reached the bus")
	}
}

func TestClientResubscribeReleasesPrevious(t *testing.T) {
	stub, url := startStub(t)
	b := bus.New()

	c := newTestClient(t, url, b)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Subscribe(context.Background(), "trade:t1", Filter{TradeID: "t1"}); err != nil {
		t.Fatal(err)
	}
	first := stub.waitFrame(t)
	if first.Action != "subscribe" {
		t.Fatalf("first frame = %+v", first)
	}

	// Subscribing the same channel again must tear down the old
	// subscription on the wire before opening the new one.
	if _, err := c.Subscribe(context.Background(), "trade:t1", Filter{TradeID: "t1"}); err != nil {
		t.Fatal(err)
	}
	second := stub.waitFrame(t)
	if second.Action != "unsubscribe" || second.Channel != "trade:t1" {
		t.Errorf("expected unsubscribe for superseded handle, got %+v", second)
	}
	third := stub.waitFrame(t)
	if third.Action != "subscribe" {
		t.Errorf("expected fresh subscribe, got %+v", third)
	}

	if c.Registry().Len() != 1 {
		t.Errorf("registry len = %d, want 1", c.Registry().Len())
	}
}

func TestClientDisconnectReleasesAllSubscriptions(t *testing.T) {
	stub, url := startStub(t)
	b := bus.New()

	c := newTestClient(t, url, b)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Subscribe(context.Background(), "trade:t1", Filter{TradeID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Subscribe(context.Background(), "trade:t2", Filter{TradeID: "t2"}); err != nil {
		t.Fatal(err)
	}
	stub.waitFrame(t)
	stub.waitFrame(t)

	c.Disconnect()
	if c.Registry().Len() != 0 {
		t.Errorf("registry len after Disconnect = %d, want 0", c.Registry().Len())
	}
	if c.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
}

func TestClientRefusesConnectAfterDisconnect(t *testing.T) {
	stub, url := startStub(t)
	b := bus.New()

	c := newTestClient(t, url, b)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Disconnect()

	// A reconnect attempt racing the shutdown must not bring the
	// connection back up behind Disconnect's back.
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect() after Disconnect should be refused")
	}
	if c.Connected() {
		t.Error("Connected() = true after refused connect")
	}
	select {
	case conn := <-stub.conns:
		_ = conn.Close()
	default:
	}
}

func TestClientSubscribeWhileDisconnected(t *testing.T) {
	b := bus.New()
	c := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/ws"}, b, zap.NewNop())

	if _, err := c.Subscribe(context.Background(), "trade:t1", Filter{TradeID: "t1"}); err == nil {
		t.Fatal("Subscribe() should fail without a connection")
	}
	if c.Registry().Len() != 0 {
		t.Errorf("registry len = %d, want 0", c.Registry().Len())
	}
}
