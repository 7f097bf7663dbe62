package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pdutra/cardex/internal/bus"
	"go.uber.org/zap"
)

// Client maintains the websocket connection to the change notifier and the
// set of channel subscriptions on it. Row changes arrive as ChangeEvents and
// are republished on the bus under the "notify." namespace; subscribers
// re-fetch the affected slice rather than reading row data off the event.
type Client struct {
	url          string
	accessToken  string
	pingInterval time.Duration
	writeTimeout time.Duration

	bus      *bus.Bus
	logger   *zap.Logger
	registry *Registry

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool
	subs      map[string]Filter // channel -> filter, for resubscribe after reconnect

	reconnectDelay time.Duration
	maxReconnect   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ClientConfig holds the notifier endpoint settings.
type ClientConfig struct {
	URL            string
	AccessToken    string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReconnectDelay time.Duration
	MaxReconnect   int
}

// NewClient creates a notifier client. Call Connect before Subscribe.
func NewClient(cfg ClientConfig, b *bus.Bus, logger *zap.Logger) *Client {
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnect == 0 {
		cfg.MaxReconnect = 10
	}
	return &Client{
		url:            cfg.URL,
		accessToken:    cfg.AccessToken,
		pingInterval:   cfg.PingInterval,
		writeTimeout:   cfg.WriteTimeout,
		reconnectDelay: cfg.ReconnectDelay,
		maxReconnect:   cfg.MaxReconnect,
		bus:            b,
		logger:         logger,
		registry:       NewRegistry(),
		subs:           make(map[string]Filter),
	}
}

// Registry exposes the subscription registry, mainly for status reporting.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Connect dials the notifier and starts the read and ping loops. Once
// Disconnect has been called the client refuses to connect again, so a
// reconnect racing a shutdown cannot resurrect the connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return fmt.Errorf("notifier is shut down")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.accessToken)

	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial notifier: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return fmt.Errorf("notifier is shut down")
	}
	if c.cancel != nil {
		// Stop any loops still tied to the previous connection.
		c.cancel()
	}
	c.conn = conn
	c.connected = true
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readLoop(loopCtx)
	go c.pingLoop(loopCtx)

	c.bus.Publish(bus.Event{Kind: "notify.connected", Timestamp: time.Now()})
	return nil
}

// Disconnect closes the connection and releases all subscriptions.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	c.registry.CloseAll()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
}

// Connected reports whether the notifier connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe opens a channel subscription with the given filter. Subscribing
// a channel that is already open releases the previous subscription first:
// at most one live subscription per channel exists at any time.
func (c *Client) Subscribe(_ context.Context, channel string, f Filter) (*Handle, error) {
	return c.registry.Open(channel, func() (func() error, error) {
		if err := c.send(frame{Action: "subscribe", Channel: channel, Filter: &f}); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.subs[channel] = f
		c.mu.Unlock()

		release := func() error {
			c.mu.Lock()
			delete(c.subs, channel)
			connected := c.connected
			c.mu.Unlock()
			if !connected {
				return nil
			}
			return c.send(frame{Action: "unsubscribe", Channel: channel})
		}
		return release, nil
	})
}

func (c *Client) send(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return fmt.Errorf("notifier not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(f)
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.mu.Lock()
			c.connected = false
			closing := c.closing
			c.mu.Unlock()
			if closing {
				return
			}
			c.logger.Warn("notifier read failed", zap.Error(err))
			c.bus.Publish(bus.Event{Kind: "notify.disconnected", Timestamp: time.Now()})
			c.reconnect(ctx)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("notifier sent unparseable frame", zap.Error(err), zap.Int("len", len(data)))
			continue
		}
		c.handleFrame(&f)
	}
}

func (c *Client) handleFrame(f *frame) {
	switch f.Type {
	case "subscribed", "unsubscribed":
		c.logger.Info("notifier subscription ack",
			zap.String("type", f.Type), zap.String("channel", f.Channel))
	case "error":
		c.logger.Error("notifier error frame",
			zap.String("channel", f.Channel), zap.String("message", f.Message))
	case "event":
		if f.Event == nil {
			return
		}
		c.bus.Publish(bus.Event{
			Kind:      "notify.change",
			TradeID:   f.Event.TradeID,
			Timestamp: time.Now(),
			Payload:   *f.Event,
		})
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			connected := c.connected
			c.mu.Unlock()
			if !connected || conn == nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("notifier ping failed", zap.Error(err))
				return
			}
		}
	}
}

// reconnect redials with a fixed delay and restores the active channel
// subscriptions. Gives up after maxReconnect attempts; the session then
// degrades to manual refresh only.
func (c *Client) reconnect(ctx context.Context) {
	for attempt := 1; attempt <= c.maxReconnect; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}

		c.logger.Info("reconnecting to notifier",
			zap.Int("attempt", attempt), zap.Int("max", c.maxReconnect))

		dialCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.Connect(dialCtx)
		cancel()
		if err != nil {
			c.logger.Warn("notifier reconnect failed", zap.Error(err))
			continue
		}

		c.resubscribe()
		return
	}
	c.logger.Error("notifier reconnect attempts exhausted, realtime updates disabled")
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]Filter, len(c.subs))
	for ch, f := range c.subs {
		subs[ch] = f
	}
	c.mu.Unlock()

	for ch, f := range subs {
		filter := f
		if err := c.send(frame{Action: "subscribe", Channel: ch, Filter: &filter}); err != nil {
			c.logger.Warn("resubscribe failed", zap.String("channel", ch), zap.Error(err))
		}
	}
	if len(subs) > 0 {
		c.logger.Info("resubscribed after reconnect", zap.Int("channels", len(subs)))
	}
}
