package tradesession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pdutra/cardex/internal/bus"
	"github.com/pdutra/cardex/internal/notify"
	"github.com/pdutra/cardex/internal/store"
	"github.com/pdutra/cardex/internal/trade"
	"go.uber.org/zap"
)

// sessionTables are the row-store tables a session subscribes to.
var sessionTables = []string{"trade_offers", "trade_participants", "trade_messages"}

// ErrNoSession means no session is open for the trade.
var ErrNoSession = errors.New("no open session for trade")

// Notifier is the slice of the change-notifier client the coordinator needs.
type Notifier interface {
	Subscribe(ctx context.Context, channel string, f notify.Filter) (*notify.Handle, error)
}

// Refresher loads a trade's slices from the backend into the cache.
type Refresher interface {
	Refresh(ctx context.Context, tradeID string) error
}

// Presence publishes the acting user's session presence.
type Presence interface {
	MarkOnline(ctx context.Context, tradeID string) error
	MarkOffline(ctx context.Context, tradeID string) error
}

// Session is one open trade session.
type Session struct {
	TradeID  string
	OpenedAt time.Time

	machine *Machine
	handle  *notify.Handle
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.machine.Current()
}

// View is the merged session snapshot served to the UI.
type View struct {
	TradeID      string              `json:"trade_id"`
	State        State               `json:"state"`
	Offer        *store.Offer        `json:"offer"`
	Participants []store.Participant `json:"participants"`
	Messages     []store.Message     `json:"messages"`
	Actions      []string            `json:"actions"`
}

// Coordinator owns the open trade sessions. Opening a session loads the
// trade's slices into the cache, subscribes its notification channel and
// marks the user present; closing releases all of it. At most one session
// per trade exists, and re-opening an already open trade restarts it.
type Coordinator struct {
	db       *store.DB
	engine   Refresher
	notifier Notifier
	presence Presence
	offers   *trade.Service
	bus      *bus.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	opens    map[string]*sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a session coordinator.
func NewCoordinator(db *store.DB, engine Refresher, n Notifier, p Presence, offers *trade.Service, eventBus *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		db:       db,
		engine:   engine,
		notifier: n,
		presence: p,
		offers:   offers,
		bus:      eventBus,
		logger:   logger,
		sessions: make(map[string]*Session),
		opens:    make(map[string]*sync.Mutex),
	}
}

// tradeMu returns the mutex serializing open/close for one trade. Without
// it, two concurrent Opens can interleave so the registered session and the
// live subscription handle belong to different Open calls, and the handle
// leaks past Close.
func (c *Coordinator) tradeMu(tradeID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.opens[tradeID]
	if !ok {
		m = &sync.Mutex{}
		c.opens[tradeID] = m
	}
	return m
}

// Open starts a session for the trade. An existing session for the same
// trade is closed first, so its subscription is released before the new one
// opens. A failed initial load aborts the open; a failed subscription does
// not, the session just comes up degraded. Opens and closes for the same
// trade are serialized, so the registered session always owns the live
// subscription handle.
func (c *Coordinator) Open(ctx context.Context, tradeID string) (*Session, error) {
	mu := c.tradeMu(tradeID)
	mu.Lock()
	defer mu.Unlock()

	c.closeExisting(ctx, tradeID)

	sess := &Session{
		TradeID:  tradeID,
		OpenedAt: time.Now(),
		machine:  NewMachine(),
	}
	if err := sess.machine.Transition(StateOpening); err != nil {
		return nil, err
	}

	if err := c.engine.Refresh(ctx, tradeID); err != nil {
		_ = sess.machine.Transition(StateFailed)
		c.logger.Error("session open failed", zap.String("trade_id", tradeID), zap.Error(err))
		return nil, fmt.Errorf("load trade %s: %w", tradeID, err)
	}

	handle, err := c.notifier.Subscribe(ctx, "trade:"+tradeID, notify.Filter{
		Tables:  sessionTables,
		TradeID: tradeID,
	})
	if err != nil {
		// Data loaded but no realtime updates. Keep the session usable
		// and let the user refresh manually.
		_ = sess.machine.Transition(StateDegraded)
		c.logger.Warn("session subscription failed, running degraded",
			zap.String("trade_id", tradeID), zap.Error(err))
	} else {
		sess.handle = handle
		_ = sess.machine.Transition(StateOpen)
	}

	if err := c.presence.MarkOnline(ctx, tradeID); err != nil {
		c.logger.Warn("presence announce failed", zap.String("trade_id", tradeID), zap.Error(err))
	}

	c.mu.Lock()
	c.sessions[tradeID] = sess
	c.mu.Unlock()

	c.bus.Publish(bus.Event{Kind: "session.opened", TradeID: tradeID, Timestamp: time.Now()})
	c.logger.Info("session opened",
		zap.String("trade_id", tradeID), zap.String("state", string(sess.State())))
	return sess, nil
}

// Close ends the session for the trade, releasing its subscription and
// marking the user offline. Closing a trade with no session is a no-op.
func (c *Coordinator) Close(ctx context.Context, tradeID string) error {
	mu := c.tradeMu(tradeID)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	sess, ok := c.sessions[tradeID]
	delete(c.sessions, tradeID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.teardown(ctx, sess)
	return nil
}

// closeExisting tears down any current session for the trade.
func (c *Coordinator) closeExisting(ctx context.Context, tradeID string) {
	c.mu.Lock()
	sess, ok := c.sessions[tradeID]
	delete(c.sessions, tradeID)
	c.mu.Unlock()
	if ok {
		c.logger.Info("restarting open session", zap.String("trade_id", tradeID))
		c.teardown(ctx, sess)
	}
}

func (c *Coordinator) teardown(ctx context.Context, sess *Session) {
	if sess.handle != nil {
		if err := sess.handle.Close(); err != nil {
			c.logger.Warn("release subscription", zap.String("trade_id", sess.TradeID), zap.Error(err))
		}
	}
	if err := c.presence.MarkOffline(ctx, sess.TradeID); err != nil {
		c.logger.Warn("presence retract failed", zap.String("trade_id", sess.TradeID), zap.Error(err))
	}
	_ = sess.machine.Transition(StateClosed)
	c.bus.Publish(bus.Event{Kind: "session.closed", TradeID: sess.TradeID, Timestamp: time.Now()})
	c.logger.Info("session closed", zap.String("trade_id", sess.TradeID))
}

// Get returns the open session for a trade, or nil.
func (c *Coordinator) Get(tradeID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[tradeID]
}

// Sessions returns the open sessions.
func (c *Coordinator) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

// View assembles the session snapshot for a trade from the cache.
func (c *Coordinator) View(tradeID string) (*View, error) {
	sess := c.Get(tradeID)
	if sess == nil {
		return nil, ErrNoSession
	}

	offer, err := c.db.GetOffer(tradeID)
	if err != nil {
		return nil, err
	}
	participants, err := c.db.ListParticipants(tradeID)
	if err != nil {
		return nil, err
	}
	messages, err := c.db.ListMessages(tradeID)
	if err != nil {
		return nil, err
	}

	actions := []string{}
	if offer != nil {
		for _, a := range []trade.Action{trade.ActionAccept, trade.ActionReject, trade.ActionCancel} {
			if c.offers.CanRespond(offer, a) {
				actions = append(actions, string(a))
			}
		}
	}
	return &View{
		TradeID:      tradeID,
		State:        sess.State(),
		Offer:        offer,
		Participants: participants,
		Messages:     messages,
		Actions:      actions,
	}, nil
}

// Start watches trade updates and closes sessions whose offer reached a
// terminal status. Stop ends the watcher and closes all sessions.
func (c *Coordinator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	events, unsub := c.bus.Subscribe("trade.updated", 16)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				c.maybeCloseSettled(ctx, evt.TradeID)
			}
		}
	}()
}

// Stop halts the watcher and tears down every open session.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range sessions {
		c.teardown(ctx, s)
	}
}

func (c *Coordinator) maybeCloseSettled(ctx context.Context, tradeID string) {
	if c.Get(tradeID) == nil {
		return
	}
	offer, err := c.db.GetOffer(tradeID)
	if err != nil || offer == nil {
		return
	}
	if !trade.Status(offer.Status).Terminal() {
		return
	}
	c.logger.Info("trade settled, closing session",
		zap.String("trade_id", tradeID), zap.String("status", offer.Status))
	_ = c.Close(ctx, tradeID)
}
