package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/pdutra/cardex/internal/bus"
	"github.com/pdutra/cardex/internal/store"
	"go.uber.org/zap"
)

// Backend is the slice of the row-store client the tracker needs.
type Backend interface {
	UpsertParticipant(ctx context.Context, p *store.Participant) error
}

// Tracker publishes the acting user's presence and typing state for open
// trade sessions. Writes go to the local cache first and then to the row
// store; the other participant learns about them through the change
// notifier. Typing state is plain last-write-wins: a false written after a
// true sticks until the next explicit change, there is no auto-expiry.
type Tracker struct {
	db      *store.DB
	backend Backend
	bus     *bus.Bus
	userID  string
	logger  *zap.Logger
	now     func() time.Time
}

// NewTracker creates a presence tracker acting as the given user.
func NewTracker(db *store.DB, b Backend, eventBus *bus.Bus, userID string, logger *zap.Logger) *Tracker {
	return &Tracker{
		db:      db,
		backend: b,
		bus:     eventBus,
		userID:  userID,
		logger:  logger,
		now:     time.Now,
	}
}

// SetTyping records whether the acting user is composing a message in the
// trade. The local row updates even when the remote write fails, so the
// user's own UI stays truthful while offline.
func (t *Tracker) SetTyping(ctx context.Context, tradeID string, typing bool) error {
	return t.publish(ctx, tradeID, typing, "online")
}

// MarkOnline records the acting user as present in the trade session.
// Opening a session always starts from a non-typing state.
func (t *Tracker) MarkOnline(ctx context.Context, tradeID string) error {
	return t.publish(ctx, tradeID, false, "online")
}

// MarkOffline records the acting user as having left the trade session.
func (t *Tracker) MarkOffline(ctx context.Context, tradeID string) error {
	return t.publish(ctx, tradeID, false, "offline")
}

// Participants returns the cached presence rows for a trade.
func (t *Tracker) Participants(tradeID string) ([]store.Participant, error) {
	return t.db.ListParticipants(tradeID)
}

func (t *Tracker) publish(ctx context.Context, tradeID string, typing bool, status string) error {
	p := &store.Participant{
		TradeID:        tradeID,
		UserID:         t.userID,
		IsTyping:       typing,
		PresenceStatus: status,
		LastSeen:       t.now().UnixMilli(),
	}
	if err := t.db.UpsertParticipant(p); err != nil {
		return fmt.Errorf("cache presence: %w", err)
	}
	t.bus.Publish(bus.Event{
		Kind:      "presence.updated",
		TradeID:   tradeID,
		Timestamp: t.now(),
	})

	if err := t.backend.UpsertParticipant(ctx, p); err != nil {
		t.logger.Warn("presence write failed",
			zap.String("trade_id", tradeID), zap.Bool("typing", typing), zap.Error(err))
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}
