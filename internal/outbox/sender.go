package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/pdutra/cardex/internal/bus"
	"github.com/pdutra/cardex/internal/store"
	"go.uber.org/zap"
)

// DefaultInterval is how often the sender drains the outbox.
const DefaultInterval = 500 * time.Millisecond

// Inserter is the slice of the row-store client the sender needs.
type Inserter interface {
	InsertMessage(ctx context.Context, tradeID, senderID, body, messageType string) (string, error)
}

// Sender drains the message outbox in the background. Each queued entry is
// written to the row store once; the optimistic cache row is then rekeyed to
// the server id or flipped to failed. Failed entries stay in the outbox for
// inspection and are not retried automatically.
type Sender struct {
	db       *store.DB
	inserter Inserter
	bus      *bus.Bus
	userID   string
	logger   *zap.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSender creates an outbox sender acting as the given user.
func NewSender(db *store.DB, ins Inserter, eventBus *bus.Bus, userID string, logger *zap.Logger) *Sender {
	return &Sender{
		db:       db,
		inserter: ins,
		bus:      eventBus,
		userID:   userID,
		logger:   logger,
		interval: DefaultInterval,
	}
}

// Start begins the background drain loop.
func (s *Sender) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the drain loop and waits for the in-flight pass to finish.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sender) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush sends every queued outbox entry once, oldest first.
func (s *Sender) Flush(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.sendOne(ctx, entry)
	}
}

func (s *Sender) sendOne(ctx context.Context, entry store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("mark outbox sending", zap.Error(err))
		return
	}

	serverID, err := s.inserter.InsertMessage(ctx, entry.TradeID, s.userID, entry.Body, "text")
	if err != nil {
		s.logger.Warn("message send failed",
			zap.String("trade_id", entry.TradeID),
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.Error(err))
		if err := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); err != nil {
			s.logger.Error("mark outbox failed", zap.Error(err))
		}
		if err := s.db.MarkMessageFailed(entry.TradeID, entry.ClientMsgID); err != nil {
			s.logger.Error("mark message failed", zap.Error(err))
		}
		s.bus.Publish(bus.Event{
			Kind:      "message.send_failed",
			TradeID:   entry.TradeID,
			Timestamp: time.Now(),
			Payload:   entry.ClientMsgID,
		})
		return
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverID); err != nil {
		s.logger.Error("mark outbox sent", zap.Error(err))
	}
	if err := s.db.PromoteMessage(entry.TradeID, entry.ClientMsgID, serverID); err != nil {
		s.logger.Error("promote message", zap.Error(err))
	}
	s.bus.Publish(bus.Event{
		Kind:      "message.send_ack",
		TradeID:   entry.TradeID,
		Timestamp: time.Now(),
		Payload:   serverID,
	})
	s.logger.Debug("message sent",
		zap.String("trade_id", entry.TradeID),
		zap.String("server_msg_id", serverID))
}
