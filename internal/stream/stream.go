package stream

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdutra/cardex/internal/bus"
	"github.com/pdutra/cardex/internal/store"
	"go.uber.org/zap"
)

// MaxBodyLen caps chat message bodies.
const MaxBodyLen = 2000

var (
	// ErrEmptyBody means the message body was blank after trimming.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrBodyTooLong means the message body exceeds MaxBodyLen.
	ErrBodyTooLong = errors.New("message body too long")
)

// Stream is the chat surface of a trade session. Sends are queued in the
// outbox and written to the cache optimistically under a client-generated id,
// so exactly one message appears per send no matter when the server copy
// arrives. History reads come straight from the cache in stable ascending
// order.
type Stream struct {
	db     *store.DB
	bus    *bus.Bus
	userID string
	logger *zap.Logger
	now    func() time.Time
}

// New creates a message stream acting as the given user.
func New(db *store.DB, eventBus *bus.Bus, userID string, logger *zap.Logger) *Stream {
	return &Stream{
		db:     db,
		bus:    eventBus,
		userID: userID,
		logger: logger,
		now:    time.Now,
	}
}

// List returns the cached messages for a trade, oldest first. Equal
// timestamps keep their insertion order.
func (s *Stream) List(tradeID string) ([]store.Message, error) {
	return s.db.ListMessages(tradeID)
}

// Send queues a chat message for delivery and inserts the optimistic local
// copy in 'sending' status. The outbox sender picks it up, performs the
// remote write and flips the status on the same row.
func (s *Stream) Send(tradeID, body string) (*store.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	if len(body) > MaxBodyLen {
		return nil, ErrBodyTooLong
	}

	clientID := uuid.NewString()
	if err := s.db.QueueOutbox(clientID, tradeID, body); err != nil {
		return nil, fmt.Errorf("queue message: %w", err)
	}

	msg := &store.Message{
		TradeID:     tradeID,
		MsgID:       clientID,
		SenderID:    s.userID,
		Body:        body,
		MessageType: "text",
		Status:      "sending",
		Timestamp:   s.now().UnixMilli(),
	}
	if err := s.db.UpsertMessage(msg); err != nil {
		return nil, fmt.Errorf("cache message: %w", err)
	}

	s.bus.Publish(bus.Event{
		Kind:      "message.queued",
		TradeID:   tradeID,
		Timestamp: s.now(),
		Payload:   clientID,
	})
	s.logger.Debug("message queued",
		zap.String("trade_id", tradeID), zap.String("client_msg_id", clientID))
	return msg, nil
}
