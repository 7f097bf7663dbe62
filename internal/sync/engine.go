package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/pdutra/cardex/internal/bus"
	"github.com/pdutra/cardex/internal/notify"
	"github.com/pdutra/cardex/internal/store"
	"go.uber.org/zap"
)

// Backend is the slice of the row-store client the engine needs.
type Backend interface {
	FetchOffer(ctx context.Context, tradeID string) (*store.Offer, error)
	FetchParticipants(ctx context.Context, tradeID string) ([]store.Participant, error)
	FetchMessages(ctx context.Context, tradeID string) ([]store.Message, error)
}

// Engine turns change notifications into cache updates. A notification names
// a table and a trade but carries no row data, so the engine re-fetches the
// whole affected slice and replaces the cached copy. That makes duplicate
// and out-of-order notifications harmless: ingesting the same slice twice
// lands on the same state.
type Engine struct {
	db      *store.DB
	backend Backend
	bus     *bus.Bus
	logger  *zap.Logger

	fetchTimeout time.Duration

	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// NewEngine creates an ingestion engine.
func NewEngine(db *store.DB, b Backend, eventBus *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:           db,
		backend:      b,
		bus:          eventBus,
		logger:       logger,
		fetchTimeout: 15 * time.Second,
	}
}

// Start subscribes to change notifications and processes them until Stop.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	events, unsub := e.bus.Subscribe("notify.change", 64)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				change, ok := evt.Payload.(notify.ChangeEvent)
				if !ok {
					continue
				}
				e.Ingest(ctx, change)
			}
		}
	}()
}

// Stop halts notification processing.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Ingest applies one change notification to the cache and republishes a
// domain event for the affected trade.
func (e *Engine) Ingest(ctx context.Context, change notify.ChangeEvent) {
	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	var err error
	var kind string
	switch change.Table {
	case "trade_offers":
		kind = "trade.updated"
		err = e.syncOffer(ctx, change.TradeID)
	case "trade_participants":
		kind = "presence.updated"
		err = e.syncParticipants(ctx, change.TradeID)
	case "trade_messages":
		kind = "message.updated"
		err = e.syncMessages(ctx, change.TradeID)
	default:
		e.logger.Warn("notification for unknown table", zap.String("table", change.Table))
		return
	}
	if err != nil {
		e.logger.Warn("ingest failed",
			zap.String("table", change.Table),
			zap.String("trade_id", change.TradeID),
			zap.Error(err))
		return
	}

	e.bus.Publish(bus.Event{
		Kind:      kind,
		TradeID:   change.TradeID,
		Timestamp: time.Now(),
	})
}

// Refresh re-fetches every slice of one trade. Used when a session opens and
// as the manual fallback when realtime updates are unavailable.
func (e *Engine) Refresh(ctx context.Context, tradeID string) error {
	if err := e.syncOffer(ctx, tradeID); err != nil {
		return err
	}
	if err := e.syncParticipants(ctx, tradeID); err != nil {
		return err
	}
	if err := e.syncMessages(ctx, tradeID); err != nil {
		return err
	}
	return nil
}

func (e *Engine) syncOffer(ctx context.Context, tradeID string) error {
	offer, err := e.backend.FetchOffer(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("fetch offer: %w", err)
	}
	if err := e.db.UpsertOffer(offer); err != nil {
		return fmt.Errorf("cache offer: %w", err)
	}
	return nil
}

func (e *Engine) syncParticipants(ctx context.Context, tradeID string) error {
	participants, err := e.backend.FetchParticipants(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("fetch participants: %w", err)
	}
	if err := e.db.ReplaceParticipants(tradeID, participants); err != nil {
		return fmt.Errorf("cache participants: %w", err)
	}
	return nil
}

func (e *Engine) syncMessages(ctx context.Context, tradeID string) error {
	msgs, err := e.backend.FetchMessages(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	if err := e.db.ReplaceMessages(tradeID, msgs); err != nil {
		return fmt.Errorf("cache messages: %w", err)
	}
	return nil
}
