package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pdutra/cardex/internal/backend"
	"github.com/pdutra/cardex/internal/store"
	"go.uber.org/zap"
)

// Action is a response to a pending offer.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionCancel Action = "cancel"
)

func (a Action) status() (Status, bool) {
	switch a {
	case ActionAccept:
		return StatusAccepted, true
	case ActionReject:
		return StatusRejected, true
	case ActionCancel:
		return StatusCancelled, true
	}
	return "", false
}

var (
	// ErrNotFound means the offer exists neither in the cache nor remotely.
	ErrNotFound = errors.New("trade offer not found")
	// ErrNotRespondable means the offer is not in a state, or the caller not
	// in a role, where the requested action applies. Callers should render
	// the action disabled rather than surface this as a failure.
	ErrNotRespondable = errors.New("offer not respondable")
	// ErrUnknownAction means the action is not accept, reject or cancel.
	ErrUnknownAction = errors.New("unknown respond action")
	// ErrInvalidStatus means a list filter named a status that does not exist.
	ErrInvalidStatus = errors.New("invalid status filter")
)

// Backend is the slice of the row-store client the offer service needs.
type Backend interface {
	FetchOffer(ctx context.Context, tradeID string) (*store.Offer, error)
	FetchOffers(ctx context.Context, f backend.OfferFilter) ([]store.Offer, error)
	UpdateOfferStatus(ctx context.Context, tradeID, fromStatus, toStatus string) error
}

// Service reads trade offers through the local cache and writes responses
// through the row store. Responses are conditional remote writes; the local
// status only changes when the resulting change notification is ingested,
// so the cache never runs ahead of the server.
type Service struct {
	db      *store.DB
	backend Backend
	userID  string
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates an offer service acting as the given user.
func NewService(db *store.DB, b Backend, userID string, logger *zap.Logger) *Service {
	return &Service{
		db:      db,
		backend: b,
		userID:  userID,
		logger:  logger,
		now:     time.Now,
	}
}

// List refreshes the user's offers from the row store and returns the cached
// view, most recent first. When the refresh fails the stale cache is
// returned, so the listing keeps working offline.
func (s *Service) List(ctx context.Context, status string, limit int) ([]store.Offer, error) {
	if status != "" && !Status(status).Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	offers, err := s.backend.FetchOffers(ctx, backend.OfferFilter{
		ParticipantID: s.userID,
		Status:        status,
		Limit:         limit,
	})
	if err != nil {
		s.logger.Warn("offer refresh failed, serving cache", zap.Error(err))
	} else {
		for i := range offers {
			if err := s.db.UpsertOffer(&offers[i]); err != nil {
				return nil, fmt.Errorf("cache offer %s: %w", offers[i].ID, err)
			}
		}
	}
	return s.db.ListOffers(status, limit)
}

// Get returns one offer, fetching it into the cache on a miss.
func (s *Service) Get(ctx context.Context, tradeID string) (*store.Offer, error) {
	offer, err := s.db.GetOffer(tradeID)
	if err != nil {
		return nil, err
	}
	if offer != nil {
		return offer, nil
	}

	offer, err = s.backend.FetchOffer(ctx, tradeID)
	if err != nil {
		return nil, ErrNotFound
	}
	if err := s.db.UpsertOffer(offer); err != nil {
		return nil, fmt.Errorf("cache offer %s: %w", tradeID, err)
	}
	return offer, nil
}

// CanRespond reports whether the acting user may apply action to the offer
// right now. Accept and reject belong to the recipient, cancel to the
// initiator, and all three require a pending, unexpired offer.
func (s *Service) CanRespond(o *store.Offer, action Action) bool {
	to, ok := action.status()
	if !ok {
		return false
	}
	if !CanTransition(Status(o.Status), to) {
		return false
	}
	if o.ExpiresAt > 0 && o.ExpiresAt <= s.now().UnixMilli() {
		return false
	}
	switch action {
	case ActionCancel:
		return o.InitiatorID == s.userID
	default:
		return o.RecipientID == s.userID
	}
}

// Respond applies accept, reject or cancel to a pending offer. The write is
// conditioned on the offer still being pending server-side; losing that race
// leaves the authoritative status untouched and the next notification brings
// the cache in line.
func (s *Service) Respond(ctx context.Context, tradeID string, action Action) error {
	to, ok := action.status()
	if !ok {
		return ErrUnknownAction
	}

	offer, err := s.Get(ctx, tradeID)
	if err != nil {
		return err
	}
	if !s.CanRespond(offer, action) {
		return ErrNotRespondable
	}

	if err := s.backend.UpdateOfferStatus(ctx, tradeID, string(StatusPending), string(to)); err != nil {
		return fmt.Errorf("respond %s: %w", action, err)
	}
	s.logger.Info("offer response submitted",
		zap.String("trade_id", tradeID), zap.String("action", string(action)))
	return nil
}
