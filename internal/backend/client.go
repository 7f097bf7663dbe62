package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pdutra/cardex/internal/auth"
	"github.com/pdutra/cardex/internal/store"
	"go.uber.org/zap"
)

// Client talks to the marketplace row store over its REST surface.
// Access control (a user only sees offers they participate in) is enforced
// server-side by row policies; the client just scopes its queries.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// Config holds the row-store endpoint settings.
type Config struct {
	BaseURL string
	AnonKey string
}

// New creates a backend client authenticated as the given session user.
func New(cfg Config, sess *auth.Session, logger *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL+"/rest/v1").
		SetHeader("apikey", cfg.AnonKey).
		SetAuthToken(sess.AccessToken).
		SetHeader("Accept", "application/json").
		SetTimeout(15 * time.Second)

	return &Client{http: http, logger: logger}
}

// FetchOffer returns a single trade offer by id.
func (c *Client) FetchOffer(ctx context.Context, tradeID string) (*store.Offer, error) {
	var records []OfferRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", eq(tradeID)).
		SetResult(&records).
		Get("/trade_offers")
	if err != nil {
		return nil, fmt.Errorf("fetch offer: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch offer: %s", resp.Status())
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("offer %q not found", tradeID)
	}
	return records[0].ToStoreOffer(), nil
}

// FetchOffers returns trade offers matching the filter.
func (c *Client) FetchOffers(ctx context.Context, f OfferFilter) ([]store.Offer, error) {
	var records []OfferRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(f.Query()).
		SetResult(&records).
		Get("/trade_offers")
	if err != nil {
		return nil, fmt.Errorf("fetch offers: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch offers: %s", resp.Status())
	}
	offers := make([]store.Offer, 0, len(records))
	for i := range records {
		offers = append(offers, *records[i].ToStoreOffer())
	}
	return offers, nil
}

// UpdateOfferStatus writes a status transition conditioned on the current
// status, so a concurrent transition elsewhere makes this a no-op rather
// than a double write. The caller learns the final status from the next
// change notification, not from this call.
func (c *Client) UpdateOfferStatus(ctx context.Context, tradeID, fromStatus, toStatus string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", eq(tradeID)).
		SetQueryParam("status", eq(fromStatus)).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"status": toStatus}).
		Patch("/trade_offers")
	if err != nil {
		return fmt.Errorf("update offer status: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("update offer status: %s", resp.Status())
	}
	return nil
}

// FetchParticipants returns all participant rows for a trade.
func (c *Client) FetchParticipants(ctx context.Context, tradeID string) ([]store.Participant, error) {
	var records []ParticipantRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("trade_id", eq(tradeID)).
		SetQueryParam("order", "user_id.asc").
		SetResult(&records).
		Get("/trade_participants")
	if err != nil {
		return nil, fmt.Errorf("fetch participants: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch participants: %s", resp.Status())
	}
	participants := make([]store.Participant, 0, len(records))
	for i := range records {
		participants = append(participants, *records[i].ToStoreParticipant())
	}
	return participants, nil
}

// UpsertParticipant writes a presence heartbeat row, merging on
// (trade_id, user_id).
func (c *Client) UpsertParticipant(ctx context.Context, p *store.Participant) error {
	record := ParticipantRecord{
		TradeID:        p.TradeID,
		UserID:         p.UserID,
		IsTyping:       p.IsTyping,
		PresenceStatus: p.PresenceStatus,
		LastSeen:       time.UnixMilli(p.LastSeen).UTC(),
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("on_conflict", "trade_id,user_id").
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "resolution=merge-duplicates").
		SetBody(record).
		Post("/trade_participants")
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("upsert participant: %s", resp.Status())
	}
	return nil
}

// FetchMessages returns the full message history for a trade, oldest first.
// A fresh subscription always starts from a full historical load.
func (c *Client) FetchMessages(ctx context.Context, tradeID string) ([]store.Message, error) {
	var records []MessageRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("trade_id", eq(tradeID)).
		SetQueryParam("order", "created_at.asc,id.asc").
		SetResult(&records).
		Get("/trade_messages")
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch messages: %s", resp.Status())
	}
	msgs := make([]store.Message, 0, len(records))
	for i := range records {
		msgs = append(msgs, *records[i].ToStoreMessage())
	}
	return msgs, nil
}

// InsertMessage appends a chat message and returns the server-assigned id.
// Delivery to the other participant happens via the change notifier.
func (c *Client) InsertMessage(ctx context.Context, tradeID, senderID, body, messageType string) (string, error) {
	var created []MessageRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "return=representation").
		SetBody(map[string]string{
			"trade_id":     tradeID,
			"sender_id":    senderID,
			"body":         body,
			"message_type": messageType,
		}).
		SetResult(&created).
		Post("/trade_messages")
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("insert message: %s", resp.Status())
	}
	if len(created) == 0 {
		return "", fmt.Errorf("insert message: empty response")
	}
	return created[0].ID, nil
}
