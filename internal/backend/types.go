package backend

import (
	"time"

	"github.com/pdutra/cardex/internal/store"
	"github.com/shopspring/decimal"
)

// OfferRecord is the wire shape of a trade_offers row.
type OfferRecord struct {
	ID             string          `json:"id"`
	InitiatorID    string          `json:"initiator_id"`
	RecipientID    string          `json:"recipient_id"`
	Status         string          `json:"status"`
	OfferedItems   []ItemRecord    `json:"offered_items"`
	RequestedItems []ItemRecord    `json:"requested_items"`
	CashAdjustment decimal.Decimal `json:"cash_adjustment"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// ItemRecord is one card line inside an offer row.
type ItemRecord struct {
	CardID    string `json:"card_id"`
	Quantity  int    `json:"quantity"`
	Condition string `json:"condition"`
}

// ParticipantRecord is the wire shape of a trade_participants row.
type ParticipantRecord struct {
	TradeID        string    `json:"trade_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	PresenceStatus string    `json:"presence_status"`
	LastSeen       time.Time `json:"last_seen"`
}

// MessageRecord is the wire shape of a trade_messages row.
type MessageRecord struct {
	ID          string    `json:"id"`
	TradeID     string    `json:"trade_id"`
	SenderID    string    `json:"sender_id"`
	Body        string    `json:"body"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToStoreOffer converts a wire offer into its local cache representation.
func (r *OfferRecord) ToStoreOffer() *store.Offer {
	offered := make([]store.OfferItem, 0, len(r.OfferedItems))
	for _, it := range r.OfferedItems {
		offered = append(offered, store.OfferItem(it))
	}
	requested := make([]store.OfferItem, 0, len(r.RequestedItems))
	for _, it := range r.RequestedItems {
		requested = append(requested, store.OfferItem(it))
	}
	return &store.Offer{
		ID:             r.ID,
		InitiatorID:    r.InitiatorID,
		RecipientID:    r.RecipientID,
		Status:         r.Status,
		Offered:        offered,
		Requested:      requested,
		CashAdjustment: r.CashAdjustment,
		CreatedAt:      r.CreatedAt.UnixMilli(),
		ExpiresAt:      r.ExpiresAt.UnixMilli(),
	}
}

// ToStoreParticipant converts a wire participant into its local cache representation.
func (r *ParticipantRecord) ToStoreParticipant() *store.Participant {
	return &store.Participant{
		TradeID:        r.TradeID,
		UserID:         r.UserID,
		IsTyping:       r.IsTyping,
		PresenceStatus: r.PresenceStatus,
		LastSeen:       r.LastSeen.UnixMilli(),
	}
}

// ToStoreMessage converts a wire message into its local cache representation.
// Rows fetched from the backend are always 'received'.
func (r *MessageRecord) ToStoreMessage() *store.Message {
	return &store.Message{
		TradeID:     r.TradeID,
		MsgID:       r.ID,
		SenderID:    r.SenderID,
		Body:        r.Body,
		MessageType: r.MessageType,
		Status:      "received",
		Timestamp:   r.CreatedAt.UnixMilli(),
	}
}
