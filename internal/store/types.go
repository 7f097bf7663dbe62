package store

import "github.com/shopspring/decimal"

// Offer represents a cached trade offer between two users.
type Offer struct {
	ID             string          `json:"id"`
	InitiatorID    string          `json:"initiator_id"`
	RecipientID    string          `json:"recipient_id"`
	Status         string          `json:"status"`
	Offered        []OfferItem     `json:"offered"`
	Requested      []OfferItem     `json:"requested"`
	CashAdjustment decimal.Decimal `json:"cash_adjustment"`
	CreatedAt      int64           `json:"created_at"`
	ExpiresAt      int64           `json:"expires_at"`
}

// OfferItem is one card line in an offer's offered or requested list.
type OfferItem struct {
	CardID    string `json:"card_id"`
	Quantity  int    `json:"quantity"`
	Condition string `json:"condition"`
}

// Participant represents a user's presence within a trade session.
// Rows are upserted on every heartbeat and never deleted; stale entries
// simply age out by last_seen.
type Participant struct {
	TradeID        string `json:"trade_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
	PresenceStatus string `json:"presence_status"`
	LastSeen       int64  `json:"last_seen"`
}

// Message represents a cached trade chat message. ID is the local insertion
// id and breaks ordering ties between equal timestamps.
type Message struct {
	ID          int64  `json:"id"`
	TradeID     string `json:"trade_id"`
	MsgID       string `json:"msg_id"`
	SenderID    string `json:"sender_id"`
	Body        string `json:"body"`
	MessageType string `json:"message_type"` // text, system, offer_update, attachment
	Status      string `json:"status"`       // sending, sent, failed, received
	Timestamp   int64  `json:"timestamp"`
}

// OutboxEntry represents a pending outgoing chat message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	TradeID      string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}
