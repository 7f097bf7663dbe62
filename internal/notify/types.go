package notify

// EventKind classifies a row-level change.
type EventKind string

const (
	EventInsert   EventKind = "insert"
	EventUpdate   EventKind = "update"
	EventDelete   EventKind = "delete"
	EventWildcard EventKind = "*"
)

// Filter selects which row changes a channel subscription receives:
// the listed tables, restricted to rows of one trade.
type Filter struct {
	Tables  []string `json:"tables"`
	TradeID string   `json:"trade_id"`
}

// ChangeEvent is a row-level change delivered on a subscribed channel.
// It carries no row data; subscribers re-fetch the affected slice.
type ChangeEvent struct {
	Channel string    `json:"channel"`
	Table   string    `json:"table"`
	Kind    EventKind `json:"kind"`
	TradeID string    `json:"trade_id"`
}

// frame is the wire envelope exchanged with the notifier service.
type frame struct {
	Action  string       `json:"action,omitempty"` // subscribe, unsubscribe (client -> server)
	Type    string       `json:"type,omitempty"`   // subscribed, unsubscribed, event, error (server -> client)
	Channel string       `json:"channel,omitempty"`
	Filter  *Filter      `json:"filter,omitempty"`
	Event   *ChangeEvent `json:"event,omitempty"`
	Message string       `json:"message,omitempty"`
}
