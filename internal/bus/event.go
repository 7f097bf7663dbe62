package bus

import "time"

// Event represents a domain event published on the bus. TradeID is set for
// events scoped to a single trade session and empty for daemon-wide events.
type Event struct {
	Kind      string
	TradeID   string
	Timestamp time.Time
	Payload   any
}
