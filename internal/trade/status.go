package trade

// Status is the lifecycle state of a trade offer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// transitions lists the allowed status changes. Every status other than
// pending is terminal; once an offer leaves pending it never moves again.
var transitions = map[Status][]Status{
	StatusPending: {StatusAccepted, StatusRejected, StatusExpired, StatusCancelled},
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known offer status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the status change from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
