package backend

import (
	"fmt"
	"net/url"
)

// The row store speaks a query-string filter dialect: column=op.value pairs
// plus an or=(...) combinator, with ordering via order=column.direction.

// OfferFilter restricts which trade offers a list query returns.
type OfferFilter struct {
	Status        string // empty = any status
	ParticipantID string // offers where this user is initiator or recipient
	Limit         int
}

// Query renders the filter as row-store query parameters.
func (f OfferFilter) Query() url.Values {
	v := url.Values{}
	if f.ParticipantID != "" {
		v.Set("or", fmt.Sprintf("(initiator_id.eq.%s,recipient_id.eq.%s)", f.ParticipantID, f.ParticipantID))
	}
	if f.Status != "" {
		v.Set("status", "eq."+f.Status)
	}
	v.Set("order", "created_at.desc")
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	v.Set("limit", fmt.Sprintf("%d", limit))
	return v
}

func eq(value string) string {
	return "eq." + value
}
