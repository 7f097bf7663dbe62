package backend

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOfferFilterQuery(t *testing.T) {
	tests := []struct {
		name   string
		filter OfferFilter
		want   map[string]string
	}{
		{
			"participant only",
			OfferFilter{ParticipantID: "user-a"},
			map[string]string{
				"or":    "(initiator_id.eq.user-a,recipient_id.eq.user-a)",
				"order": "created_at.desc",
				"limit": "50",
			},
		},
		{
			"participant and status",
			OfferFilter{ParticipantID: "user-a", Status: "pending", Limit: 10},
			map[string]string{
				"or":     "(initiator_id.eq.user-a,recipient_id.eq.user-a)",
				"status": "eq.pending",
				"order":  "created_at.desc",
				"limit":  "10",
			},
		},
		{
			"no filters",
			OfferFilter{},
			map[string]string{
				"order": "created_at.desc",
				"limit": "50",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Query()
			if len(got) != len(tt.want) {
				t.Errorf("got %d params %v, want %d", len(got), got, len(tt.want))
			}
			for k, want := range tt.want {
				if got.Get(k) != want {
					t.Errorf("%s = %q, want %q", k, got.Get(k), want)
				}
			}
		})
	}
}

func TestOfferRecordToStoreOffer(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(48 * time.Hour)
	r := &OfferRecord{
		ID:          "t1",
		InitiatorID: "user-a",
		RecipientID: "user-b",
		Status:      "pending",
		OfferedItems: []ItemRecord{
			{CardID: "card-1", Quantity: 2, Condition: "near_mint"},
		},
		CashAdjustment: decimal.RequireFromString("12.00"),
		CreatedAt:      created,
		ExpiresAt:      expires,
	}

	o := r.ToStoreOffer()
	if o.ID != "t1" || o.InitiatorID != "user-a" || o.RecipientID != "user-b" {
		t.Errorf("identity fields wrong: %+v", o)
	}
	if len(o.Offered) != 1 || o.Offered[0].CardID != "card-1" {
		t.Errorf("offered = %+v", o.Offered)
	}
	if o.Requested == nil || len(o.Requested) != 0 {
		t.Errorf("requested = %v, want empty non-nil slice", o.Requested)
	}
	if o.CreatedAt != created.UnixMilli() {
		t.Errorf("created_at = %d, want %d", o.CreatedAt, created.UnixMilli())
	}
	if !o.CashAdjustment.Equal(decimal.RequireFromString("12.00")) {
		t.Errorf("cash adjustment = %s", o.CashAdjustment)
	}
}

func TestMessageRecordToStoreMessage(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &MessageRecord{
		ID:          "srv-1",
		TradeID:     "t1",
		SenderID:    "user-a",
		Body:        "hello",
		MessageType: "text",
		CreatedAt:   created,
	}

	m := r.ToStoreMessage()
	if m.MsgID != "srv-1" {
		t.Errorf("msg_id = %q, want srv-1 (server id)", m.MsgID)
	}
	if m.Status != "received" {
		t.Errorf("status = %q, want received", m.Status)
	}
	if m.Timestamp != created.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", m.Timestamp, created.UnixMilli())
	}
}
