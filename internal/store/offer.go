package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// terminalStatuses are offer statuses with no outgoing transitions. The
// upsert keeps a terminal status even if a stale re-fetch delivers an older
// row, so a transition out of a terminal state is never observable locally.
const terminalStatuses = "'accepted','rejected','expired','cancelled'"

// UpsertOffer inserts or updates a trade offer (idempotent on id).
func (db *DB) UpsertOffer(o *Offer) error {
	offered, err := json.Marshal(o.Offered)
	if err != nil {
		return fmt.Errorf("marshal offered items: %w", err)
	}
	requested, err := json.Marshal(o.Requested)
	if err != nil {
		return fmt.Errorf("marshal requested items: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO trade_offers (id, initiator_id, recipient_id, status, offered_items, requested_items, cash_adjustment, created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = CASE
				WHEN trade_offers.status IN (`+terminalStatuses+`) THEN trade_offers.status
				ELSE excluded.status
			END,
			offered_items = excluded.offered_items,
			requested_items = excluded.requested_items,
			cash_adjustment = excluded.cash_adjustment,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		o.ID, o.InitiatorID, o.RecipientID, o.Status, string(offered), string(requested),
		o.CashAdjustment.String(), o.CreatedAt, o.ExpiresAt, now)
	return err
}

// GetOffer returns a single offer by id, or nil if not cached.
func (db *DB) GetOffer(id string) (*Offer, error) {
	row := db.QueryRow(`
		SELECT id, initiator_id, recipient_id, status, offered_items, requested_items, cash_adjustment, created_at, expires_at
		FROM trade_offers WHERE id = ?`, id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListOffers returns cached offers, optionally filtered by status,
// most recent first.
func (db *DB) ListOffers(status string, limit int) ([]Offer, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, initiator_id, recipient_id, status, offered_items, requested_items, cash_adjustment, created_at, expires_at
		FROM trade_offers`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var offers []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(r rowScanner) (*Offer, error) {
	var o Offer
	var offered, requested, cash string
	if err := r.Scan(&o.ID, &o.InitiatorID, &o.RecipientID, &o.Status, &offered, &requested, &cash, &o.CreatedAt, &o.ExpiresAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(offered), &o.Offered); err != nil {
		return nil, fmt.Errorf("unmarshal offered items: %w", err)
	}
	if err := json.Unmarshal([]byte(requested), &o.Requested); err != nil {
		return nil, fmt.Errorf("unmarshal requested items: %w", err)
	}
	adj, err := decimal.NewFromString(cash)
	if err != nil {
		return nil, fmt.Errorf("parse cash adjustment: %w", err)
	}
	o.CashAdjustment = adj
	return &o, nil
}
