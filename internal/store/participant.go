package store

import "time"

// UpsertParticipant inserts or updates a participant record
// (idempotent on trade_id + user_id).
func (db *DB) UpsertParticipant(p *Participant) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO trade_participants (trade_id, user_id, is_typing, presence_status, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id, user_id) DO UPDATE SET
			is_typing = excluded.is_typing,
			presence_status = excluded.presence_status,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		p.TradeID, p.UserID, p.IsTyping, p.PresenceStatus, p.LastSeen, now)
	return err
}

// ListParticipants returns all participants for a trade.
func (db *DB) ListParticipants(tradeID string) ([]Participant, error) {
	rows, err := db.Query(`
		SELECT trade_id, user_id, is_typing, presence_status, last_seen
		FROM trade_participants
		WHERE trade_id = ?
		ORDER BY user_id ASC`, tradeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.TradeID, &p.UserID, &p.IsTyping, &p.PresenceStatus, &p.LastSeen); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// ReplaceParticipants replaces the full participant set for a trade in one
// transaction. Re-fetch-all replacement is what keeps duplicate change
// notifications harmless.
func (db *DB) ReplaceParticipants(tradeID string, participants []Participant) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM trade_participants WHERE trade_id = ?`, tradeID); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, p := range participants {
		if _, err := tx.Exec(`
			INSERT INTO trade_participants (trade_id, user_id, is_typing, presence_status, last_seen, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			tradeID, p.UserID, p.IsTyping, p.PresenceStatus, p.LastSeen, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}
