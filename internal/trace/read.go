package trace

import (
	"context"
	"fmt"
)

// SessionInfo is one recorded session.
type SessionInfo struct {
	Token    string
	Flow     string
	OpenedAt string
}

// Record is one persisted event row.
type Record struct {
	Seq         int64
	Kind        string
	FactID      uint64
	TypeTag     string
	Rule        string
	Group       string
	Payload     string
	PayloadHash string
	Err         string
}

// Sessions lists recorded sessions, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, flow, opened_at
		FROM sessions
		ORDER BY opened_at, token
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var si SessionInfo
		if err := rows.Scan(&si.Token, &si.Flow, &si.OpenedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, si)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Events returns a session's event log in sequence order.
func (s *Store) Events(ctx context.Context, session string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, fact_id, type_tag, rule, agenda_group, payload, payload_hash, err
		FROM events
		WHERE session = ?
		ORDER BY seq, id
	`, session)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.Seq, &rec.Kind, &rec.FactID, &rec.TypeTag,
			&rec.Rule, &rec.Group, &rec.Payload, &rec.PayloadHash, &rec.Err,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}
