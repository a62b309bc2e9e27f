package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// ExportJSONL writes a session's events to w as JSON Lines, one wire-format
// event per line, in sequence order. Used by `reins events --export` for
// audit handoff; the signatures travel with the records so a downstream
// verifier can re-check integrity.
func (s *Store) ExportJSONL(ctx context.Context, sessionID string, w io.Writer) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_json, signature FROM events WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("querying events for export: %w", err)
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	for rows.Next() {
		var eventJSON, signature string
		if err := rows.Scan(&eventJSON, &signature); err != nil {
			return count, fmt.Errorf("scanning event for export: %w", err)
		}
		line := struct {
			Event     json.RawMessage `json:"event"`
			Signature string          `json:"signature"`
		}{
			Event:     json.RawMessage(eventJSON),
			Signature: signature,
		}
		if err := enc.Encode(line); err != nil {
			return count, fmt.Errorf("writing export line: %w", err)
		}
		count++
	}
	return count, rows.Err()
}
