package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// sessionData is the JSON-encoded part of a session row.
type sessionData struct {
	CollectedFields []models.Field        `json:"collected_fields,omitempty"`
	AIHistory       []models.HistoryEntry `json:"ai_history,omitempty"`
}

func encodeSessionData(s models.Session) (string, error) {
	if len(s.CollectedFields) == 0 && len(s.AIHistory) == 0 {
		return "", nil
	}
	b, err := json.Marshal(sessionData{CollectedFields: s.CollectedFields, AIHistory: s.AIHistory})
	if err != nil {
		return "", fmt.Errorf("encode session data for %s: %w", s.UserID, err)
	}
	return string(b), nil
}

func decodeSessionData(s *models.Session, data string) error {
	if data == "" {
		return nil
	}
	var d sessionData
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return fmt.Errorf("decode session data for %s: %w", s.UserID, err)
	}
	s.CollectedFields = d.CollectedFields
	s.AIHistory = d.AIHistory
	return nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanReceipts reads receipt rows of (message_id, recipient, status, time).
func scanReceipts(rows *sql.Rows) ([]models.Receipt, error) {
	var receipts []models.Receipt
	for rows.Next() {
		var (
			r         models.Receipt
			messageID sql.NullString
		)
		if err := rows.Scan(&messageID, &r.To, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.MessageID = messageID.String
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}
