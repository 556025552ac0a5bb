package models

import (
	"fmt"
	"time"
)

// FlowType identifies the conversation mode a session is in.
type FlowType string

const (
	// FlowNone means no structured flow is active; the user sees the menu.
	FlowNone FlowType = "NONE"
	// FlowRegistering means the user is answering the registration steps.
	FlowRegistering FlowType = "REGISTERING"
	// FlowAIChat means free text is forwarded to the AI completion collaborator.
	FlowAIChat FlowType = "AI_CHAT"
)

// IsValidFlowType checks if the given flow type is supported.
func IsValidFlowType(f FlowType) bool {
	switch f {
	case FlowNone, FlowRegistering, FlowAIChat:
		return true
	default:
		return false
	}
}

// Field is one validated registration answer. Sessions keep fields as a slice
// so collection order survives serialization.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Role is the author of an AI history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one message in the rolling AI exchange history.
type HistoryEntry struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at,omitempty"`
}

// Session is the persisted conversation state of one user.
type Session struct {
	UserID          string         `json:"user_id"`
	Flow            FlowType       `json:"flow"`
	Step            int            `json:"step,omitempty"`
	CollectedFields []Field        `json:"collected_fields,omitempty"`
	AIHistory       []HistoryEntry `json:"ai_history,omitempty"`
	LastUpdated     time.Time      `json:"last_updated"`
}

// NewSession returns the default session created on first contact.
func NewSession(userID string, now time.Time) Session {
	return Session{UserID: userID, Flow: FlowNone, LastUpdated: now}
}

// Clone returns a deep copy so callers can derive a new session without
// aliasing the slices of the original.
func (s Session) Clone() Session {
	c := s
	if s.CollectedFields != nil {
		c.CollectedFields = append([]Field(nil), s.CollectedFields...)
	}
	if s.AIHistory != nil {
		c.AIHistory = append([]HistoryEntry(nil), s.AIHistory...)
	}
	return c
}

// Field returns the collected value for name.
func (s Session) Field(name string) (string, bool) {
	for _, f := range s.CollectedFields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Expired reports whether the session has been idle longer than ttl.
// A non-positive ttl disables expiry.
func (s Session) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || s.LastUpdated.IsZero() {
		return false
	}
	return now.Sub(s.LastUpdated) > ttl
}

// Validate checks the flow-exclusive invariants of a session.
func (s Session) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("session user ID cannot be empty")
	}
	switch s.Flow {
	case FlowNone:
		if s.Step != 0 || len(s.CollectedFields) > 0 || len(s.AIHistory) > 0 {
			return fmt.Errorf("session %s: idle session carries flow data", s.UserID)
		}
	case FlowRegistering:
		if s.Step < 0 {
			return fmt.Errorf("session %s: negative step %d", s.UserID, s.Step)
		}
		if len(s.AIHistory) > 0 {
			return fmt.Errorf("session %s: registering session carries AI history", s.UserID)
		}
	case FlowAIChat:
		if s.Step != 0 || len(s.CollectedFields) > 0 {
			return fmt.Errorf("session %s: AI chat session carries registration data", s.UserID)
		}
		if len(s.AIHistory)%2 != 0 {
			return fmt.Errorf("session %s: AI history has odd length %d", s.UserID, len(s.AIHistory))
		}
	default:
		return fmt.Errorf("session %s: invalid flow type %q", s.UserID, s.Flow)
	}
	return nil
}

// Registration is a completed registration handed to the tabular store.
type Registration struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Fields      []Field   `json:"fields"`
	CompletedAt time.Time `json:"completed_at"`
}
