package flow

import (
	"strings"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

func (e *Engine) handleAIChat(s models.Session, msg models.InboundMessage, now time.Time) Transition {
	if msg.Kind != models.KindText {
		return e.send(s, models.TextAction(s.UserID, e.texts.TextOnly))
	}
	if e.isExit(msg.Text) {
		return e.menu(reset(s))
	}

	s.AIHistory = appendBounded(s.AIHistory, models.HistoryEntry{Role: models.RoleUser, Text: msg.Text, At: now}, e.historyCap)
	return Transition{
		Session:    s,
		Completion: append([]models.HistoryEntry(nil), s.AIHistory...),
	}
}

func (e *Engine) isExit(text string) bool {
	_, ok := e.exit[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// appendBounded appends a user entry, first evicting the oldest pairs so the
// finished exchange (user + assistant) stays within limit.
func appendBounded(history []models.HistoryEntry, entry models.HistoryEntry, limit int) []models.HistoryEntry {
	for len(history)+2 > limit && len(history) >= 2 {
		history = history[2:]
	}
	out := make([]models.HistoryEntry, 0, len(history)+2)
	out = append(out, history...)
	return append(out, entry)
}

// ResolveCompletion settles a transition carrying a Completion request. On
// success the reply is appended as the assistant entry. On failure the session
// keeps its prior history and the user gets the fallback apology.
func (e *Engine) ResolveCompletion(t Transition, reply string, err error, now time.Time) (models.Session, models.OutboundAction) {
	userID := t.Session.UserID
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		s := t.prior.Clone()
		s.LastUpdated = now
		return s, models.TextAction(userID, e.texts.AIFallback)
	}
	s := t.Session.Clone()
	s.AIHistory = append(s.AIHistory, models.HistoryEntry{Role: models.RoleAssistant, Text: reply, At: now})
	return s, models.TextAction(userID, reply)
}
