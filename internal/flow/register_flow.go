package flow

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

func (e *Engine) handleRegistering(s models.Session, msg models.InboundMessage, now time.Time) Transition {
	if s.Step < 0 || s.Step >= len(e.steps) {
		slog.Warn("Engine.handleRegistering: step out of range, resetting", "userID", s.UserID, "step", s.Step)
		return e.menu(reset(s))
	}
	step := e.steps[s.Step]

	if msg.Kind != models.KindText {
		t := e.send(s, models.TextAction(s.UserID, step.Prompt))
		t.Signal = fmt.Errorf("%w: %s reply while expecting %s", models.ErrInvalidStepInput, msg.Kind, step.Field)
		return t
	}

	value, err := step.Validate(msg.Text, now)
	if err != nil {
		retry := step.Retry
		if retry == "" {
			retry = step.Prompt
		}
		t := e.send(s, models.TextAction(s.UserID, retry))
		t.Signal = err
		return t
	}

	s.CollectedFields = append(s.CollectedFields, models.Field{Name: step.Field, Value: value})
	if s.Step < len(e.steps)-1 {
		s.Step++
		return e.send(s, models.TextAction(s.UserID, e.steps[s.Step].Prompt))
	}

	// Last step: drain the registration within this transition.
	reg := &models.Registration{
		UserID:      s.UserID,
		Fields:      s.CollectedFields,
		CompletedAt: now,
	}
	welcome := models.TextAction(s.UserID, e.welcome(reg.Fields))
	t := e.send(reset(s), welcome)
	t.Registration = reg
	return t
}

func (e *Engine) welcome(fields []models.Field) string {
	name := "there"
	var b strings.Builder
	for _, f := range fields {
		if words := strings.Fields(f.Value); f.Name == FieldName && len(words) > 0 {
			name = words[0]
		}
		fmt.Fprintf(&b, "\n%s: %s", e.label(f.Name), f.Value)
	}
	return fmt.Sprintf(e.texts.WelcomeHeader, name) + "\n" + b.String()
}

func (e *Engine) label(field string) string {
	for _, s := range e.steps {
		if s.Field == field && s.Label != "" {
			return s.Label
		}
	}
	return field
}

// ResolveRecord settles a transition carrying a Registration. The session was
// already reset by Handle, so a failed append only changes the message sent.
func (e *Engine) ResolveRecord(t Transition, err error) models.OutboundAction {
	if err == nil && t.Action != nil {
		return *t.Action
	}
	return models.TextAction(t.Session.UserID, e.texts.RecordFallback)
}
