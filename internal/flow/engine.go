// Package flow implements the conversation state machine that drives each user
// through the menu, the registration steps and the AI chat.
//
// The engine is pure: it never performs I/O. Handle returns the next session and
// the outbound action as data, plus requests for the collaborator calls
// (AI completion, registration append) that the dispatcher performs before
// settling the transition with ResolveCompletion or ResolveRecord.
package flow

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// Menu option identifiers carried by button and list replies.
const (
	OptionRegister = "register"
	OptionAIChat   = "ai_chat"
)

// DefaultHistoryCap is the default maximum number of AI history entries.
const DefaultHistoryCap = 20

// DefaultExitKeywords return an AI chat session to the menu.
var DefaultExitKeywords = []string{"menu", "/menu", "exit", "salir"}

// Texts holds the user-facing copy of the engine.
type Texts struct {
	MenuBody       string
	RegisterTitle  string
	AIChatTitle    string
	Greeting       string
	TextOnly       string
	AIFallback     string
	WelcomeHeader  string // formatted with the collected first name, or "there"
	RecordFallback string
}

// DefaultTexts returns the default English copy.
func DefaultTexts() Texts {
	return Texts{
		MenuBody:       "Hi! What would you like to do?",
		RegisterTitle:  "Register",
		AIChatTitle:    "Chat with us",
		Greeting:       "You're now chatting with our assistant. Ask me anything! Send \"menu\" at any time to go back.",
		TextOnly:       "I can only read text messages here. Send your question as text, or \"menu\" to go back.",
		AIFallback:     "Sorry, I can't answer that right now. Please try again in a moment.",
		WelcomeHeader:  "Welcome aboard, %s! Your registration is complete.",
		RecordFallback: "Thanks for registering! We couldn't save your details right now. Please try again later.",
	}
}

// Opts holds configuration options for the engine.
type Opts struct {
	Steps        []Step
	HistoryCap   int
	ExitKeywords []string
	Texts        *Texts
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithSteps replaces the registration table.
func WithSteps(steps []Step) Option {
	return func(o *Opts) { o.Steps = steps }
}

// WithHistoryCap sets the maximum AI history length. It must be even and at least 2.
func WithHistoryCap(n int) Option {
	return func(o *Opts) { o.HistoryCap = n }
}

// WithExitKeywords sets the keywords that leave the AI chat.
func WithExitKeywords(keywords ...string) Option {
	return func(o *Opts) { o.ExitKeywords = keywords }
}

// WithTexts replaces the user-facing copy.
func WithTexts(t Texts) Option {
	return func(o *Opts) { o.Texts = &t }
}

// Engine is the per-user conversation state machine.
type Engine struct {
	steps      []Step
	historyCap int
	exit       map[string]struct{}
	texts      Texts
}

// Transition is the result of handling one inbound message.
type Transition struct {
	// Session is the next state to persist.
	Session models.Session
	// Action is the message to send, nil when nothing should be sent or when
	// a completion is pending.
	Action *models.OutboundAction
	// Completion is the bounded history to send to the AI collaborator.
	// Non-nil means ResolveCompletion must settle the transition.
	Completion []models.HistoryEntry
	// Registration is the finished registration to append to the tabular store.
	// Non-nil means ResolveRecord must settle the action.
	Registration *models.Registration
	// Signal carries ErrInvalidStepInput or ErrUnknownSelection for logging.
	Signal error

	prior models.Session
}

// NewEngine creates an engine with the given options.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := Opts{HistoryCap: DefaultHistoryCap, ExitKeywords: DefaultExitKeywords}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Steps == nil {
		cfg.Steps = DefaultSteps()
	}
	if err := ValidateSteps(cfg.Steps); err != nil {
		return nil, err
	}
	if cfg.HistoryCap < 2 || cfg.HistoryCap%2 != 0 {
		return nil, fmt.Errorf("history cap must be an even number >= 2, got %d", cfg.HistoryCap)
	}
	texts := DefaultTexts()
	if cfg.Texts != nil {
		texts = *cfg.Texts
	}
	exit := make(map[string]struct{}, len(cfg.ExitKeywords))
	for _, k := range cfg.ExitKeywords {
		exit[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}
	slog.Debug("flow.NewEngine: engine created", "steps", len(cfg.Steps), "historyCap", cfg.HistoryCap, "exitKeywords", len(exit))
	return &Engine{steps: cfg.Steps, historyCap: cfg.HistoryCap, exit: exit, texts: texts}, nil
}

// Steps returns the registration table.
func (e *Engine) Steps() []Step {
	return e.steps
}

// HistoryCap returns the configured AI history cap.
func (e *Engine) HistoryCap() int {
	return e.historyCap
}

// Handle decides the next state and action for msg given the current session.
// Status receipts leave the session untouched and produce no action.
func (e *Engine) Handle(session models.Session, msg models.InboundMessage, now time.Time) Transition {
	if msg.Kind == models.KindStatus {
		return Transition{Session: session, prior: session}
	}

	next := session.Clone()
	next.LastUpdated = now

	var t Transition
	switch session.Flow {
	case models.FlowRegistering:
		t = e.handleRegistering(next, msg, now)
	case models.FlowAIChat:
		t = e.handleAIChat(next, msg, now)
	case models.FlowNone:
		t = e.handleNone(next, msg)
	default:
		slog.Warn("Engine.Handle: unknown flow, resetting session", "userID", session.UserID, "flow", session.Flow)
		t = e.menu(reset(next))
	}
	t.prior = session
	return t
}

func (e *Engine) handleNone(s models.Session, msg models.InboundMessage) Transition {
	if !msg.IsSelection() {
		return e.menu(s)
	}
	switch msg.SelectionID {
	case OptionRegister:
		s = reset(s)
		s.Flow = models.FlowRegistering
		s.Step = 0
		return e.send(s, models.TextAction(s.UserID, e.steps[0].Prompt))
	case OptionAIChat:
		s = reset(s)
		s.Flow = models.FlowAIChat
		return e.send(s, models.TextAction(s.UserID, e.texts.Greeting))
	default:
		t := e.menu(s)
		t.Signal = fmt.Errorf("%w: %q", models.ErrUnknownSelection, msg.SelectionID)
		return t
	}
}

// menu returns the top-level menu without changing the flow.
func (e *Engine) menu(s models.Session) Transition {
	return e.send(s, e.MenuAction(s.UserID))
}

// MenuAction builds the top-level menu for userID.
func (e *Engine) MenuAction(userID string) models.OutboundAction {
	return models.ButtonsAction(userID, e.texts.MenuBody,
		models.Button{ID: OptionRegister, Title: e.texts.RegisterTitle},
		models.Button{ID: OptionAIChat, Title: e.texts.AIChatTitle},
	)
}

func (e *Engine) send(s models.Session, a models.OutboundAction) Transition {
	return Transition{Session: s, Action: &a}
}

// reset returns s in the NONE flow with all flow data cleared.
func reset(s models.Session) models.Session {
	s.Flow = models.FlowNone
	s.Step = 0
	s.CollectedFields = nil
	s.AIHistory = nil
	return s
}
