// Package dispatcher is the entry point for inbound webhook events. It
// classifies each payload, runs one read-modify-write of the sender's session
// through the flow engine under a per-user lock, performs the collaborator
// calls the engine asks for and delivers the resulting outbound action.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/flow"
	"github.com/BTreeMap/FlowDesk/internal/genai"
	"github.com/BTreeMap/FlowDesk/internal/messaging"
	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/store"
	"github.com/BTreeMap/FlowDesk/internal/tabular"
	"github.com/BTreeMap/FlowDesk/internal/webhook"
	"github.com/google/uuid"
)

// DefaultAITimeout bounds a single completion call.
const DefaultAITimeout = 30 * time.Second

// Store is the subset of a session store backend the dispatcher uses.
type Store interface {
	store.SessionStore
	store.Locker
	store.DedupRepo
	store.ReceiptStore
}

// Opts holds configuration options for the Dispatcher.
type Opts struct {
	Validator  *webhook.Validator
	Dedup      bool
	SessionTTL time.Duration
	AITimeout  time.Duration
	Now        func() time.Time
}

// Option defines a configuration option for the Dispatcher.
type Option func(*Opts)

// WithValidator sets the payload validator.
func WithValidator(v *webhook.Validator) Option {
	return func(o *Opts) { o.Validator = v }
}

// WithDedup enables message ID deduplication ahead of the flow engine.
func WithDedup(enabled bool) Option {
	return func(o *Opts) { o.Dedup = enabled }
}

// WithSessionTTL sets the idle expiry applied when a session is read.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// WithAITimeout bounds each completion call.
func WithAITimeout(d time.Duration) Option {
	return func(o *Opts) { o.AITimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Dispatcher handles one inbound event per call.
type Dispatcher struct {
	validator *webhook.Validator
	engine    *flow.Engine
	store     Store
	completer genai.Completer
	writer    tabular.Writer
	sender    messaging.Sender

	dedup      bool
	sessionTTL time.Duration
	aiTimeout  time.Duration
	now        func() time.Time
}

// New creates a Dispatcher.
func New(engine *flow.Engine, st Store, completer genai.Completer, writer tabular.Writer, sender messaging.Sender, opts ...Option) (*Dispatcher, error) {
	if engine == nil || st == nil || completer == nil || writer == nil || sender == nil {
		return nil, errors.New("dispatcher requires engine, store, completer, writer and sender")
	}
	cfg := Opts{SessionTTL: store.DefaultSessionTTL, AITimeout: DefaultAITimeout, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Validator == nil {
		cfg.Validator = webhook.NewValidator()
	}
	slog.Debug("dispatcher.New: created", "dedup", cfg.Dedup, "sessionTTL", cfg.SessionTTL, "aiTimeout", cfg.AITimeout)
	return &Dispatcher{
		validator:  cfg.Validator,
		engine:     engine,
		store:      st,
		completer:  completer,
		writer:     writer,
		sender:     sender,
		dedup:      cfg.Dedup,
		sessionTTL: cfg.SessionTTL,
		aiTimeout:  cfg.AITimeout,
		now:        cfg.Now,
	}, nil
}

// Handle validates a raw Cloud API payload and processes it. A nil action with
// a nil error means the event was acknowledged without a reply. Schema failures
// wrap models.ErrMalformedPayload.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) (*models.OutboundAction, error) {
	msg, err := d.validator.Validate(raw)
	if err != nil {
		slog.Warn("Dispatcher.Handle: payload rejected", "error", err)
		return nil, err
	}
	return d.HandleMessage(ctx, msg)
}

// HandleMessage processes a normalized message. Only session store failures
// are returned as errors; they wrap models.ErrSessionStoreUnavailable.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg models.InboundMessage) (*models.OutboundAction, error) {
	if msg.Kind == models.KindStatus {
		d.recordStatus(ctx, msg)
		return nil, nil
	}
	if msg.UserID == "" {
		slog.Debug("Dispatcher.HandleMessage: event without sender ignored", "kind", msg.Kind)
		return nil, nil
	}
	slog.Info("Dispatcher.HandleMessage: incoming message", "userID", msg.UserID, "kind", msg.Kind, "messageID", msg.MessageID, "profile", msg.ProfileName)

	deduped := d.dedup && msg.MessageID != ""
	if deduped {
		fresh, err := d.store.RecordInbound(ctx, msg.MessageID, msg.UserID)
		if err != nil {
			return nil, unavailable("record inbound", err)
		}
		if !fresh {
			slog.Info("Dispatcher.HandleMessage: duplicate delivery dropped", "userID", msg.UserID, "messageID", msg.MessageID)
			return nil, nil
		}
	}

	action, err := d.process(ctx, msg)
	if err != nil {
		if deduped {
			if rerr := d.store.ReleaseInbound(context.WithoutCancel(ctx), msg.MessageID); rerr != nil {
				slog.Error("Dispatcher.HandleMessage: release inbound failed", "error", rerr, "messageID", msg.MessageID)
			}
		}
		return nil, err
	}
	if deduped {
		if err := d.store.MarkProcessed(ctx, msg.MessageID); err != nil {
			slog.Warn("Dispatcher.HandleMessage: mark processed failed", "error", err, "messageID", msg.MessageID)
		}
	}

	d.deliver(ctx, msg, action)
	return &action, nil
}

// process runs the locked read-modify-write of the user's session.
func (d *Dispatcher) process(ctx context.Context, msg models.InboundMessage) (models.OutboundAction, error) {
	unlock, err := d.store.Lock(ctx, msg.UserID)
	if err != nil {
		return models.OutboundAction{}, unavailable("lock session", err)
	}
	defer unlock()

	now := d.now()
	session, found, err := d.store.GetSession(ctx, msg.UserID)
	if err != nil {
		return models.OutboundAction{}, unavailable("get session", err)
	}
	if !found || session.Expired(now, d.sessionTTL) {
		if found {
			slog.Info("Dispatcher.process: session expired, starting over", "userID", msg.UserID, "flow", session.Flow, "lastUpdated", session.LastUpdated)
		}
		session = models.NewSession(msg.UserID, now)
	}

	t := d.engine.Handle(session, msg, now)
	if t.Signal != nil {
		slog.Debug("Dispatcher.process: engine signal", "userID", msg.UserID, "signal", t.Signal)
	}

	next := t.Session
	var action models.OutboundAction
	switch {
	case t.Completion != nil:
		reply, cerr := d.complete(ctx, t.Completion)
		if cerr != nil {
			slog.Warn("Dispatcher.process: completion failed", "userID", msg.UserID, "error", fmt.Errorf("%w: %v", models.ErrCollaboratorFailure, cerr))
		}
		next, action = d.engine.ResolveCompletion(t, reply, cerr, d.now())
	case t.Registration != nil:
		// settled after the save below
	case t.Action != nil:
		action = *t.Action
	default:
		action = d.engine.MenuAction(msg.UserID)
	}

	if err := d.store.SaveSession(ctx, next); err != nil {
		return models.OutboundAction{}, unavailable("save session", err)
	}
	// Append only once the reset session is committed; a retried delivery
	// must not append the same registration twice.
	if t.Registration != nil {
		action = d.appendRegistration(ctx, t)
	}
	slog.Debug("Dispatcher.process: session saved", "userID", next.UserID, "flow", next.Flow, "step", next.Step)
	return action, nil
}

func (d *Dispatcher) appendRegistration(ctx context.Context, t flow.Transition) models.OutboundAction {
	t.Registration.ID = uuid.NewString()
	err := d.writer.AppendRecord(ctx, *t.Registration)
	if err != nil {
		slog.Error("Dispatcher.appendRegistration: append registration failed", "userID", t.Registration.UserID, "registrationID", t.Registration.ID, "error", fmt.Errorf("%w: %v", models.ErrCollaboratorFailure, err))
	} else {
		slog.Info("Dispatcher.appendRegistration: registration stored", "userID", t.Registration.UserID, "registrationID", t.Registration.ID)
	}
	return d.engine.ResolveRecord(t, err)
}

func (d *Dispatcher) complete(ctx context.Context, history []models.HistoryEntry) (string, error) {
	if d.aiTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.aiTimeout)
		defer cancel()
	}
	return d.completer.Complete(ctx, history)
}

// deliver marks the inbound message read and sends the action. Failures are
// logged only; the session change is already committed.
func (d *Dispatcher) deliver(ctx context.Context, msg models.InboundMessage, action models.OutboundAction) {
	if msg.MessageID != "" {
		if err := d.sender.MarkRead(ctx, msg.MessageID); err != nil {
			slog.Warn("Dispatcher.deliver: mark read failed", "error", err, "messageID", msg.MessageID)
		}
	}
	if err := messaging.Deliver(ctx, d.sender, action); err != nil {
		slog.Error("Dispatcher.deliver: send failed", "userID", action.To, "kind", action.Kind, "error", fmt.Errorf("%w: %v", models.ErrCollaboratorFailure, err))
	}
}

func (d *Dispatcher) recordStatus(ctx context.Context, msg models.InboundMessage) {
	r := models.Receipt{MessageID: msg.MessageID, To: msg.UserID, Time: msg.Timestamp.Unix()}
	if msg.Status != nil {
		r = *msg.Status
	}
	slog.Info("Dispatcher.recordStatus: delivery status", "messageID", r.MessageID, "to", r.To, "status", r.Status)
	if err := d.store.AddReceipt(ctx, r); err != nil {
		slog.Warn("Dispatcher.recordStatus: add receipt failed", "error", err, "messageID", r.MessageID)
	}
}

func unavailable(op string, err error) error {
	slog.Error("Dispatcher: session store failure", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", models.ErrSessionStoreUnavailable, op, err)
}
