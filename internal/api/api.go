// Package api provides the HTTP surface of FlowDesk.
//
// It exposes the WhatsApp Cloud API webhook (verification handshake and event
// delivery), the Twilio inbound webhook, the recorded delivery receipts and a
// health probe. Every webhook event is handed to the dispatcher.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/messaging"
	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultMaxBodyBytes caps webhook request bodies.
	DefaultMaxBodyBytes = 1 << 20
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second
)

// MessageHandler processes inbound events. It is implemented by dispatcher.Dispatcher.
type MessageHandler interface {
	Handle(ctx context.Context, raw []byte) (*models.OutboundAction, error)
	HandleMessage(ctx context.Context, msg models.InboundMessage) (*models.OutboundAction, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr         string
	VerifyToken  string
	AppSecret    string
	MaxBodyBytes int64
	Twilio       *messaging.TwilioService
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the token expected in the webhook verification handshake.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithAppSecret enables X-Hub-Signature-256 checks on webhook deliveries.
func WithAppSecret(secret string) Option {
	return func(o *Opts) { o.AppSecret = secret }
}

// WithMaxBodyBytes caps webhook request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(o *Opts) { o.MaxBodyBytes = n }
}

// WithTwilio mounts the Twilio inbound webhook backed by svc.
func WithTwilio(svc *messaging.TwilioService) Option {
	return func(o *Opts) { o.Twilio = svc }
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	handler      MessageHandler
	receipts     store.ReceiptStore
	twilio       *messaging.TwilioService
	verifyToken  string
	appSecret    string
	maxBodyBytes int64
	addr         string
	router       chi.Router
}

// NewServer creates a Server and builds its routes.
func NewServer(handler MessageHandler, receipts store.ReceiptStore, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, MaxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		handler:      handler,
		receipts:     receipts,
		twilio:       cfg.Twilio,
		verifyToken:  cfg.VerifyToken,
		appSecret:    cfg.AppSecret,
		maxBodyBytes: cfg.MaxBodyBytes,
		addr:         cfg.Addr,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Get("/webhook", s.verifyHandler)
	r.Post("/webhook", s.webhookHandler)
	if s.twilio != nil {
		r.Post("/twilio/webhook", s.twilioWebhookHandler)
	}
	r.Get("/receipts", s.receiptsHandler)
	return r
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("FlowDesk API listening", "addr", s.addr, "twilio", s.twilio != nil, "signature_check", s.appSecret != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			slog.Error("Server.Run: server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: forced shutdown", "error", err)
		return err
	}
	slog.Info("Server.Run: stopped")
	return nil
}
