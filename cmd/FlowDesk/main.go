package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/BTreeMap/FlowDesk/internal/api"
	"github.com/BTreeMap/FlowDesk/internal/config"
	"github.com/BTreeMap/FlowDesk/internal/dispatcher"
	"github.com/BTreeMap/FlowDesk/internal/flow"
	"github.com/BTreeMap/FlowDesk/internal/genai"
	"github.com/BTreeMap/FlowDesk/internal/lockfile"
	"github.com/BTreeMap/FlowDesk/internal/messaging"
	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/scheduler"
	"github.com/BTreeMap/FlowDesk/internal/store"
	"github.com/BTreeMap/FlowDesk/internal/tabular"
	"github.com/BTreeMap/FlowDesk/internal/twiliowhatsapp"
	"github.com/BTreeMap/FlowDesk/internal/whatsapp"
	"github.com/joho/godotenv"
)

// DefaultWhatsAppDBFileName is the whatsmeow device database inside the state directory.
const DefaultWhatsAppDBFileName = "whatsmeow.db"

// Flags holds command line values that are not environment variables.
type Flags struct {
	qrOutput string
	numeric  bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("FlowDesk failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("FlowDesk exited successfully")
}

func run(args []string) error {
	cfg, err := loadEnvironmentConfig()
	if err != nil {
		return err
	}
	flags, err := parseCommandLineFlags(cfg, flag.NewFlagSet("FlowDesk", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	initializeLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := storeBackend(cfg)
	if purpose := lockPurpose(cfg, backend); purpose != "" {
		lock, err := lockfile.AcquireLock(cfg.StateDir, purpose)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	slog.Info("Bootstrapping FlowDesk", "env", cfg.AppEnv, "store", backend, "messaging", cfg.MessagingBackend, "ai", cfg.AIProvider)
	st, err := store.Open(ctx, buildStoreOptions(cfg, backend)...)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()

	engine, err := flow.NewEngine(flow.WithHistoryCap(cfg.AIHistoryCap))
	if err != nil {
		return err
	}
	completer, err := buildCompleter(ctx, cfg)
	if err != nil {
		return err
	}
	writer, err := buildWriter(cfg)
	if err != nil {
		return err
	}
	msgr, err := buildMessaging(ctx, cfg, flags)
	if err != nil {
		return err
	}
	defer msgr.stop()

	d, err := dispatcher.New(engine, st, completer, writer, msgr.sender,
		dispatcher.WithDedup(cfg.DedupEnabled),
		dispatcher.WithSessionTTL(cfg.SessionTTL),
		dispatcher.WithAITimeout(cfg.AITimeout),
	)
	if err != nil {
		return err
	}

	if msgr.linked != nil {
		subscribeLinked(ctx, msgr.linked, msgr.linkedSvc, d, st)
	}

	sweeper := store.NewSweeper(st, st, cfg.SessionTTL)
	sched := scheduler.NewScheduler()
	if err := sched.AddJob("session sweep", cfg.SweepExpr(), func() { sweeper.Sweep(ctx) }); err != nil {
		return err
	}
	go sched.Run(ctx)

	server := api.NewServer(d, st, buildAPIOptions(cfg, msgr.twilio)...)
	return server.Run(ctx)
}

// initializeLogger sets up structured logging at the configured level and format.
func initializeLogger(w io.Writer, level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadEnvironmentConfig loads .env (if present) and parses the environment.
func loadEnvironmentConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.Debug("environment variables loaded",
		"APP_ENV", cfg.AppEnv,
		"MESSAGING_BACKEND", cfg.MessagingBackend,
		"SESSION_STORE", cfg.SessionStore,
		"REDIS_URL_SET", cfg.RedisURL != "",
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"FLOWDESK_STATE_DIR", cfg.StateDir,
		"AI_PROVIDER", cfg.AIProvider,
		"AI_KEY_SET", cfg.AIKey() != "",
		"API_ADDR", cfg.APIAddr)
	return cfg, nil
}

// parseCommandLineFlags applies flag overrides to cfg and returns the flag-only values.
func parseCommandLineFlags(cfg *config.Config, fs *flag.FlagSet, args []string) (Flags, error) {
	var flags Flags
	fs.StringVar(&flags.qrOutput, "qr-output", "", "path to write the linked-device login QR code")
	fs.BoolVar(&flags.numeric, "numeric-code", false, "print a numeric login code instead of a QR code")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for FlowDesk data (overrides $FLOWDESK_STATE_DIR)")
	fs.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "SQLite path or PostgreSQL DSN for the session store (overrides $DATABASE_URL)")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the session store (overrides $REDIS_URL)")
	fs.StringVar(&cfg.SessionStore, "session-store", cfg.SessionStore, "session store backend: redis, sqlite, postgres or memory (overrides $SESSION_STORE)")
	fs.StringVar(&cfg.MessagingBackend, "messaging", cfg.MessagingBackend, "messaging backend: cloud, twilio or linked (overrides $MESSAGING_BACKEND)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	slog.Debug("flags parsed",
		"qrOutput", flags.qrOutput,
		"numeric", flags.numeric,
		"stateDir", cfg.StateDir,
		"dbDSN_set", cfg.DatabaseURL != "",
		"sessionStore", cfg.SessionStore,
		"messaging", cfg.MessagingBackend,
		"apiAddr", cfg.APIAddr)
	return flags, nil
}

// storeBackend resolves the session store backend: explicit choice first,
// then Redis, then the DSN type, then SQLite in the state directory.
func storeBackend(cfg *config.Config) string {
	switch {
	case cfg.SessionStore != "":
		return cfg.SessionStore
	case cfg.RedisURL != "" || cfg.RedisHost != "":
		return store.BackendRedis
	case cfg.DatabaseURL != "" && store.DetectDSNType(cfg.DatabaseURL) == "postgres":
		return store.BackendPostgres
	default:
		return store.BackendSQLite
	}
}

// lockPurpose names what needs the state directory to itself, or "" when nothing does.
func lockPurpose(cfg *config.Config, backend string) string {
	switch {
	case backend == store.BackendSQLite && cfg.MessagingBackend == config.MessagingLinked:
		return "sqlite session store and linked device"
	case backend == store.BackendSQLite:
		return "sqlite session store"
	case cfg.MessagingBackend == config.MessagingLinked:
		return "linked device"
	default:
		return ""
	}
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(cfg *config.Config, backend string) []store.Option {
	opts := []store.Option{
		store.WithBackend(backend),
		store.WithSessionTTL(cfg.SessionTTL),
		store.WithLockTimeout(cfg.LockTimeout),
		store.WithLockLease(cfg.LockLease),
	}
	switch backend {
	case store.BackendRedis:
		if cfg.RedisURL != "" {
			opts = append(opts, store.WithRedisURL(cfg.RedisURL))
		} else {
			opts = append(opts, store.WithRedisAddr(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB))
		}
	case store.BackendPostgres:
		opts = append(opts, store.WithPostgresDSN(cfg.DatabaseURL))
	case store.BackendSQLite:
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = cfg.SQLitePath()
		}
		slog.Debug("Configuring SQLite store", "db_path", dsn)
		opts = append(opts, store.WithSQLiteDSN(dsn))
	}
	return opts
}

// buildCompleter constructs the AI completion collaborator.
func buildCompleter(ctx context.Context, cfg *config.Config) (genai.Completer, error) {
	prompt, err := genai.LoadSystemPrompt(cfg.AISystemPromptFile)
	if err != nil {
		return nil, err
	}
	opts := []genai.Option{genai.WithAPIKey(cfg.AIKey()), genai.WithSystemPrompt(prompt)}
	if cfg.AIModel != "" {
		opts = append(opts, genai.WithModel(cfg.AIModel))
	}
	return genai.New(ctx, cfg.AIProvider, opts...)
}

// buildWriter constructs the registration writer; without Airtable credentials
// registrations are only logged.
func buildWriter(cfg *config.Config) (tabular.Writer, error) {
	creds := cfg.Active()
	if creds.AirtableAPIKey == "" {
		slog.Warn("No Airtable credentials configured; registrations will only be logged")
		return tabular.LogWriter{}, nil
	}
	opts := []tabular.Option{
		tabular.WithAPIKey(creds.AirtableAPIKey),
		tabular.WithBase(creds.AirtableBaseID, creds.AirtableTable),
	}
	if cfg.AirtableBaseURL != "" {
		opts = append(opts, tabular.WithBaseURL(cfg.AirtableBaseURL))
	}
	return tabular.NewAirtableWriter(opts...)
}

// messagingSetup is the outbound sender plus the backend-specific pieces main wires.
type messagingSetup struct {
	sender    messaging.Sender
	twilio    *messaging.TwilioService
	linked    *whatsapp.Client
	linkedSvc *messaging.LinkedService
	stop      func()
}

// buildMessaging constructs the configured messaging backend.
func buildMessaging(ctx context.Context, cfg *config.Config, flags Flags) (*messagingSetup, error) {
	creds := cfg.Active()
	switch cfg.MessagingBackend {
	case config.MessagingTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(creds.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(creds.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(creds.TwilioFromNumber),
		)
		if err != nil {
			return nil, err
		}
		opts := []messaging.TwilioOption{messaging.WithMenuIdle(cfg.SessionTTL)}
		if creds.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithRequestValidation(creds.TwilioAuthToken, creds.TwilioWebhookURL))
		} else {
			slog.Warn("TWILIO_WEBHOOK_URL not set; Twilio webhook signatures will not be checked")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return &messagingSetup{sender: svc, twilio: svc, stop: func() { svc.Stop() }}, nil

	case config.MessagingLinked:
		dsn := cfg.WhatsAppDBDSN
		if dsn == "" {
			dsn = "file:" + filepath.Join(cfg.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		}
		opts := buildWhatsAppOptions(dsn, flags)
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return nil, err
		}
		svc := messaging.NewLinkedService(client, messaging.WithLinkedMenuIdle(cfg.SessionTTL))
		return &messagingSetup{sender: svc, linked: client, linkedSvc: svc, stop: func() { svc.Stop() }}, nil

	default:
		svc, err := messaging.NewCloudService(
			messaging.WithBaseURL(cfg.WPBaseURL),
			messaging.WithAPIVersion(cfg.APIVersion),
			messaging.WithPhoneNumberID(creds.WPPhoneID),
			messaging.WithAccessToken(creds.WPAccessToken),
		)
		if err != nil {
			return nil, err
		}
		return &messagingSetup{sender: svc, stop: func() {}}, nil
	}
}

// buildWhatsAppOptions constructs linked-device client options
func buildWhatsAppOptions(dsn string, flags Flags) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(dsn)}
	if flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.qrOutput))
	}
	if flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

// subscribeLinked feeds linked-device events into the dispatcher. whatsmeow
// calls handlers synchronously, so each message is handled on its own goroutine.
func subscribeLinked(ctx context.Context, client *whatsapp.Client, svc *messaging.LinkedService, d *dispatcher.Dispatcher, receipts store.ReceiptStore) {
	client.Subscribe(
		func(msg models.InboundMessage) {
			go func() {
				if _, err := d.HandleMessage(ctx, svc.Resolve(msg)); err != nil {
					slog.Error("linked device message failed", "error", err, "userID", msg.UserID)
				}
			}()
		},
		func(r models.Receipt) {
			if err := receipts.AddReceipt(ctx, r); err != nil {
				slog.Warn("linked device receipt not recorded", "error", err, "messageID", r.MessageID)
			}
		},
	)
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(cfg *config.Config, twilio *messaging.TwilioService) []api.Option {
	creds := cfg.Active()
	apiOpts := []api.Option{
		api.WithAddr(cfg.APIAddr),
		api.WithVerifyToken(creds.WebhookVerifyToken),
	}
	if creds.WPAppSecret != "" {
		apiOpts = append(apiOpts, api.WithAppSecret(creds.WPAppSecret))
	}
	if twilio != nil {
		apiOpts = append(apiOpts, api.WithTwilio(twilio))
	}
	return apiOpts
}
