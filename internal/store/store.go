// Package store provides session storage backends for FlowDesk.
//
// Every backend persists per-user sessions, serializes the read-modify-write
// window of one user with a per-key lock, deduplicates inbound message IDs and
// records delivery receipts. Backends: in-memory, SQLite, PostgreSQL and Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// DefaultSessionTTL is the default idle expiry for sessions.
const DefaultSessionTTL = 24 * time.Hour

// ErrLockTimeout is returned when a per-user lock could not be acquired in time.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// SessionStore persists sessions keyed by user ID.
type SessionStore interface {
	// GetSession returns the stored session and whether it exists.
	GetSession(ctx context.Context, userID string) (models.Session, bool, error)
	// SaveSession inserts or replaces the session.
	SaveSession(ctx context.Context, s models.Session) error
	// DeleteSession removes the session if present.
	DeleteSession(ctx context.Context, userID string) error
	// DeleteExpiredSessions removes sessions last updated before the cutoff.
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// Locker provides per-key mutual exclusion. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// RecordInbound records a message ID. Returns false if it was already recorded.
	RecordInbound(ctx context.Context, messageID, userID string) (bool, error)
	// MarkProcessed sets the processed timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error
	// ReleaseInbound forgets a message ID so a provider retry is processed again.
	ReleaseInbound(ctx context.Context, messageID string) error
	// PruneInbound removes records received before the cutoff.
	PruneInbound(ctx context.Context, before time.Time) (int64, error)
}

// ReceiptStore records delivery receipts.
type ReceiptStore interface {
	AddReceipt(ctx context.Context, r models.Receipt) error
	GetReceipts(ctx context.Context) ([]models.Receipt, error)
}

// Store is implemented by every backend.
type Store interface {
	SessionStore
	Locker
	DedupRepo
	ReceiptStore
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	Backend       string        // memory, sqlite, postgres or redis; detected when empty
	DSN           string        // SQLite path or PostgreSQL connection string
	RedisURL      string        // redis:// URL, takes precedence over RedisAddr
	RedisAddr     string        // host:port
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration // native key expiry for Redis sessions
	LockTimeout   time.Duration // upper bound on waiting for a per-user lock
	LockLease     time.Duration // Redis lease; renewed while the lock is held
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithBackend selects the backend explicitly.
func WithBackend(name string) Option {
	return func(o *Opts) { o.Backend = name }
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		if o.Backend == "" {
			o.Backend = BackendSQLite
		}
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		if o.Backend == "" {
			o.Backend = BackendPostgres
		}
	}
}

// WithRedisURL sets the Redis connection URL.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.RedisURL = url }
}

// WithRedisAddr sets the Redis address, password and database number.
func WithRedisAddr(addr, password string, db int) Option {
	return func(o *Opts) {
		o.RedisAddr = addr
		o.RedisPassword = password
		o.RedisDB = db
	}
}

// WithSessionTTL sets the idle expiry applied natively by backends that support it.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// WithLockTimeout bounds how long Lock waits for a busy key.
func WithLockTimeout(d time.Duration) Option {
	return func(o *Opts) { o.LockTimeout = d }
}

// WithLockLease sets how long a Redis lock survives a holder that stopped renewing it.
func WithLockLease(d time.Duration) Option {
	return func(o *Opts) { o.LockLease = d }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or keyword DSNs and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the configured backend. Without an explicit backend it picks
// Redis when a Redis target is set, then the DSN type, then memory.
func Open(ctx context.Context, opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	backend := cfg.Backend
	if backend == "" {
		switch {
		case cfg.RedisURL != "" || cfg.RedisAddr != "":
			backend = BackendRedis
		case cfg.DSN != "" && DetectDSNType(cfg.DSN) == "postgres":
			backend = BackendPostgres
		case cfg.DSN != "":
			backend = BackendSQLite
		default:
			backend = BackendMemory
		}
	}
	slog.Debug("store.Open: opening session store", "backend", backend, "dsn_set", cfg.DSN != "")

	switch backend {
	case BackendMemory:
		return NewInMemoryStore(opts...), nil
	case BackendSQLite:
		return NewSQLiteStore(opts...)
	case BackendPostgres:
		return NewPostgresStore(opts...)
	case BackendRedis:
		return NewRedisStore(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown session store backend %q", backend)
	}
}
