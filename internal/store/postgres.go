package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/FlowDesk/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultMaxLockConns caps the separate pool that holds advisory locks
	DefaultMaxLockConns = 25
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists sessions in PostgreSQL. Per-user locks are session
// advisory locks, so several processes can share one database. Each held lock
// pins a connection from the locks pool, never from db, so lock holders can
// always reach their sessions.
type PostgresStore struct {
	db          *sql.DB
	locks       *sql.DB
	lockTimeout time.Duration
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	locks, err := sql.Open("postgres", dsn)
	if err != nil {
		db.Close()
		return nil, err
	}
	locks.SetMaxOpenConns(DefaultMaxLockConns)
	locks.SetMaxIdleConns(DefaultMaxLockConns)
	locks.SetConnMaxLifetime(DefaultConnMaxLifetime)
	return &PostgresStore{db: db, locks: locks, lockTimeout: cfg.LockTimeout}, nil
}

// GetSession retrieves the session for a user.
func (s *PostgresStore) GetSession(ctx context.Context, userID string) (models.Session, bool, error) {
	var (
		sess      models.Session
		stateData sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, flow, step, state_data, last_updated FROM sessions WHERE user_id = $1`, userID,
	).Scan(&sess.UserID, &sess.Flow, &sess.Step, &stateData, &sess.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetSession not found", "userID", userID)
		return models.Session{}, false, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "userID", userID)
		return models.Session{}, false, fmt.Errorf("get session %s: %w", userID, err)
	}
	sess.LastUpdated = sess.LastUpdated.UTC()
	if err := decodeSessionData(&sess, stateData.String); err != nil {
		slog.Error("PostgresStore GetSession decode failed", "error", err, "userID", userID)
		return models.Session{}, false, err
	}
	return sess, true, nil
}

// SaveSession stores or updates the session for a user.
func (s *PostgresStore) SaveSession(ctx context.Context, sess models.Session) error {
	data, err := encodeSessionData(sess)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sessions (user_id, flow, step, state_data, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id)
		DO UPDATE SET
			flow = EXCLUDED.flow,
			step = EXCLUDED.step,
			state_data = EXCLUDED.state_data,
			last_updated = EXCLUDED.last_updated`
	_, err = s.db.ExecContext(ctx, query, sess.UserID, string(sess.Flow), sess.Step, nilIfEmpty(data), sess.LastUpdated)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("save session %s: %w", sess.UserID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "userID", sess.UserID, "flow", sess.Flow, "step", sess.Step)
	return nil
}

// DeleteSession removes the session for a user.
func (s *PostgresStore) DeleteSession(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "userID", userID)
		return fmt.Errorf("delete session %s: %w", userID, err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions idle since before the cutoff.
func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_updated < $1`, before)
	if err != nil {
		slog.Error("PostgresStore DeleteExpiredSessions failed", "error", err)
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// Lock takes a session-level advisory lock on a connection pinned from the
// locks pool. When that pool is exhausted Lock waits up to the lock timeout.
// The unlock function releases the lock and returns the connection.
func (s *PostgresStore) Lock(ctx context.Context, key string) (func(), error) {
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	conn, err := s.locks.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: key %s: %v", ErrLockTimeout, key, err)
		}
		return nil, fmt.Errorf("lock %s: acquire connection: %w", key, err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: key %s: %v", ErrLockTimeout, key, err)
		}
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			slog.Error("PostgresStore.Lock: unlock failed", "error", err, "key", key)
		}
		conn.Close()
	}, nil
}

func (s *PostgresStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (message_id, recipient, status, time) VALUES ($1, $2, $3, $4)`,
		nilIfEmpty(r.MessageID), r.To, string(r.Status), r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *PostgresStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, recipient, status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	if err := s.locks.Close(); err != nil {
		slog.Warn("Failed to close PostgreSQL lock pool", "error", err)
	}
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
