package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/FlowDesk/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists sessions in a single SQLite file. Per-user locks are
// process-local, so only one process may use a database file at a time.
type SQLiteStore struct {
	*KeyedMutex
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One writer at a time avoids SQLITE_BUSY under concurrent webhooks.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{KeyedMutex: NewKeyedMutex(cfg.LockTimeout), db: db}, nil
}

// GetSession retrieves the session for a user.
func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (models.Session, bool, error) {
	var (
		sess        models.Session
		stateData   sql.NullString
		lastUpdated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, flow, step, state_data, last_updated FROM sessions WHERE user_id = ?`, userID,
	).Scan(&sess.UserID, &sess.Flow, &sess.Step, &stateData, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetSession not found", "userID", userID)
		return models.Session{}, false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "userID", userID)
		return models.Session{}, false, fmt.Errorf("get session %s: %w", userID, err)
	}
	sess.LastUpdated = time.Unix(0, lastUpdated).UTC()
	if err := decodeSessionData(&sess, stateData.String); err != nil {
		slog.Error("SQLiteStore GetSession decode failed", "error", err, "userID", userID)
		return models.Session{}, false, err
	}
	return sess, true, nil
}

// SaveSession stores or replaces the session for a user.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess models.Session) error {
	data, err := encodeSessionData(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (user_id, flow, step, state_data, last_updated) VALUES (?, ?, ?, ?, ?)`,
		sess.UserID, string(sess.Flow), sess.Step, nilIfEmpty(data), sess.LastUpdated.UnixNano(),
	)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("save session %s: %w", sess.UserID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "userID", sess.UserID, "flow", sess.Flow, "step", sess.Step)
	return nil
}

// DeleteSession removes the session for a user.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "userID", userID)
		return fmt.Errorf("delete session %s: %w", userID, err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions idle since before the cutoff.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_updated < ?`, before.UnixNano())
	if err != nil {
		slog.Error("SQLiteStore DeleteExpiredSessions failed", "error", err)
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (message_id, recipient, status, time) VALUES (?, ?, ?, ?)`,
		nilIfEmpty(r.MessageID), r.To, string(r.Status), r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("SQLiteStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

func (s *SQLiteStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, recipient, status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
