package store

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper removes expired sessions and stale dedup records. It is driven by
// the scheduler package.
type Sweeper struct {
	sessions SessionStore
	dedup    DedupRepo
	ttl      time.Duration
	now      func() time.Time
}

// NewSweeper creates a Sweeper. dedup may be nil.
func NewSweeper(sessions SessionStore, dedup DedupRepo, ttl time.Duration) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sweeper{sessions: sessions, dedup: dedup, ttl: ttl, now: time.Now}
}

// Sweep performs a single pass and returns the number of sessions removed.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.ttl)
	n, err := s.sessions.DeleteExpiredSessions(ctx, cutoff)
	if err != nil {
		slog.Error("Sweeper.Sweep: delete expired sessions failed", "error", err)
	} else if n > 0 {
		slog.Info("Sweeper.Sweep: removed expired sessions", "count", n)
	}
	if s.dedup != nil {
		pruned, err := s.dedup.PruneInbound(ctx, cutoff)
		if err != nil {
			slog.Error("Sweeper.Sweep: prune inbound failed", "error", err)
		} else if pruned > 0 {
			slog.Debug("Sweeper.Sweep: pruned dedup records", "count", pruned)
		}
	}
	return n
}
