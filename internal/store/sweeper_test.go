package store

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewInMemoryStore()
	s.SaveSession(ctx, models.NewSession("old", now.Add(-25*time.Hour)))
	s.SaveSession(ctx, models.NewSession("fresh", now.Add(-time.Hour)))

	sw := NewSweeper(s, s, DefaultSessionTTL)
	sw.now = func() time.Time { return now }

	if n := sw.Sweep(ctx); n != 1 {
		t.Errorf("expected 1 session removed, got %d", n)
	}
	if _, found, _ := s.GetSession(ctx, "fresh"); !found {
		t.Error("fresh session removed")
	}
}

func TestSweeper_PrunesDedupRecords(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	if _, err := s.RecordInbound(ctx, "wamid.old", "15551234567"); err != nil {
		t.Fatal(err)
	}

	sw := NewSweeper(s, s, 0)
	sw.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	sw.Sweep(ctx)

	isNew, err := s.RecordInbound(ctx, "wamid.old", "15551234567")
	if err != nil {
		t.Fatal(err)
	}
	if !isNew {
		t.Error("expected pruned message ID to be recorded as new")
	}
}
