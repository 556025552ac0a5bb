// Package tabular appends completed registrations to an external table.
package tabular

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

var (
	// ErrRecordRejected is returned when the table service refuses a record.
	ErrRecordRejected = errors.New("record rejected by table service")
)

// Writer appends one registration as a new row.
type Writer interface {
	AppendRecord(ctx context.Context, reg models.Registration) error
}

// LogWriter logs registrations instead of storing them. It is used when no
// table service is configured.
type LogWriter struct{}

func (LogWriter) AppendRecord(_ context.Context, reg models.Registration) error {
	attrs := []any{"id", reg.ID, "userID", reg.UserID, "completed_at", reg.CompletedAt}
	for _, f := range reg.Fields {
		attrs = append(attrs, f.Name, f.Value)
	}
	slog.Info("LogWriter.AppendRecord: registration completed", attrs...)
	return nil
}
