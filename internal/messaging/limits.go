package messaging

import (
	"fmt"
	"log/slog"
)

// WhatsApp interactive message limits.
const (
	MaxTextBodyLength        = 4096
	MaxInteractiveBodyLength = 1024
	MaxButtons               = 3
	MaxButtonTitleLength     = 20
	MaxListButtonTextLength  = 20
	MaxListRows              = 10
	MaxRowTitleLength        = 24
	MaxRowDescriptionLength  = 72
)

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	slog.Warn("messaging: truncating text to provider limit", "limit", n, "length", len(r))
	return string(r[:n])
}

func checkButtons(count int) error {
	if count == 0 {
		return fmt.Errorf("%w: no buttons", ErrInvalidAction)
	}
	if count > MaxButtons {
		return fmt.Errorf("%w: %d buttons exceeds limit of %d", ErrInvalidAction, count, MaxButtons)
	}
	return nil
}

func checkRows(count int) error {
	if count == 0 {
		return fmt.Errorf("%w: list has no rows", ErrInvalidAction)
	}
	if count > MaxListRows {
		return fmt.Errorf("%w: %d rows exceeds limit of %d", ErrInvalidAction, count, MaxListRows)
	}
	return nil
}
