// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — cold-path logging helpers
//
// Purpose:
//   - Builds the process logger from the configured level and format.
//   - Keeps the short DropError / DropMessage helpers for one-off
//     diagnostics: CLI wiring, recorder shutdown, metrics listener errors.
//
// Notes:
//   - Everything goes through log/slog; the helpers log on slog.Default().
//   - prefix becomes the "tag" attribute so lines stay greppable.
//
// ⚠️ Never invoke in hot loops — use only in failure diagnostics.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Formats accepted by NewLogger.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ParseLevel maps debug, info, warn and error (any case) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("debug: log level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds a text or JSON logger writing to w.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: l}
	switch strings.ToLower(format) {
	case FormatText, "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("debug: unknown log format %q", format)
	}
}

// DropError logs err under prefix at error level. A nil err logs the
// prefix alone as a warning.
func DropError(prefix string, err error) {
	if err != nil {
		slog.Error(err.Error(), "tag", prefix)
		return
	}
	slog.Warn(prefix, "tag", prefix)
}

// DropMessage logs a tagged informational message.
func DropMessage(prefix, message string) {
	slog.Info(message, "tag", prefix)
}
