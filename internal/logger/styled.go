// internal/logger/styled.go
package logger

import (
	"log/slog"

	"github.com/kestrelproxy/kestrel/internal/util"
	"github.com/kestrelproxy/kestrel/internal/theme"
)

// StyledLogger is the capability callers use for connection-flavoured
// logging: plain slog passthroughs plus helpers that highlight a
// session id, an endpoint (client or origin), or a byte count when the
// output is a colour terminal, and fall back to plain text otherwise.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	InfoWithSession(msg string, sessionID uint64, args ...any)
	InfoWithEndpoint(msg string, endpoint string, args ...any)
	WarnWithEndpoint(msg string, endpoint string, args ...any)
	ErrorWithEndpoint(msg string, endpoint string, args ...any)
	InfoWithBytes(msg string, bytes int64, args ...any)

	GetUnderlying() *slog.Logger
	WithAttrs(attrs ...slog.Attr) StyledLogger
	With(args ...any) StyledLogger
}

// NewStyledLogger picks the pretty or plain implementation based on
// whether the current output stream should use colour.
func NewStyledLogger(logger *slog.Logger, appTheme *theme.Theme) StyledLogger {
	if util.ShouldUseColors() {
		return NewPrettyStyledLogger(logger, appTheme)
	}
	return NewPlainStyledLogger(logger)
}
