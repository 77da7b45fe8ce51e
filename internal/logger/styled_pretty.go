package logger

import (
	"fmt"
	"log/slog"

	"github.com/kestrelproxy/kestrel/internal/theme"
)

// PrettyStyledLogger implements StyledLogger with pterm formatting,
// highlighting session ids, endpoints and byte counts for a TTY.
type PrettyStyledLogger struct {
	logger *slog.Logger
	Theme  *theme.Theme
}

func NewPrettyStyledLogger(logger *slog.Logger, theme *theme.Theme) *PrettyStyledLogger {
	return &PrettyStyledLogger{
		logger: logger,
		Theme:  theme,
	}
}

func (sl *PrettyStyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *PrettyStyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *PrettyStyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *PrettyStyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *PrettyStyledLogger) InfoWithSession(msg string, sessionID uint64, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Highlight.Sprintf("#%d", sessionID))
	sl.logger.Info(styledMsg, args...)
}

func (sl *PrettyStyledLogger) InfoWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Accent.Sprint(endpoint))
	sl.logger.Info(styledMsg, args...)
}

func (sl *PrettyStyledLogger) WarnWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Accent.Sprint(endpoint))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *PrettyStyledLogger) ErrorWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Accent.Sprint(endpoint))
	sl.logger.Error(styledMsg, args...)
}

func (sl *PrettyStyledLogger) InfoWithBytes(msg string, bytes int64, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Success.Sprintf("%d bytes", bytes))
	sl.logger.Info(styledMsg, args...)
}

func (sl *PrettyStyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

func (sl *PrettyStyledLogger) WithAttrs(attrs ...slog.Attr) StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &PrettyStyledLogger{
		logger: sl.logger.With(args...),
		Theme:  sl.Theme,
	}
}

func (sl *PrettyStyledLogger) With(args ...any) StyledLogger {
	return &PrettyStyledLogger{
		logger: sl.logger.With(args...),
		Theme:  sl.Theme,
	}
}
