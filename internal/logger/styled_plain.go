package logger

import (
	"fmt"
	"log/slog"
)

// PlainStyledLogger implements StyledLogger without terminal styling,
// for JSON/non-TTY output.
type PlainStyledLogger struct {
	logger *slog.Logger
}

func NewPlainStyledLogger(logger *slog.Logger) *PlainStyledLogger {
	return &PlainStyledLogger{
		logger: logger,
	}
}

func (sl *PlainStyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *PlainStyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *PlainStyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *PlainStyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *PlainStyledLogger) InfoWithSession(msg string, sessionID uint64, args ...any) {
	styledMsg := fmt.Sprintf("%s #%d", msg, sessionID)
	sl.logger.Info(styledMsg, args...)
}

func (sl *PlainStyledLogger) InfoWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, endpoint)
	sl.logger.Info(styledMsg, args...)
}

func (sl *PlainStyledLogger) WarnWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, endpoint)
	sl.logger.Warn(styledMsg, args...)
}

func (sl *PlainStyledLogger) ErrorWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, endpoint)
	sl.logger.Error(styledMsg, args...)
}

func (sl *PlainStyledLogger) InfoWithBytes(msg string, bytes int64, args ...any) {
	styledMsg := fmt.Sprintf("%s %d bytes", msg, bytes)
	sl.logger.Info(styledMsg, args...)
}

func (sl *PlainStyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

func (sl *PlainStyledLogger) WithAttrs(attrs ...slog.Attr) StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &PlainStyledLogger{
		logger: sl.logger.With(args...),
	}
}

func (sl *PlainStyledLogger) With(args ...any) StyledLogger {
	return &PlainStyledLogger{
		logger: sl.logger.With(args...),
	}
}
