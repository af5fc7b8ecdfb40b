package logger

import (
	"github.com/ThreeDotsLabs/watermill"
)

// watermillAdapter lets watermill publishers and subscribers log through our Logger
type watermillAdapter struct {
	logger Logger
}

// Watermill adapts Logger to watermill.LoggerAdapter
// Watermill trace messages are logged at debug level
func Watermill(l Logger) watermill.LoggerAdapter {
	return &watermillAdapter{logger: l.WithGroup("watermill")}
}

func (a *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(args(fields), "error", err)...)
}

func (a *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, args(fields)...)
}

func (a *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, args(fields)...)
}

func (a *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, args(fields)...)
}

func (a *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillAdapter{logger: a.logger.With(args(fields)...)}
}

func args(fields watermill.LogFields) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
