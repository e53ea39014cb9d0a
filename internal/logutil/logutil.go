// Package logutil creates scoped pion loggers from an optional factory.
package logutil

import (
	"io"

	"github.com/pion/logging"
)

var discard = &logging.DefaultLoggerFactory{
	Writer:          io.Discard,
	DefaultLogLevel: logging.LogLevelDisabled,
	ScopeLevels:     map[string]logging.LogLevel{},
}

// Scoped returns a logger for scope. A nil factory yields a logger that
// discards everything.
func Scoped(factory logging.LoggerFactory, scope string) logging.LeveledLogger {
	if factory == nil {
		return discard.NewLogger(scope)
	}
	return factory.NewLogger(scope)
}
