package mediakit

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	logMu         sync.RWMutex
	packageLogger = hclog.New(&hclog.LoggerOptions{
		Name:  "mediakit",
		Level: hclog.Info,
	})
)

// Logger returns the package logger.
func Logger() hclog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return packageLogger
}

// SetLogger replaces the package logger. A nil logger discards output.
func SetLogger(l hclog.Logger) {
	if l == nil {
		l = hclog.NewNullLogger()
	}
	logMu.Lock()
	packageLogger = l
	logMu.Unlock()
}

// NewLogger builds a named logger at the given level ("trace", "debug",
// "info", "warn", "error"). Unknown levels fall back to info.
func NewLogger(name, level string, json bool) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      lvl,
		JSONFormat: json,
	})
}

func loggerOr(l hclog.Logger) hclog.Logger {
	if l != nil {
		return l
	}
	return Logger()
}
