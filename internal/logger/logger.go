// Package logger provides structured logging for the storage engine
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with engine-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "embedkv").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) Info(msg string) *zerolog.Event  { return l.zlog.Info().Str("msg", msg) }
func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }
func (l *Logger) Warn(msg string) *zerolog.Event  { return l.zlog.Warn().Str("msg", msg) }
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }
func (l *Logger) Fatal(msg string) *zerolog.Event { return l.zlog.Fatal().Str("msg", msg) }

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// CacheLogger returns a logger scoped to page cache events
func (l *Logger) CacheLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "cache").Logger()}
}

// WALLogger returns a logger scoped to write-ahead log events
func (l *Logger) WALLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "wal").Logger()}
}

// BtreeLogger returns a logger scoped to B+-tree structural events
func (l *Logger) BtreeLogger(db uint16) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "btree").Uint16("db", db).Logger()}
}

// TxnLogger returns a logger scoped to transaction lifecycle events
func (l *Logger) TxnLogger(txnID uint64) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "txn").Uint64("txn", txnID).Logger()}
}

// LogSplit logs a B+-tree node split
func (l *Logger) LogSplit(pageOffset uint64, pivotSlot int) {
	l.zlog.Debug().
		Str("component", "btree").
		Uint64("page", pageOffset).
		Int("pivot", pivotSlot).
		Msg("node split")
}

// LogMerge logs a B+-tree node merge
func (l *Logger) LogMerge(left, right uint64) {
	l.zlog.Debug().
		Str("component", "btree").
		Uint64("left", left).
		Uint64("right", right).
		Msg("node merge")
}

// LogRecovery logs the outcome of a WAL recovery pass
func (l *Logger) LogRecovery(entries, replayed int, dur time.Duration) {
	l.zlog.Info().
		Str("component", "wal").
		Int("entries", entries).
		Int("replayed", replayed).
		Dur("duration_ms", dur).
		Msg("recovery complete")
}

// LogConflict logs a transaction conflict
func (l *Logger) LogConflict(txnID uint64, key string) {
	l.zlog.Warn().
		Str("component", "txn").
		Uint64("txn", txnID).
		Str("key", key).
		Msg("transaction conflict")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{Level: "info", Pretty: true})
	}
	return globalLogger
}
