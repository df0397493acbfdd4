// Package logger provides structured logging for GoExtract using zap.
package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dbsmedya/goextract/internal/config"
)

// Logger is a sugared zap logger that keeps its base for Sync.
type Logger struct {
	*zap.SugaredLogger
	base *zap.Logger
}

// New builds a Logger from configuration. An output other than stdout or
// stderr names a file that is appended to.
func New(cfg *config.LoggingConfig) (*Logger, error) {
	var (
		w     zapcore.WriteSyncer
		color = true
	)
	switch cfg.Output {
	case "", "stdout":
		w = zapcore.Lock(os.Stdout)
	case "stderr":
		w = zapcore.Lock(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w, color = zapcore.AddSync(f), false
	}
	return build(cfg, w, color), nil
}

// NewWriter builds a Logger that writes uncolored entries to w.
func NewWriter(cfg *config.LoggingConfig, w io.Writer) *Logger {
	return build(cfg, zapcore.AddSync(w), false)
}

// NewDefault returns an info level text logger on stderr, used when a
// component is constructed without one.
func NewDefault() *Logger {
	return build(&config.LoggingConfig{Level: "info", Format: "text"}, zapcore.Lock(os.Stderr), true)
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return wrap(zap.NewNop())
}

func build(cfg *config.LoggingConfig, w zapcore.WriteSyncer, color bool) *Logger {
	core := zapcore.NewCore(encoder(cfg.Format, color), w, parseLevel(cfg.Level))
	return wrap(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
}

func wrap(base *zap.Logger) *Logger {
	return &Logger{SugaredLogger: base.Sugar(), base: base}
}

// parseLevel maps a configured level name, defaulting to info.
func parseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil || level == "" {
		return zapcore.InfoLevel
	}
	return lvl
}

func encoder(format string, color bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.SecondsDurationEncoder

	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(ec)
}

func (l *Logger) with(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...), base: l.base}
}

// WithRun tags entries with a run id.
func (l *Logger) WithRun(runID string) *Logger { return l.with("run", runID) }

// WithKind tags entries with the kind being extracted.
func (l *Logger) WithKind(kind string) *Logger { return l.with("kind", kind) }

// WithPhase tags entries with the pipeline phase.
func (l *Logger) WithPhase(phase string) *Logger { return l.with("phase", phase) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}
