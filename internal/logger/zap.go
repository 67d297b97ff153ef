// Package logger provides a structured logger using Zap with Sentry integration.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const sentryFlushTimeout = 2 * time.Second

// sentryTagKeys are promoted from log fields to Sentry tags so lock
// incidents can be grouped by key and operation.
var sentryTagKeys = map[string]struct{}{
	"key":       {},
	"operation": {},
	"pool":      {},
	"command":   {},
}

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// SentryConfig holds Sentry configuration.
type SentryConfig struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64
}

// Logger wraps zap.Logger with Sentry integration.
type Logger struct {
	*zap.Logger
	sentryEnabled bool
}

// New creates a new Logger instance with optional Sentry integration.
func New(cfg Config, sentryCfg SentryConfig) (*Logger, error) {
	sentryEnabled := sentryCfg.Enabled && sentryCfg.DSN != ""
	if sentryEnabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryCfg.DSN,
			Environment:      sentryCfg.Environment,
			SampleRate:       sentryCfg.SampleRate,
			AttachStacktrace: true,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing sentry: %w", err)
		}
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	output, err := openOutput(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("opening log output: %w", err)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), output, level)
	if sentryEnabled {
		core = zapcore.NewTee(core, newSentryCore(level))
	}

	return &Logger{
		Logger:        zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)),
		sentryEnabled: sentryEnabled,
	}, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

func newEncoder(format string) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	return zapcore.NewJSONEncoder(encoderConfig)
}

func openOutput(output string) (zapcore.WriteSyncer, error) {
	switch output {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, err
		}

		return zapcore.AddSync(file), nil
	}
}

// Component returns a named child logger, e.g. "router" or "guard".
func (l *Logger) Component(name string) *zap.Logger {
	return l.Logger.Named(name)
}

// Sync flushes any buffered log entries and Sentry events.
func (l *Logger) Sync() error {
	if l.sentryEnabled {
		sentry.Flush(sentryFlushTimeout)
	}

	return l.Logger.Sync()
}

// With creates a child logger with the given fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		Logger:        l.Logger.With(fields...),
		sentryEnabled: l.sentryEnabled,
	}
}

// sentryCore forwards error-level entries to Sentry.
type sentryCore struct {
	zapcore.LevelEnabler
	fields []zapcore.Field
}

func newSentryCore(level zapcore.Level) *sentryCore {
	return &sentryCore{LevelEnabler: level}
}

func (c *sentryCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)

	return &sentryCore{LevelEnabler: c.LevelEnabler, fields: merged}
}

func (c *sentryCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if entry.Level >= zapcore.ErrorLevel {
		return checked.AddCore(entry, c)
	}

	return checked
}

func (c *sentryCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	sentry.CaptureEvent(buildEvent(entry, append(c.fields[:len(c.fields):len(c.fields)], fields...)))

	return nil
}

func (c *sentryCore) Sync() error {
	sentry.Flush(sentryFlushTimeout)

	return nil
}

// buildEvent converts a log entry into a Sentry event. Lock-related fields
// become tags, everything else goes to Extra.
func buildEvent(entry zapcore.Entry, fields []zapcore.Field) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = sentryLevel(entry.Level)
	event.Message = entry.Message
	event.Logger = entry.LoggerName
	event.Timestamp = entry.Time

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}

	event.Extra = make(map[string]interface{}, len(enc.Fields))
	for k, v := range enc.Fields {
		if _, ok := sentryTagKeys[k]; ok {
			if s, ok := v.(string); ok {
				event.Tags[k] = s

				continue
			}
		}
		event.Extra[k] = v
	}

	return event
}

func sentryLevel(level zapcore.Level) sentry.Level {
	switch level {
	case zapcore.DebugLevel:
		return sentry.LevelDebug
	case zapcore.InfoLevel:
		return sentry.LevelInfo
	case zapcore.WarnLevel:
		return sentry.LevelWarning
	case zapcore.ErrorLevel:
		return sentry.LevelError
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}
