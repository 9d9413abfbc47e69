package observe

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a minimal structured logging interface.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
// - Ownership: WithFetch returns a logger bound to FetchMeta; the
//   returned logger may share state with the receiver.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	WithFetch(meta FetchMeta) Logger
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// zapLogger is the production Logger backed by zap.
type zapLogger struct {
	l *zap.Logger
}

// NewLogger creates a JSON structured logger writing to stderr at the
// given level.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a structured logger with a custom writer.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(w),
		parseLevel(level),
	)
	return &zapLogger{l: zap.New(core)}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithFetch returns a logger with fetch context attached.
func (z *zapLogger) WithFetch(meta FetchMeta) Logger {
	fields := []zap.Field{
		zap.String("fetch.target", meta.Target),
		zap.String("fetch.op_id", meta.OpID),
	}
	if meta.Resource != "" {
		fields = append(fields, zap.String("fetch.resource", meta.Resource))
	}
	if meta.Strategy != "" {
		fields = append(fields, zap.String("fetch.strategy", meta.Strategy))
	}
	return &zapLogger{l: z.l.With(fields...)}
}

func (z *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	z.l.Info(msg, zapFields(fields)...)
}

func (z *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	z.l.Warn(msg, zapFields(fields)...)
}

func (z *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	z.l.Error(msg, zapFields(fields)...)
}

func (z *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	z.l.Debug(msg, zapFields(fields)...)
}

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if isRedactedField(f.Key) {
			out = append(out, zap.String(f.Key, "[REDACTED]"))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

// isRedactedField returns true if the field should be redacted. The list
// covers identity material and relay credentials.
func isRedactedField(key string) bool {
	redactedKeys := map[string]bool{
		"fingerprint": true,
		"identity":    true,
		"relay_cred":  true,
		"cookie":      true,
		"password":    true,
		"secret":      true,
		"token":       true,
		"api_key":     true,
		"apiKey":      true,
		"credential":  true,
	}
	return redactedKeys[key]
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (l *noopLogger) Info(ctx context.Context, msg string, fields ...Field)  {}
func (l *noopLogger) Warn(ctx context.Context, msg string, fields ...Field)  {}
func (l *noopLogger) Error(ctx context.Context, msg string, fields ...Field) {}
func (l *noopLogger) Debug(ctx context.Context, msg string, fields ...Field) {}
func (l *noopLogger) WithFetch(meta FetchMeta) Logger                        { return l }

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return &noopLogger{} }

var _ Logger = (*zapLogger)(nil)
