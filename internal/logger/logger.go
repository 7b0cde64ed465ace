package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Type alias for slog.Level for easier usage
type Level = slog.Level

const (
	LevelTrace    = slog.Level(-8)
	LevelDebug    = slog.LevelDebug // -4
	LevelInfo     = slog.LevelInfo  // 0
	LevelWarning  = slog.LevelWarn  // 4
	LevelError    = slog.LevelError // 8
	LevelSecurity = slog.Level(10)
	LevelFatal    = slog.Level(12)
)

var (
	Logger          *slog.Logger
	errorSampleRate int32 = 100 // Log 1 out of every 100 errors by default (configurable via ERROR_SAMPLE_RATE)
	programLevel          = new(slog.LevelVar)
	shutdownFunc    func(context.Context) error // Shutdown function for OTEL (nil if not using OTEL)
)

// Counters for the metrics endpoint (incremented regardless of sampling)
var (
	TotalErrors         atomic.Int64
	TotalWarnings       atomic.Int64
	Total5xxErrors      atomic.Int64
	Total4xxErrors      atomic.Int64
	TotalRuleViolations atomic.Int64
	TotalSecurityEvents atomic.Int64
)

func init() {
	programLevel.Set(slog.LevelInfo)

	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "INFO"
	}

	level, err := ParseLevel(levelStr)
	if err != nil {
		level = slog.LevelInfo
	}
	programLevel.Set(level)

	// ERROR_SAMPLE_RATE=1 logs every sampled error/warning, 100 logs 1%
	if sampleStr := os.Getenv("ERROR_SAMPLE_RATE"); sampleStr != "" {
		if rate, err := strconv.Atoi(sampleStr); err == nil && rate > 0 {
			atomic.StoreInt32(&errorSampleRate, int32(rate))
		}
	}

	otelEnabled := strings.ToLower(os.Getenv("OTEL_ENABLED")) == "true"

	if otelEnabled {
		serviceName := os.Getenv("OTEL_SERVICE_NAME")
		if serviceName == "" {
			serviceName = "shoprules"
		}

		shutdown, err := setupOTELLogging(context.Background(), serviceName)
		if err != nil {
			// Fall back to JSON handler if OTEL setup fails
			fmt.Fprintf(os.Stderr, "Failed to setup OTEL logging, falling back to JSON: %v\n", err)
			setupJSONLogging(logWriter())
		} else {
			shutdownFunc = shutdown
		}
	} else {
		setupJSONLogging(logWriter())
	}
}

// logWriter returns stdout, or a rotating file when LOG_FILE is set
func logWriter() io.Writer {
	path := os.Getenv("LOG_FILE")
	if path == "" {
		return os.Stdout
	}

	maxSize := 100
	if v, err := strconv.Atoi(os.Getenv("LOG_FILE_MAX_SIZE_MB")); err == nil && v > 0 {
		maxSize = v
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize, // MB
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// setupJSONLogging configures JSON logging to w
func setupJSONLogging(w io.Writer) {
	opts := &slog.HandlerOptions{
		Level: programLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelSecurity {
					a.Value = slog.StringValue("SECURITY")
				}
			}
			return a
		},
	}

	Logger = slog.New(slog.NewJSONHandler(w, opts))
	slog.SetDefault(Logger)
}

// setupOTELLogging configures OpenTelemetry logging
func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	otelHandler := otelslog.NewHandler(
		serviceName,
		otelslog.WithLoggerProvider(loggerProvider),
	)

	Logger = slog.New(&levelHandler{
		level:   programLevel,
		handler: otelHandler,
	})
	slog.SetDefault(Logger)

	return loggerProvider.Shutdown, nil
}

// levelHandler wraps a handler to filter by level
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTEL exporter, if one is in use
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// SetOutput replaces the JSON handler destination. Used by tests.
func SetOutput(w io.Writer) {
	setupJSONLogging(w)
}

// SetLevel sets the minimum log level for the logger
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// GetLevel returns the current minimum log level
func GetLevel() slog.Level {
	return programLevel.Level()
}

// SetSampleRate changes how many sampled warnings/errors are kept (1 in rate)
func SetSampleRate(rate int) {
	if rate > 0 {
		atomic.StoreInt32(&errorSampleRate, int32(rate))
	}
}

// ParseLevel converts a string level name to slog.Level
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

func shouldSample() bool {
	rate := atomic.LoadInt32(&errorSampleRate)
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// Debug logs a debug-level message (never sampled)
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs an info-level message (never sampled)
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning-level message WITH SAMPLING; the counter is always incremented
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error logs an error-level message WITH SAMPLING; the counter is always incremented
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Security logs a security event. Security events are never sampled.
func Security(msg string, args ...any) {
	TotalSecurityEvents.Add(1)
	Logger.Log(context.Background(), LevelSecurity, msg, append([]any{"security_event", true}, args...)...)
}

// Fatal logs a fatal-level message and exits
func Fatal(msg string, args ...any) {
	slog.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}

// ErrorHttp5xx counts an HTTP 5xx response
func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHttp4xx counts an HTTP 4xx response
func WarnHttp4xx() {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)
}

// RuleEvents forwards rule engine events to the global logger
type RuleEvents struct{}

// Events returns the rule engine event sink
func Events() RuleEvents {
	return RuleEvents{}
}

// Warn records a blocking rule violation. Violations are not sampled.
func (RuleEvents) Warn(msg string, args ...any) {
	TotalRuleViolations.Add(1)
	TotalWarnings.Add(1)
	Logger.Warn(msg, args...)
}

// Security records a critical rule violation
func (RuleEvents) Security(msg string, args ...any) {
	Security(msg, args...)
}
