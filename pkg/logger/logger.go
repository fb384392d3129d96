// Package logger provides structured logging for the messaging services.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// Config selects the level, encoding and service name of a logger.
type Config struct {
	Level string
	// Format is "json" (default) or "console".
	Format  string
	Service string
}

// New creates a JSON logger at the given level.
func New(level string) (*Logger, error) {
	return Build(Config{Level: level})
}

// Build creates a logger from cfg. Console output is colored and
// carries no sampling; JSON output samples repeated entries.
func Build(cfg Config) (*Logger, error) {
	var zc zap.Config
	if strings.EqualFold(cfg.Format, "console") {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}
	if cfg.Service != "" {
		zc.InitialFields = map[string]any{"service": cfg.Service}
	}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: l}, nil
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// ForRequest scopes l to one HTTP request. Empty values are omitted.
func (l *Logger) ForRequest(correlationID string, workspaceID int64, userID string) *Logger {
	fields := make([]zap.Field, 0, 3)
	if correlationID != "" {
		fields = append(fields, zap.String("correlation_id", correlationID))
	}
	if workspaceID != 0 {
		fields = append(fields, Workspace(workspaceID))
	}
	if userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	return l.With(fields...)
}

// ForWorkspace scopes l to a tenant.
func (l *Logger) ForWorkspace(workspaceID int64) *Logger {
	return l.With(Workspace(workspaceID))
}

// ForEvent scopes l to one carrier webhook event.
func (l *Logger) ForEvent(eventID, eventType string) *Logger {
	return l.With(Event(eventID), zap.String("event_type", eventType))
}

// Workspace is the workspace_id field.
func Workspace(id int64) zap.Field { return zap.Int64("workspace_id", id) }

// Conversation is the conversation_id field.
func Conversation(id string) zap.Field { return zap.String("conversation_id", id) }

// Event is the event_id field.
func Event(id string) zap.Field { return zap.String("event_id", id) }

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

var global *Logger

func init() {
	l, err := Build(Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})
	if err != nil {
		l = &Logger{Logger: zap.NewNop()}
	}
	global = l
}

// Global returns the process-wide logger.
func Global() *Logger {
	return global
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *Logger) {
	global = l
}
