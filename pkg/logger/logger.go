package logger

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct {
	*logrus.Logger
	fields logrus.Fields
}

var defaultLogger *Logger

type Config struct {
	Level  string
	Format string
	Output string
	File   FileConfig
	Fields map[string]interface{}
}

type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func Init(cfg Config) error {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "@timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	if cfg.File.Enabled {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		})
	} else {
		log.SetOutput(os.Stdout)
	}

	fields := logrus.Fields{
		"app":     "shiftcover-coordinator",
		"version": "1.0.0",
		"pid":     os.Getpid(),
	}

	for k, v := range cfg.Fields {
		fields[k] = v
	}

	defaultLogger = &Logger{
		Logger: log,
		fields: fields,
	}

	return nil
}

// WithContext pulls the call-scoped correlation fields a handler set
// on the context (call id, occurrence id, provider id) into the log line.
func WithContext(ctx context.Context) *Logger {
	if defaultLogger == nil {
		panic("logger not initialized")
	}

	fields := logrus.Fields{}

	if callID := ctx.Value(ctxKeyCallID); callID != nil {
		fields["call_id"] = callID
	}
	if occID := ctx.Value(ctxKeyOccurrenceID); occID != nil {
		fields["occurrence_id"] = occID
	}
	if providerID := ctx.Value(ctxKeyProviderID); providerID != nil {
		fields["provider_id"] = providerID
	}

	return defaultLogger.WithFields(fields)
}

type ctxKey string

const (
	ctxKeyCallID        ctxKey = "call_id"
	ctxKeyOccurrenceID  ctxKey = "occurrence_id"
	ctxKeyProviderID    ctxKey = "provider_id"
)

func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, ctxKeyCallID, callID)
}

func WithOccurrenceID(ctx context.Context, occurrenceID int64) context.Context {
	return context.WithValue(ctx, ctxKeyOccurrenceID, occurrenceID)
}

func WithProviderID(ctx context.Context, providerID int64) context.Context {
	return context.WithValue(ctx, ctxKeyProviderID, providerID)
}

func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	newFields := make(logrus.Fields)
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &Logger{
		Logger: l.Logger,
		fields: newFields,
	}
}

func (l *Logger) WithError(err error) *Logger {
	return l.WithFields(logrus.Fields{
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	})
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(logrus.Fields{key: value})
}
func (l *Logger) Debug(args ...interface{}) { l.Logger.WithFields(l.fields).Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.Logger.WithFields(l.fields).Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.Logger.WithFields(l.fields).Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.Logger.WithFields(l.fields).Error(args...) }
func (l *Logger) Fatal(args ...interface{}) { l.Logger.WithFields(l.fields).Fatal(args...) }

func Debug(args ...interface{}) {
	defaultLogger.WithFields(defaultLogger.fields).Debug(args...)
}

func Info(args ...interface{}) {
	defaultLogger.WithFields(defaultLogger.fields).Info(args...)
}

func Warn(args ...interface{}) {
	defaultLogger.WithFields(defaultLogger.fields).Warn(args...)
}

func Error(args ...interface{}) {
	defaultLogger.WithFields(defaultLogger.fields).Error(args...)
}

func Fatal(args ...interface{}) {
	defaultLogger.WithFields(defaultLogger.fields).Fatal(args...)
}

func WithField(key string, value interface{}) *Logger {
	return defaultLogger.WithFields(logrus.Fields{key: value})
}

func WithError(err error) *Logger {
	return defaultLogger.WithError(err)
}
