// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger handed to every engine. Fields are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Sync() error
}

// zapLogger wraps a zap sugared logger
type zapLogger struct {
	log *zap.SugaredLogger
}

// New creates a new logger at info level
func New() Logger {
	return NewWithLevel("info")
}

// NewWithLevel creates a new logger with a specific level
func NewWithLevel(level string) Logger {
	lvl := zapcore.InfoLevel
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "info":
		lvl = zapcore.InfoLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	log, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return &noOpLogger{}
	}

	return &zapLogger{log: log.Sugar()}
}

// NewLogger creates a named logger at info level
func NewLogger(name string) Logger {
	log, err := zap.NewProduction(zap.AddCallerSkip(1))
	if err != nil {
		return &noOpLogger{}
	}
	return &zapLogger{log: log.Sugar().Named(name)}
}

// NoOp returns a no-op logger
func NoOp() Logger {
	return &noOpLogger{}
}

// NoLog is a no-op logger instance
var NoLog = NoOp()

func (l *zapLogger) Debug(msg string, fields ...any) { l.log.Debugw(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...any)  { l.log.Infow(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...any)  { l.log.Warnw(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...any) { l.log.Errorw(msg, fields...) }
func (l *zapLogger) Sync() error                     { return l.log.Sync() }

// noOpLogger is a logger that does nothing
type noOpLogger struct{}

func (n *noOpLogger) Debug(msg string, fields ...any) {}
func (n *noOpLogger) Info(msg string, fields ...any)  {}
func (n *noOpLogger) Warn(msg string, fields ...any)  {}
func (n *noOpLogger) Error(msg string, fields ...any) {}
func (n *noOpLogger) Sync() error                     { return nil }
