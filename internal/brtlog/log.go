// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package brtlog adapts logrus to the narrow logging contract the BRT
// engine needs, mirroring the teacher's habit of depending on an
// interface rather than a concrete logger so tests can swap in a no-op.
package brtlog

import "github.com/sirupsen/logrus"

// Logger is the structured-logging contract the tree logs through (its
// only call is in Tree.fail). The implementations are the ones this
// package returns; *logrus.Entry and *logrus.Logger do not satisfy it,
// since their WithField returns a logrus type rather than a Logger.
type Logger interface {
	WithField(key string, value any) Logger
	WithFields(fields Fields) Logger
	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)
}

// Fields is an alias for logrus.Fields, letting callers build a field set
// without importing logrus directly.
type Fields = logrus.Fields

// logrusLogger wraps a *logrus.Entry to satisfy Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// New wraps an existing *logrus.Logger.
func New(base *logrus.Logger) Logger {
	if base == nil {
		base = logrus.New()
	}
	return logrusLogger{entry: logrus.NewEntry(base)}
}

// Default returns a Logger backed by logrus's package-level default
// logger, text-formatted, at Info level.
func Default() Logger {
	l := logrus.StandardLogger()
	return logrusLogger{entry: logrus.NewEntry(l)}
}

func (l logrusLogger) WithField(key string, value any) Logger {
	return logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l logrusLogger) WithFields(fields Fields) Logger {
	return logrusLogger{entry: l.entry.WithFields(fields)}
}

func (l logrusLogger) Debug(args ...any) { l.entry.Debug(args...) }
func (l logrusLogger) Info(args ...any)  { l.entry.Info(args...) }
func (l logrusLogger) Warn(args ...any)  { l.entry.Warn(args...) }
func (l logrusLogger) Error(args ...any) { l.entry.Error(args...) }

// nopLogger discards everything; used as the Tree default so embedders
// that never configure logging pay nothing for it.
type nopLogger struct{}

// NopLogger returns a Logger that discards all output.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) WithField(string, any) Logger   { return nopLogger{} }
func (nopLogger) WithFields(Fields) Logger       { return nopLogger{} }
func (nopLogger) Debug(...any)                   {}
func (nopLogger) Info(...any)                    {}
func (nopLogger) Warn(...any)                    {}
func (nopLogger) Error(...any)                   {}
