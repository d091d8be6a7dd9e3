// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package eventstream

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/culture-thirst/fontaine/internal/logging"
)

// wmLogger adapts the application's zerolog logger to Watermill's
// LoggerAdapter so router and transport internals log through one pipeline.
type wmLogger struct {
	fields watermill.LogFields
}

// NewWatermillLogger returns a LoggerAdapter backed by the global logger.
func NewWatermillLogger() watermill.LoggerAdapter {
	return &wmLogger{}
}

func (l *wmLogger) attach(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}

func (l *wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.attach(logging.Error().Err(err), fields).Msg(msg)
}

func (l *wmLogger) Info(msg string, fields watermill.LogFields) {
	l.attach(logging.Info(), fields).Msg(msg)
}

func (l *wmLogger) Debug(msg string, fields watermill.LogFields) {
	l.attach(logging.Debug(), fields).Msg(msg)
}

func (l *wmLogger) Trace(msg string, fields watermill.LogFields) {
	l.attach(logging.Debug(), fields).Msg(msg)
}

func (l *wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &wmLogger{fields: merged}
}
