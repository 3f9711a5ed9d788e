// Package logging wraps log/slog with the component-tagged calls the engine
// uses for its handful of noteworthy events: quarantine, background task
// failure and retry, and mode-switch phase transitions. The engine barely
// logs — nearly everything is a returned error instead — so this stays a
// thin wrapper rather than a logging framework.
package logging

import "log/slog"

// Logger tags every record with a component name ("flush", "compact",
// "manifest", "modeswitch", ...) so log consumers can filter by subsystem.
type Logger struct {
	component string
	base      *slog.Logger
}

// New returns a Logger that tags records with component, using slog's
// default logger as its sink.
func New(component string) Logger {
	return Logger{component: component, base: slog.Default()}
}

// With returns a copy of l whose sink includes extra structured fields
// (e.g. generation numbers) on every subsequent call.
func (l Logger) With(args ...any) Logger {
	return Logger{component: l.component, base: l.base.With(args...)}
}

func (l Logger) Info(msg string, args ...any) {
	l.base.Info(msg, append([]any{"component", l.component}, args...)...)
}

func (l Logger) Warn(msg string, args ...any) {
	l.base.Warn(msg, append([]any{"component", l.component}, args...)...)
}

func (l Logger) Error(msg string, args ...any) {
	l.base.Error(msg, append([]any{"component", l.component}, args...)...)
}

func (l Logger) Debug(msg string, args ...any) {
	l.base.Debug(msg, append([]any{"component", l.component}, args...)...)
}
