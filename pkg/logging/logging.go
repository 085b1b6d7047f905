// Package logging is the leveled, structured logging façade used across
// this module, backed by logrus. It keeps the section/banner presentation
// pieces the teacher's console logger offered, but routes every leveled
// call through a single *logrus.Logger so fields and output format are
// configurable once.
package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var std = logrus.New()

func init() {
	std.SetOutput(os.Stdout)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	std.SetLevel(logrus.InfoLevel)
}

// SetLevel parses level ("debug", "info", "warn", "error") and applies it to
// the package logger. An unrecognized level leaves the current level
// unchanged.
func SetLevel(level string) {
	if lv, err := logrus.ParseLevel(level); err == nil {
		std.SetLevel(lv)
	}
}

// Logger is a named child logger carrying a fixed set of fields (typically
// a component name), mirroring the teacher's habit of prefixing every line
// with a subsystem tag.
type Logger struct {
	entry *logrus.Entry
}

// With returns a Logger that always includes the given component name in
// its fields, e.g. logging.With("connection").
func With(component string) *Logger {
	return &Logger{entry: std.WithField("component", component)}
}

// Fields returns a Logger carrying an arbitrary field set, for callers that
// want to attach a connection id, peer address, or channel index.
func Fields(fields logrus.Fields) *Logger {
	return &Logger{entry: std.WithFields(fields)}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// WithField returns a derived Logger with one more field attached.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// Package-level convenience wrappers against the unnamed root logger.
func Debug(format string, args ...interface{}) { std.Debugf(format, args...) }
func Info(format string, args ...interface{})  { std.Infof(format, args...) }
func Warn(format string, args ...interface{})  { std.Warnf(format, args...) }
func Error(format string, args ...interface{}) { std.Errorf(format, args...) }

// Fatal logs at error level and exits, for unrecoverable startup failures
// (kept narrow and rare, matching the teacher's sparing use of Fatal).
func Fatal(format string, args ...interface{}) {
	std.Errorf(format, args...)
	os.Exit(1)
}

// Section prints a banner-style header, kept from the teacher's console
// logger for human-run demos (cmd/loopbackdemo) — never used on a hot path.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n╔%s╗\n", border)
	fmt.Printf("║ %-59s ║\n", title)
	fmt.Printf("╚%s╝\n\n", border)
}
