// Package logging provides the structured, colorized logger used by every
// long-lived Poltergeist component: a thin Logger interface over logrus,
// decorated with a custom fatih/color formatter, plus a per-target wrapper
// that prefixes records with the owning target's name.
package logging

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Field is a single structured key/value attached to a log record.
type Field struct {
	Key   string
	Value interface{}
}

func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the interface every component depends on; never a package-level
// global, always constructor-injected.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Success(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithTarget(target string) Logger
}

type logrusLogger struct {
	entry  *logrus.Entry
	target string
}

// New creates a logger writing to w at the given level, with a ghost-themed
// colorized formatter.
func New(w io.Writer, level string) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&consoleFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// NewFile creates a logger that writes to path in append mode, used for the
// daemon's own log file once detached.
func NewFile(path, level string) (Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return New(f, level), f, nil
}

func (l *logrusLogger) withFields(fields []Field) *logrus.Entry {
	e := l.entry
	if l.target != "" {
		e = e.WithField("target", l.target)
	}
	for _, f := range fields {
		e = e.WithField(f.Key, f.Value)
	}
	return e
}

func (l *logrusLogger) Debug(msg string, fields ...Field)   { l.withFields(fields).Debug(msg) }
func (l *logrusLogger) Info(msg string, fields ...Field)    { l.withFields(fields).Info(msg) }
func (l *logrusLogger) Warn(msg string, fields ...Field)    { l.withFields(fields).Warn(msg) }
func (l *logrusLogger) Error(msg string, fields ...Field)   { l.withFields(fields).Error(msg) }
func (l *logrusLogger) Success(msg string, fields ...Field) {
	l.withFields(fields).WithField("success", true).Info(msg)
}

func (l *logrusLogger) WithTarget(target string) Logger {
	return &logrusLogger{entry: l.entry, target: target}
}

// consoleFormatter renders records with a 👻 prefix, colorized level,
// bracketed target, then message and remaining fields.
type consoleFormatter struct{}

func (f *consoleFormatter) Format(e *logrus.Entry) ([]byte, error) {
	levelStyle := levelColor(e.Level)
	out := "👻 " + levelStyle.Sprint(levelTag(e.Level)) + " "
	if target, ok := e.Data["target"]; ok {
		out += color.New(color.FgMagenta).Sprintf("[%v] ", target)
	}
	out += e.Message
	for k, v := range e.Data {
		if k == "target" {
			continue
		}
		out += color.New(color.Faint).Sprintf(" %s=%v", k, v)
	}
	out += "\n"
	return []byte(out), nil
}

func levelTag(lvl logrus.Level) string {
	switch lvl {
	case logrus.DebugLevel:
		return "DEBUG"
	case logrus.InfoLevel:
		return "INFO "
	case logrus.WarnLevel:
		return "WARN "
	case logrus.ErrorLevel:
		return "ERROR"
	default:
		return "LOG  "
	}
}

func levelColor(lvl logrus.Level) *color.Color {
	switch lvl {
	case logrus.DebugLevel:
		return color.New(color.FgCyan)
	case logrus.InfoLevel:
		return color.New(color.FgBlue)
	case logrus.WarnLevel:
		return color.New(color.FgYellow)
	case logrus.ErrorLevel:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}
