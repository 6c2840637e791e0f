// Package logger provides structured logging scoped by component
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)
	WithComponent(component string) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// WithError creates an error field
func WithError(err error) Field {
	return Field{Key: "error", Value: err}
}

// ComponentLogger implements Logger on top of logrus
type ComponentLogger struct {
	logger    *logrus.Logger
	component string
}

// CustomFormatter renders entries as a single colored line
type CustomFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)

	var levelColor *color.Color
	var levelText string

	switch entry.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.InfoLevel:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	default:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	}

	data := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}

	prefix := ""
	if component, ok := data["component"]; ok {
		if f.DisableColors {
			prefix = fmt.Sprintf("[%v] ", component)
		} else {
			prefix = fmt.Sprintf("[%s] ", color.New(color.FgBlue).Sprint(component))
		}
		delete(data, "component")
	}

	level := levelText
	if !f.DisableColors {
		level = levelColor.Sprint(levelText)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s%s", timestamp, level, prefix, entry.Message)

	if len(data) > 0 {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
		}
		fields := " {" + strings.Join(parts, ", ") + "}"
		if f.DisableColors {
			b.WriteString(fields)
		} else {
			b.WriteString(color.New(color.FgWhite, color.Faint).Sprint(fields))
		}
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// CreateLogger creates a logger writing to stdout and, when logFile is set,
// to the file as well.
func CreateLogger(logFile string, logLevel string) Logger {
	log := newLogrus(logLevel, false)

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(io.MultiWriter(os.Stdout, file))
		}
	}

	return &ComponentLogger{logger: log}
}

// CreateLoggerWithOutput creates a logger with custom output (for testing).
// A nil output discards everything.
func CreateLoggerWithOutput(logFile string, logLevel string, output io.Writer) Logger {
	log := newLogrus(logLevel, true)

	if output == nil {
		output = io.Discard
	}
	if logFile != "" {
		if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			output = io.MultiWriter(output, file)
		}
	}
	log.SetOutput(output)

	return &ComponentLogger{logger: log}
}

// NewNopLogger returns a logger that drops every entry
func NewNopLogger() Logger {
	return CreateLoggerWithOutput("", "error", io.Discard)
}

func newLogrus(logLevel string, disableColors bool) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05.000",
		DisableColors:   disableColors,
	})
	return log
}

// SetLevel changes the level of every logger sharing this backend. Invalid
// levels are ignored.
func SetLevel(l Logger, logLevel string) bool {
	cl, ok := l.(*ComponentLogger)
	if !ok {
		return false
	}
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return false
	}
	cl.logger.SetLevel(level)
	return true
}

// WithComponent creates a new logger tagged with a component name
func (l *ComponentLogger) WithComponent(component string) Logger {
	return &ComponentLogger{
		logger:    l.logger,
		component: component,
	}
}

func (l *ComponentLogger) entry(fields []Field) *logrus.Entry {
	result := make(logrus.Fields, len(fields)+1)
	if l.component != "" {
		result["component"] = l.component
	}
	for _, f := range fields {
		result[f.Key] = f.Value
	}
	return l.logger.WithFields(result)
}

// Info logs an info message
func (l *ComponentLogger) Info(message string, fields ...Field) {
	l.entry(fields).Info(message)
}

// Error logs an error message
func (l *ComponentLogger) Error(message string, fields ...Field) {
	l.entry(fields).Error(message)
}

// Warn logs a warning message
func (l *ComponentLogger) Warn(message string, fields ...Field) {
	l.entry(fields).Warn(message)
}

// Debug logs a debug message
func (l *ComponentLogger) Debug(message string, fields ...Field) {
	l.entry(fields).Debug(message)
}

// Success logs at info level with a check mark
func (l *ComponentLogger) Success(message string, fields ...Field) {
	l.entry(fields).Info("✔ " + message)
}

// ConsoleLogger prints plain CLI output
type ConsoleLogger struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer
}

// NewConsoleLogger creates a console logger for CLI output
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{out: os.Stdout, err: os.Stderr}
}

// Info prints info message
func (c *ConsoleLogger) Info(message string) {
	c.print(c.out, color.CyanString("[tsgd]"), message)
}

// Error prints error message
func (c *ConsoleLogger) Error(message string) {
	c.print(c.err, color.RedString("[tsgd]"), message)
}

// Warn prints warning message
func (c *ConsoleLogger) Warn(message string) {
	c.print(c.out, color.YellowString("[tsgd]"), message)
}

// Success prints success message
func (c *ConsoleLogger) Success(message string) {
	c.print(c.out, color.GreenString("[tsgd]"), "✔ "+message)
}

func (c *ConsoleLogger) print(w io.Writer, tag, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, "%s %s\n", tag, message)
}
