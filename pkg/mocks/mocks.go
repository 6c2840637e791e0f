// Package mocks provides mock implementations of interfaces for testing.
package mocks

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tsgd/tsgd/pkg/logger"
)

// MockVM is a reference-counted address space stand-in
type MockVM struct {
	refs atomic.Int32
	puts atomic.Int32
}

// NewMockVM creates a VM holding one reference for the caller
func NewMockVM() *MockVM {
	vm := &MockVM{}
	vm.refs.Store(1)
	return vm
}

// Get takes a reference
func (m *MockVM) Get() {
	m.refs.Add(1)
}

// Put drops a reference
func (m *MockVM) Put() {
	m.refs.Add(-1)
	m.puts.Add(1)
}

// Refs returns the current reference count
func (m *MockVM) Refs() int32 {
	return m.refs.Load()
}

// PutCount returns how many times Put was called
func (m *MockVM) PutCount() int32 {
	return m.puts.Load()
}

// LogEntry is one captured log call
type LogEntry struct {
	Level     string
	Component string
	Message   string
	Fields    []logger.Field
}

// MockLogger records log calls for assertions
type MockLogger struct {
	mu        *sync.Mutex
	entries   *[]LogEntry
	component string
}

// NewMockLogger creates a new mock logger
func NewMockLogger() *MockLogger {
	return &MockLogger{
		mu:      &sync.Mutex{},
		entries: &[]LogEntry{},
	}
}

func (m *MockLogger) record(level, message string, fields []logger.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.entries = append(*m.entries, LogEntry{
		Level:     level,
		Component: m.component,
		Message:   message,
		Fields:    fields,
	})
}

// Info records an info entry
func (m *MockLogger) Info(message string, fields ...logger.Field) {
	m.record("info", message, fields)
}

// Error records an error entry
func (m *MockLogger) Error(message string, fields ...logger.Field) {
	m.record("error", message, fields)
}

// Warn records a warning entry
func (m *MockLogger) Warn(message string, fields ...logger.Field) {
	m.record("warn", message, fields)
}

// Debug records a debug entry
func (m *MockLogger) Debug(message string, fields ...logger.Field) {
	m.record("debug", message, fields)
}

// Success records a success entry
func (m *MockLogger) Success(message string, fields ...logger.Field) {
	m.record("success", message, fields)
}

// WithComponent returns a logger sharing this mock's entries
func (m *MockLogger) WithComponent(component string) logger.Logger {
	return &MockLogger{mu: m.mu, entries: m.entries, component: component}
}

// Entries returns a copy of everything logged so far
func (m *MockLogger) Entries() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogEntry, len(*m.entries))
	copy(out, *m.entries)
	return out
}

// Contains reports whether an entry at level contains substr
func (m *MockLogger) Contains(level, substr string) bool {
	for _, e := range m.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
