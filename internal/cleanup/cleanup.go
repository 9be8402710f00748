// Package cleanup runs best-effort teardown steps. Failures are logged and
// never returned, so a cleanup can not mask the outcome of the operation it
// follows.
package cleanup

import (
	"io"
	"log/slog"
	"sync"
)

// Do runs fn and logs any error under the given step name.
func Do(logger *slog.Logger, step string, fn func() error) {
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("cleanup step panicked", "step", step, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		logger.Warn("cleanup step failed", "step", step, "error", err)
	}
}

// Close closes c, logging a failure.
func Close(logger *slog.Logger, step string, c io.Closer) {
	if c == nil {
		return
	}
	Do(logger, step, c.Close)
}

type entry struct {
	step string
	fn   func() error
}

// Stack collects compensating actions and runs them in reverse order.
type Stack struct {
	mu      sync.Mutex
	entries []entry
	logger  *slog.Logger
}

// NewStack creates an empty stack.
func NewStack(logger *slog.Logger) *Stack {
	return &Stack{logger: logger}
}

// Push registers a compensation.
func (s *Stack) Push(step string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{step: step, fn: fn})
}

// Len returns the number of pending compensations.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run executes every compensation, last pushed first, and empties the stack.
// It returns the names of the steps that ran.
func (s *Stack) Run() []string {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	ran := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		Do(s.logger, entries[i].step, entries[i].fn)
		ran = append(ran, entries[i].step)
	}
	return ran
}

// Discard drops every pending compensation without running it.
func (s *Stack) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
