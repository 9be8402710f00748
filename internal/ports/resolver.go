// Package ports finds free host ports for container bindings.
package ports

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
)

// PortConflictError is returned when no free port can be found for Port.
type PortConflictError struct {
	Port int
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("no free host port available for desired port %d", e.Port)
}

// Checker reports whether a host port can be bound.
type Checker interface {
	Available(ctx context.Context, port int) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, port int) bool

// Available implements Checker.
func (f CheckerFunc) Available(ctx context.Context, port int) bool { return f(ctx, port) }

// ListenChecker probes availability by binding a TCP listener.
type ListenChecker struct {
	Host string
}

// Available implements Checker.
func (c ListenChecker) Available(ctx context.Context, port int) bool {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", net.JoinHostPort(c.Host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Options bounds the search.
type Options struct {
	// ScanLimit is how many ports above the desired one are tried.
	ScanLimit int
	// DynamicStart and DynamicEnd bound the fallback range.
	DynamicStart int
	DynamicEnd   int
}

// DefaultOptions scans 100 ports upward, then 49152-65535.
func DefaultOptions() Options {
	return Options{ScanLimit: 100, DynamicStart: 49152, DynamicEnd: 65535}
}

// Resolver maps desired host ports onto free ones.
type Resolver struct {
	checker Checker
	opts    Options
	logger  *slog.Logger
}

// NewResolver creates a resolver. A nil checker probes 0.0.0.0.
func NewResolver(checker Checker, opts Options, logger *slog.Logger) *Resolver {
	if checker == nil {
		checker = ListenChecker{Host: "0.0.0.0"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{checker: checker, opts: opts, logger: logger.With("component", "ports")}
}

// Resolve returns a desired→actual mapping covering every desired port.
// Assigned ports are pairwise distinct. The first desired port that cannot
// be placed yields a *PortConflictError.
func (r *Resolver) Resolve(ctx context.Context, desired []int) (map[int]int, error) {
	result := make(map[int]int, len(desired))
	taken := make(map[int]bool, len(desired))

	for _, port := range desired {
		if _, done := result[port]; done {
			continue
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port %d", port)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		actual, ok := r.find(ctx, port, taken)
		if !ok {
			return nil, &PortConflictError{Port: port}
		}
		if actual != port {
			r.logger.Info("port in use, using alternative", "desired", port, "actual", actual)
		}
		result[port] = actual
		taken[actual] = true
	}

	return result, nil
}

func (r *Resolver) find(ctx context.Context, port int, taken map[int]bool) (int, bool) {
	try := func(p int) bool {
		return p >= 1 && p <= 65535 && !taken[p] && r.checker.Available(ctx, p)
	}

	if try(port) {
		return port, true
	}
	for p := port + 1; p <= port+r.opts.ScanLimit; p++ {
		if try(p) {
			return p, true
		}
	}
	for p := r.opts.DynamicStart; p > 0 && p <= r.opts.DynamicEnd; p++ {
		if try(p) {
			return p, true
		}
	}
	return 0, false
}
