package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/network"

	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/ports"
)

// Options tunes Manager behavior.
type Options struct {
	// Network is the shared bridge network every container joins.
	Network string

	StopTimeout  time.Duration
	PingTimeout  time.Duration
	WaitTimeout  time.Duration
	WaitInterval time.Duration

	// PullMaxAge is how long a floating tag pull stays fresh.
	PullMaxAge time.Duration

	// MaxArchiveSize bounds single file extraction.
	MaxArchiveSize int64

	// HelperImage runs short-lived copy and scaffolding containers.
	HelperImage string
	// HelperUID and HelperGID own files copied into volumes.
	HelperUID int
	HelperGID int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		Network:        "damp-network",
		StopTimeout:    10 * time.Second,
		PingTimeout:    5 * time.Second,
		WaitTimeout:    60 * time.Second,
		WaitInterval:   500 * time.Millisecond,
		PullMaxAge:     7 * 24 * time.Hour,
		MaxArchiveSize: 50 << 20,
		HelperImage:    "alpine:3.20",
		HelperUID:      1000,
		HelperGID:      1000,
	}
}

// PullTracker persists the last successful pull time per image reference.
type PullTracker interface {
	LastPull(image string) (time.Time, bool)
	RecordPull(image string, at time.Time) error
}

// Manager performs lifecycle operations against a single daemon.
type Manager struct {
	api      API
	opts     Options
	resolver *ports.Resolver
	pulls    PullTracker
	logger   *slog.Logger
	now      func() time.Time

	mu           sync.Mutex
	networkReady bool
	streams      map[uint64]func()
	nextStream   uint64
}

// NewManager creates a Manager. resolver and pulls may be nil.
func NewManager(api API, resolver *ports.Resolver, pulls PullTracker, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = ports.NewResolver(nil, ports.DefaultOptions(), logger)
	}
	def := DefaultOptions()
	if opts.Network == "" {
		opts.Network = def.Network
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = def.StopTimeout
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = def.PingTimeout
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = def.WaitTimeout
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = def.WaitInterval
	}
	if opts.PullMaxAge <= 0 {
		opts.PullMaxAge = def.PullMaxAge
	}
	if opts.MaxArchiveSize <= 0 {
		opts.MaxArchiveSize = def.MaxArchiveSize
	}
	if opts.HelperImage == "" {
		opts.HelperImage = def.HelperImage
	}
	return &Manager{
		api:      api,
		opts:     opts,
		resolver: resolver,
		pulls:    pulls,
		logger:   logger.With("component", "docker"),
		now:      time.Now,
		streams:  make(map[uint64]func()),
	}
}

// API exposes the underlying client for components that subscribe directly.
func (m *Manager) API() API { return m.api }

// Options returns the effective options.
func (m *Manager) Options() Options { return m.opts }

// Ping checks that the daemon answers within the ping timeout.
func (m *Manager) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.PingTimeout)
	defer cancel()

	if _, err := m.api.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	return nil
}

// EnsureNetwork creates the shared bridge network if it does not exist.
func (m *Manager) EnsureNetwork(ctx context.Context) error {
	m.mu.Lock()
	ready := m.networkReady
	m.mu.Unlock()
	if ready {
		return nil
	}

	_, err := m.api.NetworkInspect(ctx, m.opts.Network, network.InspectOptions{})
	switch {
	case err == nil:
	case IsNotFound(err):
		_, err = m.api.NetworkCreate(ctx, m.opts.Network, network.CreateOptions{
			Driver: "bridge",
			Labels: labels.Managed().ToMap(),
		})
		if err != nil && !IsConflict(err) {
			return fmt.Errorf("failed to create network %s: %w", m.opts.Network, err)
		}
		m.logger.Info("created network", "network", m.opts.Network)
	default:
		return fmt.Errorf("failed to inspect network %s: %w", m.opts.Network, err)
	}

	m.mu.Lock()
	m.networkReady = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) newStreamID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextStream++
	return m.nextStream
}

// trackStream registers a stop function so Close can drain it.
func (m *Manager) trackStream(id uint64, stop func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[id] = stop
}

func (m *Manager) untrackStream(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, id)
}

// ActiveStreams returns the number of open log streams.
func (m *Manager) ActiveStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Close stops every open log stream and closes the client.
func (m *Manager) Close() error {
	m.mu.Lock()
	stops := make([]func(), 0, len(m.streams))
	for _, stop := range m.streams {
		stops = append(stops, stop)
	}
	m.mu.Unlock()

	for _, stop := range stops {
		stop()
	}

	return m.api.Close()
}
