// Package events relays container lifecycle events from the Docker daemon
// and keeps the subscription alive with exponential backoff.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"

	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/metrics"
)

// ErrStreamClosed is reported when the daemon ends the event stream.
var ErrStreamClosed = errors.New("event stream closed")

// RelayedActions are the container actions forwarded to handlers.
var RelayedActions = []string{"start", "stop", "die", "health_status", "kill", "pause", "unpause", "restart"}

// Source is the part of the Docker client the monitor needs.
type Source interface {
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
	Ping(ctx context.Context) (types.Ping, error)
}

// Status is the connection state published on every transition.
type Status struct {
	Connected bool          `json:"connected"`
	Attempt   int           `json:"attempt"`
	LastError string        `json:"last_error,omitempty"`
	NextRetry time.Duration `json:"next_retry,omitempty"`
	Time      time.Time     `json:"time"`
}

// ContainerEvent is one relayed lifecycle event.
type ContainerEvent struct {
	Action        string            `json:"action"`
	ContainerID   string            `json:"container_id"`
	ContainerName string            `json:"container_name"`
	Image         string            `json:"image,omitempty"`
	HealthStatus  string            `json:"health_status,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	Time          time.Time         `json:"time"`
}

// StatusHandler receives connection state changes.
type StatusHandler func(Status)

// EventHandler receives container events.
type EventHandler func(ContainerEvent)

// Options tunes reconnect behaviour.
type Options struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	// StableAfter is how long a new subscription must stay up before the
	// reconnect counter resets. A received event or a successful health
	// ping also counts.
	StableAfter time.Duration
	// Jitter is the relative random spread applied to each delay.
	Jitter float64
}

// DefaultOptions returns 30s pings and 1s..64s backoff with 20% jitter.
// A subscription counts as healthy after 1s.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		PingTimeout:  5 * time.Second,
		BaseDelay:    time.Second,
		MaxDelay:     64 * time.Second,
		StableAfter:  time.Second,
		Jitter:       0.2,
	}
}

// BaseDelayFor returns the un-jittered delay before reconnect attempt n
// (n >= 1): base doubled per attempt and capped at max.
func BaseDelayFor(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if d > float64(max) {
		return max
	}
	return time.Duration(d)
}

// Backoff applies jitter to BaseDelayFor. r is a random value in [0,1).
func Backoff(attempt int, base, max time.Duration, jitter, r float64) time.Duration {
	d := BaseDelayFor(attempt, base, max)
	return time.Duration(float64(d) * (1 + jitter*(2*r-1)))
}

// Monitor owns one event subscription.
type Monitor struct {
	src      Source
	opts     Options
	onStatus StatusHandler
	onEvent  EventHandler
	logger   *slog.Logger

	random func() float64
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	status  Status
	attempt int
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Monitor. Zero option fields use defaults.
func New(src Source, opts Options, onStatus StatusHandler, onEvent EventHandler, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = def.PingTimeout
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = def.StableAfter
	}
	if opts.Jitter < 0 || opts.Jitter >= 1 {
		opts.Jitter = def.Jitter
	}
	if onStatus == nil {
		onStatus = func(Status) {}
	}
	if onEvent == nil {
		onEvent = func(ContainerEvent) {}
	}
	return &Monitor{
		src:      src,
		opts:     opts,
		onStatus: onStatus,
		onEvent:  onEvent,
		logger:   logger.With("component", "events"),
		random:   rand.Float64,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start subscribes in the background. Calling Start on a running monitor
// does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Stop cancels the subscription and waits for it to end. It is safe to call
// more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Status returns the last published state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Attempt returns the current reconnect attempt counter.
func (m *Monitor) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

func (m *Monitor) publish(s Status) {
	s.Time = time.Now()
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	m.onStatus(s)
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := m.session(ctx)
		if ctx.Err() != nil {
			m.publish(Status{Connected: false})
			m.logger.Info("event monitor stopped")
			return
		}

		m.mu.Lock()
		m.attempt++
		attempt := m.attempt
		m.mu.Unlock()

		delay := Backoff(attempt, m.opts.BaseDelay, m.opts.MaxDelay, m.opts.Jitter, m.random())
		metrics.Reconnect()
		m.logger.Warn("event stream lost, reconnecting", "attempt", attempt, "delay", delay, "error", err)
		m.publish(Status{Connected: false, Attempt: attempt, LastError: err.Error(), NextRetry: delay})

		if err := m.sleep(ctx, delay); err != nil {
			m.publish(Status{Connected: false, Attempt: attempt})
			return
		}
	}
}

// session runs one subscription until it fails or ctx ends. The reconnect
// counter is only reset once the stream has proven healthy, so a stream
// that fails right after subscribing keeps backing off.
func (m *Monitor) session(ctx context.Context) error {
	if err := m.ping(ctx); err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := filters.NewArgs(filters.Arg("type", string(events.ContainerEventType)))
	args.Add("label", labels.KeyManaged+"=true")
	for _, a := range RelayedActions {
		args.Add("event", a)
	}
	msgs, errs := m.src.Events(sctx, events.ListOptions{Filters: args})

	stable := time.NewTimer(m.opts.StableAfter)
	defer stable.Stop()
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	healthy := false
	markHealthy := func() {
		if healthy {
			return
		}
		healthy = true
		m.connected()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok || err == nil {
				return ErrStreamClosed
			}
			return err
		case msg, ok := <-msgs:
			if !ok {
				return ErrStreamClosed
			}
			markHealthy()
			m.relay(msg)
		case <-stable.C:
			markHealthy()
		case <-ticker.C:
			if err := m.ping(ctx); err != nil {
				return fmt.Errorf("health ping failed: %w", err)
			}
			markHealthy()
		}
	}
}

// connected resets the reconnect counter and publishes the connected state.
func (m *Monitor) connected() {
	m.mu.Lock()
	reconnected := m.attempt > 0
	m.attempt = 0
	m.mu.Unlock()
	if reconnected {
		m.logger.Info("event stream reconnected")
	}
	m.publish(Status{Connected: true})
}

func (m *Monitor) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.PingTimeout)
	defer cancel()
	_, err := m.src.Ping(ctx)
	return err
}

func (m *Monitor) relay(msg events.Message) {
	action := string(msg.Action)
	ev := ContainerEvent{
		Action:        action,
		ContainerID:   msg.Actor.ID,
		ContainerName: msg.Actor.Attributes["name"],
		Image:         msg.Actor.Attributes["image"],
		Labels:        msg.Actor.Attributes,
		Time:          time.Unix(0, msg.TimeNano),
	}
	if name, status, ok := strings.Cut(action, ":"); ok {
		ev.Action = name
		ev.HealthStatus = strings.TrimSpace(status)
	}
	metrics.Event(ev.Action)
	m.onEvent(ev)
}
