// Package app constructs every DAMP component once and hands them to the
// HTTP server and the CLI. Nothing in the tree keeps a package-level
// instance; each process builds exactly one App.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"evalgo.org/damp/internal/certs"
	"evalgo.org/damp/internal/cleanup"
	"evalgo.org/damp/internal/config"
	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/events"
	"evalgo.org/damp/internal/hostsfile"
	"evalgo.org/damp/internal/ports"
	"evalgo.org/damp/internal/projects"
	"evalgo.org/damp/internal/registry"
	"evalgo.org/damp/internal/resources"
	"evalgo.org/damp/internal/services"
	"evalgo.org/damp/internal/store"
)

// ErrNotReady is returned when the daemon cannot be reached at startup.
var ErrNotReady = errors.New("docker is not ready")

// App holds the wired components.
type App struct {
	Config    *config.Config
	Store     *store.FileStore
	Docker    *docker.Manager
	Services  *services.Manager
	Projects  *projects.Manager
	Resources *resources.Reconciler
	Certs     *certs.Bootstrapper
	Hosts     *hostsfile.Manager
	Monitor   *events.Monitor

	logger    *slog.Logger
	closeOnce sync.Once
}

// Option customizes construction.
type Option func(*options)

type options struct {
	api       docker.API
	store     *store.FileStore
	installer certs.Installer
	checker   ports.Checker
	onStatus  events.StatusHandler
	onEvent   events.EventHandler
	skipPing  bool
}

// WithAPI uses api instead of connecting to the configured daemon.
func WithAPI(api docker.API) Option { return func(o *options) { o.api = api } }

// WithStore uses st instead of opening the configured state file.
func WithStore(st *store.FileStore) Option { return func(o *options) { o.store = st } }

// WithInstaller replaces the platform certificate installer.
func WithInstaller(i certs.Installer) Option { return func(o *options) { o.installer = i } }

// WithPortChecker replaces the TCP listen probe.
func WithPortChecker(c ports.Checker) Option { return func(o *options) { o.checker = c } }

// WithEventHandlers receives monitor status transitions and container events.
func WithEventHandlers(onStatus events.StatusHandler, onEvent events.EventHandler) Option {
	return func(o *options) {
		o.onStatus = onStatus
		o.onEvent = onEvent
	}
}

// WithoutPing skips the startup readiness check.
func WithoutPing() Option { return func(o *options) { o.skipPing = true } }

// New wires the components from cfg and verifies the daemon answers.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	undo := cleanup.NewStack(logger)
	defer undo.Run()

	api := o.api
	if api == nil {
		cli, err := docker.NewClient(cfg.Docker.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to create docker client: %w", err)
		}
		api = cli
		undo.Push("close docker client", func() error { return cli.Close() })
	}

	st := o.store
	if st == nil {
		var err error
		st, err = store.Open(cfg.Storage.StateFile, logger)
		if err != nil {
			return nil, err
		}
	}

	checker := o.checker
	if checker == nil {
		checker = ports.ListenChecker{Host: cfg.Ports.Host}
	}
	resolver := ports.NewResolver(checker, ports.Options{
		ScanLimit:    cfg.Ports.ScanLimit,
		DynamicStart: cfg.Ports.DynamicStart,
		DynamicEnd:   cfg.Ports.DynamicEnd,
	}, logger)

	dopts := docker.DefaultOptions()
	dopts.Network = cfg.Docker.Network
	dopts.StopTimeout = cfg.Docker.StopTimeout
	dopts.PingTimeout = cfg.Docker.PingTimeout
	dopts.WaitTimeout = cfg.Docker.WaitTimeout
	dopts.WaitInterval = cfg.Docker.WaitInterval
	dopts.PullMaxAge = cfg.Docker.PullMaxAge
	dopts.MaxArchiveSize = cfg.Docker.MaxArchiveSize
	dopts.HelperImage = cfg.Docker.HelperImage
	dm := docker.NewManager(api, resolver, st, dopts, logger)

	if !o.skipPing {
		if err := dm.Ping(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
		}
	}

	installer := o.installer
	if installer == nil {
		installer = certs.PlatformInstaller()
	}
	boot := certs.NewBootstrapper(dm, installer, st, certs.Options{
		Domain:       cfg.Certs.BootstrapDomain,
		RootCertPath: cfg.Certs.RootCertPath,
		OutputDir:    cfg.Certs.OutputDir,
		PollInterval: cfg.Certs.PollInterval,
		PollTimeout:  cfg.Certs.PollTimeout,
	}, logger)

	svc := services.NewManager(dm, st, logger)
	svc.RegisterHook(registry.HookCertificateBootstrap, boot.PostInstall)

	hosts := hostsfile.New(cfg.Hosts.File, cfg.Hosts.IP, logger)

	popts := projects.DefaultOptions()
	popts.RootDir = cfg.Projects.RootDir
	popts.DomainSuffix = cfg.Projects.DomainSuffix
	popts.VolumePrefix = cfg.Projects.VolumePrefix
	popts.BaseImage = cfg.Projects.BaseImage
	pm := projects.NewManager(dm, svc, st, hosts, boot, projects.NewPendingSet(), popts, logger)

	rec := resources.New(dm, st, st, pm.Pending(), logger)

	mon := events.New(api, events.Options{
		PingInterval: cfg.Events.PingInterval,
		PingTimeout:  cfg.Docker.PingTimeout,
		BaseDelay:    cfg.Events.BaseDelay,
		MaxDelay:     cfg.Events.MaxDelay,
		StableAfter:  cfg.Events.StableAfter,
		Jitter:       cfg.Events.Jitter,
	}, o.onStatus, o.onEvent, logger)

	undo.Discard()
	return &App{
		Config:    cfg,
		Store:     st,
		Docker:    dm,
		Services:  svc,
		Projects:  pm,
		Resources: rec,
		Certs:     boot,
		Hosts:     hosts,
		Monitor:   mon,
		logger:    logger.With("component", "app"),
	}, nil
}

// Start creates the shared network and begins relaying daemon events.
func (a *App) Start(ctx context.Context) error {
	if err := a.Docker.EnsureNetwork(ctx); err != nil {
		return err
	}
	a.Monitor.Start(ctx)
	a.logger.Info("damp started", "network", a.Config.Docker.Network)
	return nil
}

// Close stops the event monitor, ends every log stream and closes the
// Docker client. It is safe to call more than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.Monitor.Stop()
		err = a.Docker.Close()
		a.logger.Info("damp stopped")
	})
	return err
}
