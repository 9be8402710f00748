// Package services installs, runs and removes the shared infrastructure
// services of the catalog.
//
// A service moves through not-installed, installed (stopped), installed
// (running) and back. The container carrying the service labels is the
// source of truth for whether a service exists; the state store only keeps
// what the daemon can not tell us, such as the user override and the
// install time.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"evalgo.org/damp/internal/cleanup"
	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/metrics"
	"evalgo.org/damp/internal/registry"
	"evalgo.org/damp/internal/validation"
	"evalgo.org/damp/models"
)

var (
	// ErrUnknownService is returned for IDs absent from the catalog.
	ErrUnknownService = errors.New("unknown service")

	// ErrNotInstalled is returned by actions on a service without a container.
	ErrNotInstalled = fmt.Errorf("service not installed: %w", docker.ErrContainerNotFound)

	// ErrAlreadyInstalled is returned when installing over an existing container.
	ErrAlreadyInstalled = errors.New("service already installed")

	// ErrNotReady is returned by database operations on a container that is
	// not running or not healthy.
	ErrNotReady = errors.New("service is not running and healthy")
)

// StateStore persists installed service records.
type StateStore interface {
	GetServiceState(serviceID string) (*models.ServiceState, error)
	ListServiceStates() ([]*models.ServiceState, error)
	SaveServiceState(st *models.ServiceState) error
	DeleteServiceState(serviceID string) error
}

// Hook runs after a service was installed and started. A failing hook is
// logged; the install still succeeds.
type Hook func(ctx context.Context, def *models.ServiceDefinition, containerID string) error

// InstallOptions configures an install.
type InstallOptions struct {
	CustomConfig     *models.CustomConfig `json:"custom_config,omitempty"`
	StartImmediately bool                 `json:"start_immediately"`

	// Progress receives image pull progress.
	Progress models.ProgressSink `json:"-"`
}

// Manager drives service lifecycles.
type Manager struct {
	docker    *docker.Manager
	store     StateStore
	validator *validation.Validator
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	hooks map[string]Hook
}

// NewManager creates a Manager.
func NewManager(dm *docker.Manager, store StateStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		docker:    dm,
		store:     store,
		validator: validation.New(),
		logger:    logger.With("component", "services"),
		now:       time.Now,
		hooks:     make(map[string]Hook),
	}
}

// RegisterHook binds a post-install hook name to its implementation.
func (m *Manager) RegisterHook(name string, h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[name] = h
}

func (m *Manager) hook(name string) (Hook, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hooks[name]
	return h, ok
}

func definition(id string) (*models.ServiceDefinition, error) {
	def, ok := registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, id)
	}
	return def, nil
}

// Install creates the service container and optionally starts it.
func (m *Manager) Install(ctx context.Context, serviceID string, opts InstallOptions) models.Result[*models.InstallResult] {
	start := time.Now()
	res, err := m.install(ctx, serviceID, opts)
	metrics.Observe("services", "install", start, err)
	if err != nil {
		m.logger.Error("install failed", "service", serviceID, "error", err)
		return models.Fail[*models.InstallResult](err)
	}
	return models.OK(res)
}

func (m *Manager) install(ctx context.Context, serviceID string, opts InstallOptions) (*models.InstallResult, error) {
	def, err := definition(serviceID)
	if err != nil {
		return nil, err
	}
	if err := m.validator.CustomConfig(opts.CustomConfig).Err(); err != nil {
		return nil, err
	}

	if err := m.docker.Ping(ctx); err != nil {
		return nil, err
	}

	existing, err := m.docker.FindServiceContainer(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s (%s)", ErrAlreadyInstalled, serviceID, existing.Name)
	}

	cfg := registry.MergeConfig(def.DefaultConfig, opts.CustomConfig)
	if err := m.docker.PullImage(ctx, cfg.Image, opts.Progress); err != nil {
		return nil, err
	}

	created, err := m.docker.CreateContainer(ctx, docker.CreateOptions{
		Config: def.DefaultConfig,
		Custom: opts.CustomConfig,
		Labels: labels.ForServiceContainer(serviceID),
		VolumeLabels: func(string) labels.Labels {
			return labels.ForServiceVolume(serviceID)
		},
		Aliases: []string{def.Name},
	})
	if err != nil {
		return nil, err
	}

	rollback := cleanup.NewStack(m.logger)
	rollback.Push("remove service container", func() error {
		return m.docker.RemoveContainer(context.WithoutCancel(ctx), created.ID)
	})

	if opts.StartImmediately {
		if err := m.docker.StartContainer(ctx, created.ID); err != nil {
			rollback.Run()
			return nil, err
		}
		if err := m.docker.WaitForRunning(ctx, created.ID, 0, 0); err != nil {
			rollback.Run()
			return nil, err
		}
	}

	err = m.store.SaveServiceState(&models.ServiceState{
		ServiceID:    serviceID,
		Installed:    true,
		InstalledAt:  m.now().UTC(),
		CustomConfig: opts.CustomConfig,
	})
	if err != nil {
		rollback.Run()
		return nil, fmt.Errorf("failed to persist service state: %w", err)
	}
	rollback.Discard()

	// Ports may differ from the request; report what the daemon bound.
	state, err := m.docker.GetContainerState(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	m.logger.Info("service installed", "service", serviceID, "container", created.Name)

	if def.PostInstall != "" {
		m.runHook(ctx, def, created.ID, state)
	}

	return &models.InstallResult{ContainerID: created.ID, Ports: state.Ports}, nil
}

func (m *Manager) runHook(ctx context.Context, def *models.ServiceDefinition, containerID string, state *models.ContainerState) {
	h, ok := m.hook(def.PostInstall)
	if !ok {
		m.logger.Warn("post-install hook not registered", "service", def.ID, "hook", def.PostInstall)
		return
	}
	if !state.Running {
		m.logger.Info("skipping post-install hook, service not started", "service", def.ID, "hook", def.PostInstall)
		return
	}
	if err := h(ctx, def, containerID); err != nil {
		m.logger.Warn("post-install hook failed", "service", def.ID, "hook", def.PostInstall, "error", err)
	}
}

// Uninstall removes the service container. With removeVolumes, volumes are
// removed by label and then by their literal names, which also catches
// volumes created before they carried labels.
func (m *Manager) Uninstall(ctx context.Context, serviceID string, removeVolumes bool) models.Result[models.Empty] {
	start := time.Now()
	err := m.uninstall(ctx, serviceID, removeVolumes)
	metrics.Observe("services", "uninstall", start, err)
	if err != nil {
		m.logger.Error("uninstall failed", "service", serviceID, "error", err)
		return models.Fail[models.Empty](err)
	}
	return models.OK(models.Empty{})
}

func (m *Manager) uninstall(ctx context.Context, serviceID string, removeVolumes bool) error {
	def, err := definition(serviceID)
	if err != nil {
		return err
	}
	ref, err := m.require(ctx, serviceID)
	if err != nil {
		return err
	}

	var custom *models.CustomConfig
	if st, err := m.store.GetServiceState(serviceID); err == nil {
		custom = st.CustomConfig
	}

	if err := m.docker.RemoveContainer(ctx, ref.ID); err != nil {
		return err
	}

	var errs []error
	if removeVolumes {
		removed, err := m.removeSharedVolumes(ctx, serviceID)
		if err != nil {
			errs = append(errs, err)
		}
		m.logger.Debug("removed labeled volumes", "service", serviceID, "volumes", removed)

		for _, b := range registry.MergeConfig(def.DefaultConfig, custom).VolumeBindings {
			if err := m.docker.RemoveVolume(ctx, b.Volume); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := m.store.DeleteServiceState(serviceID); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete service state: %w", err))
	}
	return errors.Join(errs...)
}

// removeSharedVolumes removes the labeled volumes of the shared service
// container. Volumes of project bundled instances carry the same service
// labels plus a project id and are left alone.
func (m *Manager) removeSharedVolumes(ctx context.Context, serviceID string) ([]string, error) {
	vols, err := m.docker.ListManagedVolumes(ctx, labels.ForServiceVolume(serviceID))
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, v := range vols {
		if labels.Parse(v.Labels).ProjectID != "" {
			continue
		}
		if err := m.docker.RemoveVolume(ctx, v.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, v.Name)
	}
	return removed, errors.Join(errs...)
}

// require returns the service container or ErrNotInstalled.
func (m *Manager) require(ctx context.Context, serviceID string) (*docker.ContainerRef, error) {
	ref, err := m.docker.FindServiceContainer(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("%s: %w", serviceID, ErrNotInstalled)
	}
	return ref, nil
}

// Start starts an installed service.
func (m *Manager) Start(ctx context.Context, serviceID string) models.Result[models.Empty] {
	return m.action(ctx, "start", serviceID, m.docker.StartContainer)
}

// Stop stops an installed service.
func (m *Manager) Stop(ctx context.Context, serviceID string) models.Result[models.Empty] {
	return m.action(ctx, "stop", serviceID, m.docker.StopContainer)
}

// Restart restarts an installed service.
func (m *Manager) Restart(ctx context.Context, serviceID string) models.Result[models.Empty] {
	return m.action(ctx, "restart", serviceID, m.docker.RestartContainer)
}

func (m *Manager) action(ctx context.Context, op, serviceID string, fn func(context.Context, string) error) models.Result[models.Empty] {
	start := time.Now()
	err := func() error {
		if _, err := definition(serviceID); err != nil {
			return err
		}
		ref, err := m.require(ctx, serviceID)
		if err != nil {
			return err
		}
		return fn(ctx, ref.ID)
	}()
	metrics.Observe("services", op, start, err)
	if err != nil {
		m.logger.Error("service action failed", "action", op, "service", serviceID, "error", err)
		return models.Fail[models.Empty](err)
	}
	m.logger.Info("service action completed", "action", op, "service", serviceID)
	return models.OK(models.Empty{})
}

// GetState combines the catalog entry with the live container state. A
// service without a container reports the canonical not-found state.
func (m *Manager) GetState(ctx context.Context, serviceID string) (*models.ServiceStatus, error) {
	def, err := definition(serviceID)
	if err != nil {
		return nil, err
	}
	ref, err := m.docker.FindServiceContainer(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	state := models.NotFoundState()
	if ref != nil {
		if state, err = m.docker.GetContainerState(ctx, ref.ID); err != nil {
			return nil, err
		}
	}
	return &models.ServiceStatus{Definition: def, Installed: state.Exists, State: state}, nil
}

// GetAllStates returns the status of every catalog service.
func (m *Manager) GetAllStates(ctx context.Context) ([]*models.ServiceStatus, error) {
	defs := registry.All()
	out := make([]*models.ServiceStatus, 0, len(defs))
	for _, def := range defs {
		st, err := m.GetState(ctx, def.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// ContainerName returns the effective container name of an installed
// service, honoring a persisted override.
func (m *Manager) ContainerName(serviceID string) string {
	def, ok := registry.Get(serviceID)
	if !ok {
		return ""
	}
	var custom *models.CustomConfig
	if st, err := m.store.GetServiceState(serviceID); err == nil {
		custom = st.CustomConfig
	}
	return registry.MergeConfig(def.DefaultConfig, custom).ContainerName
}
