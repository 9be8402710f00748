package docker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"

	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/registry"
	"evalgo.org/damp/models"
)

// CreateOptions describes a container to create.
type CreateOptions struct {
	// Config is the default configuration; Custom is merged over it.
	Config models.ServiceConfig
	Custom *models.CustomConfig

	// Name overrides the merged container name.
	Name   string
	Labels labels.Labels

	// VolumeLabels returns labels for a volume referenced by a binding.
	// When nil, volumes only carry the managed label.
	VolumeLabels func(volume string) labels.Labels

	// Binds are extra "source:target" mounts. Named sources must exist.
	Binds      []string
	Env        []string
	WorkingDir string
	Aliases    []string

	// RestartPolicy defaults to unless-stopped.
	RestartPolicy string
}

// CreateResult reports the created container and its port assignments.
type CreateResult struct {
	ID       string
	Name     string
	Ports    map[int]int
	Warnings []string
}

// ContainerRef identifies a container found by label lookup.
type ContainerRef struct {
	ID      string
	Name    string
	Image   string
	State   string
	Status  string
	Labels  map[string]string
	Created time.Time
}

// CreateContainer merges configuration, resolves host ports, ensures the
// network and every bound volume exist, and creates the container. It does
// not start it. Callers must read actual ports back from the result or from
// GetContainerState rather than assume the requested ports were honored.
func (m *Manager) CreateContainer(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	cfg := registry.MergeConfig(opts.Config, opts.Custom)
	name := cfg.ContainerName
	if opts.Name != "" {
		name = opts.Name
	}
	if cfg.Image == "" {
		return nil, errors.New("container image is required")
	}

	desired := make([]int, 0, len(cfg.Ports))
	for _, p := range cfg.Ports {
		if p.External > 0 {
			desired = append(desired, p.External)
		}
	}
	portMap, err := m.resolver.Resolve(ctx, desired)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ports for %s: %w", name, err)
	}

	containerConfig, hostConfig, networkConfig, err := m.buildSpec(cfg, portMap, opts)
	if err != nil {
		return nil, err
	}

	if err := m.EnsureNetwork(ctx); err != nil {
		return nil, err
	}

	labelFor := opts.VolumeLabels
	if labelFor == nil {
		labelFor = func(string) labels.Labels { return labels.Managed() }
	}
	if err := m.EnsureVolumes(ctx, cfg.VolumeBindings, labelFor); err != nil {
		return nil, err
	}

	resp, err := m.api.ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, name)
	if err != nil {
		if IsConflict(err) {
			return nil, fmt.Errorf("%w: %s", ErrNameConflict, name)
		}
		return nil, fmt.Errorf("failed to create container %s: %w", name, err)
	}

	m.logger.Info("created container", "name", name, "id", shortID(resp.ID), "image", cfg.Image)
	return &CreateResult{ID: resp.ID, Name: name, Ports: portMap, Warnings: resp.Warnings}, nil
}

func (m *Manager) buildSpec(cfg models.ServiceConfig, portMap map[int]int, opts CreateOptions) (*container.Config, *container.HostConfig, *network.NetworkingConfig, error) {
	exposedPorts := make(nat.PortSet)
	portBindings := make(nat.PortMap)

	for _, p := range cfg.Ports {
		protocol := p.Protocol
		if protocol == "" {
			protocol = "tcp"
		}
		natPort, err := nat.NewPort(strings.ToLower(protocol), strconv.Itoa(p.Internal))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid port %d: %w", p.Internal, err)
		}
		exposedPorts[natPort] = struct{}{}

		if p.External > 0 {
			portBindings[natPort] = []nat.PortBinding{{
				HostIP:   "0.0.0.0",
				HostPort: strconv.Itoa(portMap[p.External]),
			}}
		}
	}

	env := append(append([]string{}, cfg.EnvironmentVars...), opts.Env...)

	containerConfig := &container.Config{
		Image:        cfg.Image,
		Env:          env,
		Cmd:          cfg.Command,
		WorkingDir:   opts.WorkingDir,
		Labels:       opts.Labels.ToMap(),
		ExposedPorts: exposedPorts,
	}
	if h := cfg.HealthCheck; h != nil {
		containerConfig.Healthcheck = &container.HealthConfig{
			Test:        h.Test,
			Interval:    h.Interval,
			Timeout:     h.Timeout,
			StartPeriod: h.StartPeriod,
			Retries:     h.Retries,
		}
	}

	binds := make([]string, 0, len(cfg.VolumeBindings)+len(opts.Binds))
	for _, b := range cfg.VolumeBindings {
		binds = append(binds, b.Bind())
	}
	binds = append(binds, opts.Binds...)

	restart := opts.RestartPolicy
	if restart == "" {
		restart = "unless-stopped"
	}

	hostConfig := &container.HostConfig{
		PortBindings:  portBindings,
		Binds:         binds,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(restart)},
	}

	networkConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			m.opts.Network: {Aliases: opts.Aliases},
		},
	}

	return containerConfig, hostConfig, networkConfig, nil
}

// StartContainer starts a created or stopped container.
func (m *Manager) StartContainer(ctx context.Context, ref string) error {
	if err := m.api.ContainerStart(ctx, ref, container.StartOptions{}); err != nil {
		if IsNotFound(err) {
			return notFound(ref, err)
		}
		return fmt.Errorf("failed to start container %s: %w", ref, err)
	}
	return nil
}

// StopContainer stops a container, killing it after the grace timeout.
func (m *Manager) StopContainer(ctx context.Context, ref string) error {
	timeout := int(m.opts.StopTimeout.Seconds())
	if err := m.api.ContainerStop(ctx, ref, container.StopOptions{Timeout: &timeout}); err != nil {
		if IsNotFound(err) {
			return notFound(ref, err)
		}
		return fmt.Errorf("failed to stop container %s: %w", ref, err)
	}
	return nil
}

// RestartContainer restarts a container with the same grace timeout as stop.
func (m *Manager) RestartContainer(ctx context.Context, ref string) error {
	timeout := int(m.opts.StopTimeout.Seconds())
	if err := m.api.ContainerRestart(ctx, ref, container.StopOptions{Timeout: &timeout}); err != nil {
		if IsNotFound(err) {
			return notFound(ref, err)
		}
		return fmt.Errorf("failed to restart container %s: %w", ref, err)
	}
	return nil
}

// RemoveContainer force-removes a container whether or not it is running.
// There is no graceful stop first.
func (m *Manager) RemoveContainer(ctx context.Context, ref string) error {
	if err := m.api.ContainerRemove(ctx, ref, container.RemoveOptions{Force: true}); err != nil {
		if IsNotFound(err) {
			return notFound(ref, err)
		}
		return fmt.Errorf("failed to remove container %s: %w", ref, err)
	}
	m.logger.Info("removed container", "ref", ref)
	return nil
}

// GetContainerState inspects ref. A missing container yields the canonical
// not-found state and no error. Only daemon failures return an error.
func (m *Manager) GetContainerState(ctx context.Context, ref string) (*models.ContainerState, error) {
	if ref == "" {
		return models.NotFoundState(), nil
	}
	info, err := m.api.ContainerInspect(ctx, ref)
	if err != nil {
		if IsNotFound(err) {
			return models.NotFoundState(), nil
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", ref, err)
	}
	return stateFromInspect(info), nil
}

func stateFromInspect(info container.InspectResponse) *models.ContainerState {
	s := &models.ContainerState{Exists: true, HealthStatus: models.HealthNone}

	if base := info.ContainerJSONBase; base != nil {
		s.ContainerID = base.ID
		s.ContainerName = strings.TrimPrefix(base.Name, "/")
		if st := base.State; st != nil {
			s.Running = st.Running
			s.State = string(st.Status)
			if st.Health != nil && st.Health.Status != "" {
				s.HealthStatus = string(st.Health.Status)
			}
		}
	}
	if info.Config != nil {
		s.EnvVars = info.Config.Env
	}
	if info.NetworkSettings != nil {
		s.Ports = portsFromMap(info.NetworkSettings.Ports)
	}
	return s
}

func portsFromMap(pm nat.PortMap) []models.PortMapping {
	var out []models.PortMapping
	for port, bindings := range pm {
		for _, b := range bindings {
			hostPort, err := strconv.Atoi(b.HostPort)
			if err != nil {
				continue
			}
			out = append(out, models.PortMapping{
				HostPort:      hostPort,
				ContainerPort: port.Int(),
				Protocol:      port.Proto(),
			})
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContainerPort < out[j].ContainerPort })
	return out
}

// FindByLabels returns the first container whose labels include every
// "key=value" filter, or nil when none matches. The managed filter is
// always applied, and matches are re-checked client side.
func (m *Manager) FindByLabels(ctx context.Context, filterList []string) (*ContainerRef, error) {
	refs, err := m.listByFilters(ctx, filterList)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return &refs[0], nil
}

// FindProjectContainer returns the dev container of a project.
func (m *Manager) FindProjectContainer(ctx context.Context, projectID string) (*ContainerRef, error) {
	return m.FindByLabels(ctx, labels.Labels{Managed: true, Type: labels.TypeProjectContainer, ProjectID: projectID}.Filters())
}

// FindServiceContainer returns the shared container of a service.
func (m *Manager) FindServiceContainer(ctx context.Context, serviceID string) (*ContainerRef, error) {
	return m.FindByLabels(ctx, labels.ForServiceContainer(serviceID).Filters())
}

// FindBundledServiceContainer returns a project-scoped service container.
func (m *Manager) FindBundledServiceContainer(ctx context.Context, projectID, serviceID string) (*ContainerRef, error) {
	return m.FindByLabels(ctx, labels.Labels{Managed: true, Type: labels.TypeBundledService, ProjectID: projectID, ServiceID: serviceID}.Filters())
}

// ListManagedContainers returns every container matching l, running or not.
func (m *Manager) ListManagedContainers(ctx context.Context, l labels.Labels) ([]ContainerRef, error) {
	return m.listByFilters(ctx, l.Filters())
}

func (m *Manager) listByFilters(ctx context.Context, filterList []string) ([]ContainerRef, error) {
	managed := labels.KeyManaged + "=true"
	if len(filterList) == 0 || filterList[0] != managed {
		filterList = append([]string{managed}, filterList...)
	}

	list, err := m.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: labels.ArgsFrom(filterList),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	refs := make([]ContainerRef, 0, len(list))
	for _, c := range list {
		if !labels.Matches(c.Labels, filterList) {
			continue
		}
		refs = append(refs, refFromSummary(c))
	}
	return refs, nil
}

func refFromSummary(c container.Summary) ContainerRef {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}
	return ContainerRef{
		ID:      c.ID,
		Name:    name,
		Image:   c.Image,
		State:   string(c.State),
		Status:  c.Status,
		Labels:  c.Labels,
		Created: time.Unix(c.Created, 0),
	}
}

// WaitForRunning polls until ref is running. It returns *FatalStateError
// when the container exits or dies, and ErrWaitTimeout when timeout elapses
// first. Zero timeout or interval use the manager defaults.
func (m *Manager) WaitForRunning(ctx context.Context, ref string, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = m.opts.WaitTimeout
	}
	if interval <= 0 {
		interval = m.opts.WaitInterval
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		info, err := m.api.ContainerInspect(ctx, ref)
		if err != nil && !IsNotFound(err) {
			return fmt.Errorf("failed to inspect container %s: %w", ref, err)
		}
		if err == nil && info.ContainerJSONBase != nil && info.State != nil {
			st := info.State
			if st.Running && st.Status == container.StateRunning {
				return nil
			}
			if st.Status == container.StateExited || st.Status == container.StateDead {
				return &FatalStateError{Container: ref, State: string(st.Status), ExitCode: st.ExitCode}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s after %s", ErrWaitTimeout, ref, timeout)
		case <-ticker.C:
		}
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
