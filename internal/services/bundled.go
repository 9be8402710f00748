package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"evalgo.org/damp/internal/cleanup"
	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/metrics"
	"evalgo.org/damp/internal/registry"
	"evalgo.org/damp/models"
)

// BundledContainerName is the project scoped container name of a service.
func BundledContainerName(projectName, serviceID string) string {
	return fmt.Sprintf("damp-%s-%s", models.SanitizeName(projectName), serviceID)
}

func bundledVolumeLabels(p *models.Project, serviceID string) labels.Labels {
	return labels.Labels{
		Managed:     true,
		Type:        labels.TypeServiceVolume,
		ProjectID:   p.ID,
		ServiceID:   serviceID,
		ProjectName: p.Name,
	}
}

// bundledConfig scopes a default configuration to one project. Volume names
// get the project name appended and credentials become environment
// variables appended after the defaults.
func bundledConfig(p *models.Project, def *models.ServiceDefinition, b models.BundledService) (models.ServiceConfig, *models.CustomConfig) {
	cfg := registry.MergeConfig(def.DefaultConfig, nil)
	suffix := models.SanitizeName(p.Name)
	for i := range cfg.VolumeBindings {
		cfg.VolumeBindings[i].Volume = fmt.Sprintf("%s_%s", cfg.VolumeBindings[i].Volume, suffix)
	}
	cfg.ContainerName = BundledContainerName(p.Name, def.ID)

	keys := make([]string, 0, len(b.CustomCredentials))
	for k := range b.CustomCredentials {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	custom := &models.CustomConfig{}
	for _, k := range keys {
		custom.EnvironmentVars = append(custom.EnvironmentVars, k+"="+b.CustomCredentials[k])
	}
	return cfg, custom
}

// InstallBundled creates and starts a service container scoped to project.
func (m *Manager) InstallBundled(ctx context.Context, p *models.Project, b models.BundledService) (*models.InstallResult, error) {
	start := time.Now()
	res, err := m.installBundled(ctx, p, b)
	metrics.Observe("services", "install_bundled", start, err)
	return res, err
}

func (m *Manager) installBundled(ctx context.Context, p *models.Project, b models.BundledService) (*models.InstallResult, error) {
	def, err := definition(b.ServiceID)
	if err != nil {
		return nil, err
	}
	if !def.Bundleable {
		return nil, fmt.Errorf("service %s can not be bundled with a project", def.ID)
	}

	existing, err := m.docker.FindBundledServiceContainer(ctx, p.ID, def.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s for project %s", ErrAlreadyInstalled, def.ID, p.Name)
	}

	cfg, custom := bundledConfig(p, def, b)
	if err := m.docker.PullImage(ctx, cfg.Image, nil); err != nil {
		return nil, err
	}

	created, err := m.docker.CreateContainer(ctx, docker.CreateOptions{
		Config: cfg,
		Custom: custom,
		Labels: labels.ForBundledService(p.ID, p.Name, def.ID),
		VolumeLabels: func(string) labels.Labels {
			return bundledVolumeLabels(p, def.ID)
		},
	})
	if err != nil {
		return nil, err
	}

	if err := m.docker.StartContainer(ctx, created.ID); err != nil {
		cleanup.Do(m.logger, "remove bundled container", func() error {
			return m.docker.RemoveContainer(context.WithoutCancel(ctx), created.ID)
		})
		return nil, err
	}

	state, err := m.docker.GetContainerState(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("bundled service installed", "project", p.Name, "service", def.ID, "container", created.Name)
	return &models.InstallResult{ContainerID: created.ID, Ports: state.Ports}, nil
}

// RemoveBundled removes a project scoped service container and, with
// removeVolumes, its labeled volumes. A missing container is not an error.
func (m *Manager) RemoveBundled(ctx context.Context, projectID, serviceID string, removeVolumes bool) error {
	ref, err := m.docker.FindBundledServiceContainer(ctx, projectID, serviceID)
	if err != nil {
		return err
	}
	if ref != nil {
		if err := m.docker.RemoveContainer(ctx, ref.ID); err != nil && !docker.IsNotFound(err) {
			return err
		}
	}
	if !removeVolumes {
		return nil
	}
	_, err = m.docker.RemoveVolumesByLabel(ctx, labels.Labels{
		Managed:   true,
		Type:      labels.TypeServiceVolume,
		ProjectID: projectID,
		ServiceID: serviceID,
	})
	return err
}

// StartBundled starts every bundled service of a project.
func (m *Manager) StartBundled(ctx context.Context, projectID string) error {
	return m.eachBundled(ctx, projectID, m.docker.StartContainer)
}

// StopBundled stops every bundled service of a project.
func (m *Manager) StopBundled(ctx context.Context, projectID string) error {
	return m.eachBundled(ctx, projectID, m.docker.StopContainer)
}

func (m *Manager) eachBundled(ctx context.Context, projectID string, fn func(context.Context, string) error) error {
	refs, err := m.docker.ListManagedContainers(ctx, labels.Labels{
		Managed:   true,
		Type:      labels.TypeBundledService,
		ProjectID: projectID,
	})
	if err != nil {
		return err
	}
	var errs []error
	for _, ref := range refs {
		if err := fn(ctx, ref.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
