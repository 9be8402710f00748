package projects

import (
	"context"
	"fmt"
	"time"

	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/metrics"
	"evalgo.org/damp/models"
)

// Start brings up the project's dev container and bundled services,
// creating whatever is missing.
func (m *Manager) Start(ctx context.Context, id string) models.Result[*models.ContainerState] {
	start := time.Now()
	state, err := m.start(ctx, id)
	metrics.Observe("projects", "start", start, err)
	if err != nil {
		m.logger.Error("project start failed", "project", id, "error", err)
		return models.Fail[*models.ContainerState](err)
	}
	return models.OK(state)
}

func (m *Manager) start(ctx context.Context, id string) (*models.ContainerState, error) {
	p, err := m.store.GetProject(id)
	if err != nil {
		return nil, err
	}
	if err := m.docker.Ping(ctx); err != nil {
		return nil, err
	}

	for _, b := range p.BundledServices {
		ref, err := m.docker.FindBundledServiceContainer(ctx, p.ID, b.ServiceID)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			if _, err := m.services.InstallBundled(ctx, p, b); err != nil {
				return nil, fmt.Errorf("failed to install bundled %s: %w", b.ServiceID, err)
			}
			continue
		}
		if ref.State != "running" {
			if err := m.docker.StartContainer(ctx, ref.ID); err != nil {
				return nil, err
			}
		}
	}

	ref, err := m.docker.FindProjectContainer(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	containerID := ""
	if ref != nil {
		containerID = ref.ID
	} else {
		if containerID, err = m.createDevContainer(ctx, p); err != nil {
			return nil, err
		}
	}

	if err := m.docker.StartContainer(ctx, containerID); err != nil {
		return nil, err
	}
	if err := m.docker.WaitForRunning(ctx, containerID, 0, 0); err != nil {
		return nil, err
	}
	m.logger.Info("project started", "project", p.Name, "container", p.ContainerName())
	return m.docker.GetContainerState(ctx, containerID)
}

func (m *Manager) createDevContainer(ctx context.Context, p *models.Project) (string, error) {
	image := fmt.Sprintf(m.opts.BaseImage, p.PHPVersion)
	if err := m.docker.PullImage(ctx, image, nil); err != nil {
		return "", err
	}

	var env []string
	if p.Type == models.ProjectTypeLaravel {
		env = append(env, "APACHE_DOCUMENT_ROOT="+workspaceDir+"/public")
	}
	created, err := m.docker.CreateContainer(ctx, docker.CreateOptions{
		Config: models.ServiceConfig{
			Image:         image,
			ContainerName: p.ContainerName(),
		},
		Labels:     labels.ForProjectContainer(p.ID, p.Name),
		Binds:      []string{p.VolumeName + ":" + workspaceDir},
		Env:        env,
		WorkingDir: workspaceDir,
		Aliases:    []string{p.ContainerName(), p.Name},
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// Stop stops the dev container and the bundled services of a project.
func (m *Manager) Stop(ctx context.Context, id string) models.Result[models.Empty] {
	start := time.Now()
	err := m.stop(ctx, id)
	metrics.Observe("projects", "stop", start, err)
	if err != nil {
		m.logger.Error("project stop failed", "project", id, "error", err)
		return models.Fail[models.Empty](err)
	}
	return models.OK(models.Empty{})
}

func (m *Manager) stop(ctx context.Context, id string) error {
	p, err := m.store.GetProject(id)
	if err != nil {
		return err
	}
	ref, err := m.docker.FindProjectContainer(ctx, p.ID)
	if err != nil {
		return err
	}
	if ref == nil {
		return fmt.Errorf("project %s: %w", p.Name, docker.ErrContainerNotFound)
	}
	if err := m.docker.StopContainer(ctx, ref.ID); err != nil {
		return err
	}
	if err := m.services.StopBundled(ctx, p.ID); err != nil {
		return err
	}
	m.logger.Info("project stopped", "project", p.Name)
	return nil
}

// SyncFromVolume copies the project volume back into the project folder,
// skipping the same directories the create pipeline leaves out.
func (m *Manager) SyncFromVolume(ctx context.Context, id string, sink models.ProgressSink) models.Result[models.Empty] {
	start := time.Now()
	err := m.syncFromVolume(ctx, id, sink)
	metrics.Observe("projects", "sync", start, err)
	if err != nil {
		m.logger.Error("project sync failed", "project", id, "error", err)
		return models.Fail[models.Empty](err)
	}
	return models.OK(models.Empty{})
}

func (m *Manager) syncFromVolume(ctx context.Context, id string, sink models.ProgressSink) error {
	p, err := m.store.GetProject(id)
	if err != nil {
		return err
	}
	err = m.docker.SyncVolumeToFolder(ctx, p.VolumeName, p.Path, docker.SyncOptions{
		Exclude:   m.opts.Exclude,
		ProjectID: p.ID,
	}, sink)
	if err != nil {
		return err
	}
	m.logger.Info("project synced from volume", "project", p.Name, "path", p.Path)
	return nil
}
