package docker

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"evalgo.org/damp/internal/cleanup"
	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/models"
)

// HelperOptions describes a short-lived helper container.
type HelperOptions struct {
	// Image defaults to the manager's helper image.
	Image      string
	Cmd        []string
	Binds      []string
	Env        []string
	WorkingDir string
	User       string
	// ProjectID is recorded in the helper labels.
	ProjectID string
	// Timeout bounds the whole run. Zero means 10 minutes.
	Timeout time.Duration
}

// HelperResult is the outcome of a helper run.
type HelperResult struct {
	ExitCode int
	Output   string
}

// RunHelper pulls the image if needed, runs the command to completion,
// collects its output and always removes the container afterwards.
func (m *Manager) RunHelper(ctx context.Context, opts HelperOptions, sink models.ProgressSink) (*HelperResult, error) {
	if opts.Image == "" {
		opts.Image = m.opts.HelperImage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := m.PullImage(ctx, opts.Image, sink); err != nil {
		return nil, err
	}

	id, err := m.createHelper(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer m.removeHelper(ctx, id)

	if err := m.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start helper: %w", err)
	}

	waitCh, errCh := m.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case res := <-waitCh:
		exitCode = int(res.StatusCode)
		if res.Error != nil && res.Error.Message != "" {
			return nil, fmt.Errorf("helper wait failed: %s", res.Error.Message)
		}
	case err := <-errCh:
		return nil, fmt.Errorf("helper wait failed: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("helper did not finish: %w", ctx.Err())
	}

	output := m.helperOutput(ctx, id)
	return &HelperResult{ExitCode: exitCode, Output: output}, nil
}

func (m *Manager) createHelper(ctx context.Context, opts HelperOptions) (string, error) {
	cmd := opts.Cmd
	if len(cmd) == 0 {
		cmd = []string{"true"}
	}
	resp, err := m.api.ContainerCreate(ctx,
		&container.Config{
			Image:      opts.Image,
			Cmd:        cmd,
			Env:        opts.Env,
			WorkingDir: opts.WorkingDir,
			User:       opts.User,
			Labels:     labels.ForHelper(opts.ProjectID).ToMap(),
		},
		&container.HostConfig{Binds: opts.Binds},
		nil, nil, models.GenerateName("damp-helper"))
	if err != nil {
		return "", fmt.Errorf("failed to create helper container: %w", err)
	}
	return resp.ID, nil
}

func (m *Manager) removeHelper(ctx context.Context, id string) {
	cleanup.Do(m.logger, "remove helper container", func() error {
		return m.api.ContainerRemove(context.WithoutCancel(ctx), id, container.RemoveOptions{Force: true})
	})
}

func (m *Manager) helperOutput(ctx context.Context, id string) string {
	rc, err := m.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		m.logger.Debug("failed to read helper logs", "error", err)
		return ""
	}
	defer cleanup.Close(m.logger, "close helper logs", rc)

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil {
		m.logger.Debug("failed to demultiplex helper logs", "error", err)
	}
	return out.String()
}
