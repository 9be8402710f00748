package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecOptions configures a command run inside a container.
type ExecOptions struct {
	User       string
	WorkingDir string
	Env        []string
	// Stdin is streamed to the command when set.
	Stdin io.Reader
}

// ExecResult is the demultiplexed output of a finished command.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec runs cmd in a running container and waits for it to finish.
// A command that runs and exits non-zero is not an error; inspect ExitCode.
// If the exit code can not be read afterwards the error wraps
// ErrExitCodeUnavailable.
func (m *Manager) Exec(ctx context.Context, ref string, cmd []string, opts ExecOptions) (*ExecResult, error) {
	execConfig := container.ExecOptions{
		User:         opts.User,
		WorkingDir:   opts.WorkingDir,
		Env:          opts.Env,
		Cmd:          cmd,
		AttachStdin:  opts.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := m.api.ContainerExecCreate(ctx, ref, execConfig)
	if err != nil {
		if IsNotFound(err) {
			return nil, notFound(ref, err)
		}
		return nil, fmt.Errorf("failed to create exec in %s: %w", ref, err)
	}

	attach, err := m.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec in %s: %w", ref, err)
	}
	defer attach.Close()

	if opts.Stdin != nil {
		go func() {
			_, _ = io.Copy(attach.Conn, opts.Stdin)
			if cw, ok := attach.Conn.(interface{ CloseWrite() error }); ok {
				_ = cw.CloseWrite()
			}
		}()
	}

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil {
			return nil, fmt.Errorf("failed to read exec output in %s: %w", ref, err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	inspect, err := m.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExitCodeUnavailable, err)
	}
	if inspect.Running {
		return nil, fmt.Errorf("%w: exec %s still running", ErrExitCodeUnavailable, shortID(created.ID))
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// ExecChecked is Exec that turns a non-zero exit into *ExecError.
func (m *Manager) ExecChecked(ctx context.Context, ref string, cmd []string, opts ExecOptions) (*ExecResult, error) {
	res, err := m.Exec(ctx, ref, cmd, opts)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return res, &ExecError{ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}
