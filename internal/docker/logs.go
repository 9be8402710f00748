package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// Log stream names passed to LineHandler.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// LineHandler receives one log line without its trailing newline.
type LineHandler func(stream, line string)

// LogOptions configures StreamLogs.
type LogOptions struct {
	// Tail is the number of existing lines to send first. 0 sends all.
	Tail   int
	Follow bool
	// OnEnd is called once when the stream finishes for any reason.
	OnEnd func(err error)
}

// StreamLogs sends the last Tail lines of ref and then follows new output,
// split per line into stdout and stderr. The returned stop function is
// idempotent and safe to call after the stream has ended.
func (m *Manager) StreamLogs(ctx context.Context, ref string, opts LogOptions, onLine LineHandler) (func(), error) {
	info, err := m.api.ContainerInspect(ctx, ref)
	if err != nil {
		if IsNotFound(err) {
			return nil, notFound(ref, err)
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", ref, err)
	}
	tty := info.Config != nil && info.Config.Tty

	tail := "all"
	if opts.Tail > 0 {
		tail = strconv.Itoa(opts.Tail)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	rc, err := m.api.ContainerLogs(streamCtx, ref, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       tail,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to stream logs of %s: %w", ref, err)
	}

	var once sync.Once
	id := m.newStreamID()
	stop := func() {
		once.Do(func() {
			cancel()
			_ = rc.Close()
			m.untrackStream(id)
		})
	}
	m.trackStream(id, stop)

	go func() {
		stdout := &lineWriter{stream: StreamStdout, fn: onLine}
		stderr := &lineWriter{stream: StreamStderr, fn: onLine}

		var copyErr error
		if tty {
			_, copyErr = io.Copy(stdout, rc)
		} else {
			_, copyErr = stdcopy.StdCopy(stdout, stderr, rc)
		}
		stdout.flush()
		stderr.flush()

		if streamCtx.Err() != nil {
			copyErr = nil
		}
		stop()
		if opts.OnEnd != nil {
			opts.OnEnd(copyErr)
		}
	}()

	return stop, nil
}

// lineWriter splits a byte stream into lines.
type lineWriter struct {
	stream string
	fn     LineHandler
	buf    bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line; keep it for the next write.
			w.buf.Reset()
			w.buf.Write(line)
			return len(p), nil
		}
		w.fn(w.stream, string(bytes.TrimRight(line, "\r\n")))
	}
}

func (w *lineWriter) flush() {
	if w.buf.Len() > 0 {
		w.fn(w.stream, w.buf.String())
		w.buf.Reset()
	}
}
