package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"

	"evalgo.org/damp/internal/cleanup"
	"evalgo.org/damp/models"
)

// IsFloatingTag reports whether ref is untagged or tagged latest.
// Digest references are always pinned.
func IsFloatingTag(ref string) bool {
	if strings.Contains(ref, "@") {
		return false
	}
	name := ref[strings.LastIndex(ref, "/")+1:]
	i := strings.LastIndex(name, ":")
	if i < 0 {
		return true
	}
	return name[i+1:] == "latest"
}

// ImageTag returns the tag of ref, "latest" when untagged.
func ImageTag(ref string) string {
	if at := strings.Index(ref, "@"); at >= 0 {
		return ref[at+1:]
	}
	name := ref[strings.LastIndex(ref, "/")+1:]
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return "latest"
}

// NeedsPull applies the pull policy without touching the network:
// a pinned tag present locally is never pulled; a floating tag is pulled if
// it was never pulled by us or the last pull is older than PullMaxAge; a
// missing image is always pulled.
func (m *Manager) NeedsPull(ctx context.Context, ref string) (bool, error) {
	_, _, err := m.api.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if IsNotFound(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	if !IsFloatingTag(ref) {
		return false, nil
	}
	if m.pulls == nil {
		return true, nil
	}
	last, ok := m.pulls.LastPull(ref)
	if !ok {
		return true, nil
	}
	return m.now().Sub(last) > m.opts.PullMaxAge, nil
}

// PullImage pulls ref when the pull policy requires it and records the pull
// time after success. Pull progress is forwarded to sink.
func (m *Manager) PullImage(ctx context.Context, ref string, sink models.ProgressSink) error {
	sink = models.SinkOrDiscard(sink)

	need, err := m.NeedsPull(ctx, ref)
	if err != nil {
		return err
	}
	if !need {
		m.logger.Debug("image up to date, skipping pull", "image", ref)
		return nil
	}

	m.logger.Info("pulling image", "image", ref)
	reader, err := m.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer cleanup.Close(m.logger, "close pull stream", reader)

	if err := consumePull(reader, ref, sink); err != nil {
		return err
	}

	if m.pulls != nil {
		if err := m.pulls.RecordPull(ref, m.now()); err != nil {
			m.logger.Warn("failed to record pull time", "image", ref, "error", err)
		}
	}
	return nil
}

func consumePull(r io.Reader, ref string, sink models.ProgressSink) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read pull output for %s: %w", ref, err)
		}
		if msg.Error != nil {
			return fmt.Errorf("failed to pull image %s: %s", ref, msg.Error.Message)
		}

		p := models.Progress{Operation: "pull", Stage: msg.Status, Message: ref}
		if msg.Progress != nil && msg.Progress.Total > 0 {
			p.Step = int(msg.Progress.Current)
			p.TotalSteps = int(msg.Progress.Total)
			p.Percentage = int(msg.Progress.Current * 100 / msg.Progress.Total)
		}
		sink.Report(p)
	}
}
