package docker

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/api/types/volume"

	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/models"
)

// EnsureVolume creates name with the given labels unless it already
// exists. It reports whether the volume was created by this call.
func (m *Manager) EnsureVolume(ctx context.Context, name string, l labels.Labels) (bool, error) {
	_, err := m.api.VolumeInspect(ctx, name)
	if err == nil {
		return false, nil
	}
	if !IsNotFound(err) {
		return false, fmt.Errorf("failed to inspect volume %s: %w", name, err)
	}

	if _, err := m.api.VolumeCreate(ctx, volume.CreateOptions{Name: name, Labels: l.ToMap()}); err != nil {
		return false, fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	m.logger.Info("created volume", "volume", name)
	return true, nil
}

// EnsureVolumes creates every volume referenced by bindings before a
// container that mounts them is created.
func (m *Manager) EnsureVolumes(ctx context.Context, bindings []models.VolumeBinding, labelFor func(volume string) labels.Labels) error {
	for _, b := range bindings {
		if b.Volume == "" {
			continue
		}
		if _, err := m.EnsureVolume(ctx, b.Volume, labelFor(b.Volume)); err != nil {
			return err
		}
	}
	return nil
}

// VolumeExists reports whether name exists on the daemon.
func (m *Manager) VolumeExists(ctx context.Context, name string) (bool, error) {
	_, err := m.api.VolumeInspect(ctx, name)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect volume %s: %w", name, err)
}

// RemoveVolume deletes name. A missing volume is success. A volume still
// used by a container yields *VolumeInUseError. Other failures propagate.
func (m *Manager) RemoveVolume(ctx context.Context, name string) error {
	err := m.api.VolumeRemove(ctx, name, false)
	switch {
	case err == nil:
		m.logger.Info("removed volume", "volume", name)
		return nil
	case IsNotFound(err):
		return nil
	case IsConflict(err):
		return &VolumeInUseError{Volume: name, Err: err}
	default:
		return fmt.Errorf("failed to remove volume %s: %w", name, err)
	}
}

// ListManagedVolumes returns volumes whose labels match l.
func (m *Manager) ListManagedVolumes(ctx context.Context, l labels.Labels) ([]*volume.Volume, error) {
	filterList := l.Filters()
	resp, err := m.api.VolumeList(ctx, volume.ListOptions{Filters: labels.ArgsFrom(filterList)})
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	out := make([]*volume.Volume, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		if v != nil && labels.Matches(v.Labels, filterList) {
			out = append(out, v)
		}
	}
	return out, nil
}

// RemoveVolumesByLabel removes every volume matching l and returns the
// names removed. Individual failures are joined into the error.
func (m *Manager) RemoveVolumesByLabel(ctx context.Context, l labels.Labels) ([]string, error) {
	vols, err := m.ListManagedVolumes(ctx, l)
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, v := range vols {
		if err := m.RemoveVolume(ctx, v.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, v.Name)
	}
	return removed, errors.Join(errs...)
}
