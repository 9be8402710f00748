package registry

import (
	"slices"

	"evalgo.org/damp/models"
)

// MergeConfig applies a user override to a default configuration.
//
// Per-field policy:
//   - Image, ContainerName: override if set, otherwise default.
//   - Ports: replaced wholesale when the override provides any.
//   - VolumeBindings: replaced wholesale when the override provides any.
//   - EnvironmentVars: appended after the defaults, never replaced.
//   - HealthCheck: override if set, otherwise default.
//   - Command: override if set, otherwise default.
//
// The default is never mutated.
func MergeConfig(def models.ServiceConfig, custom *models.CustomConfig) models.ServiceConfig {
	out := models.ServiceConfig{
		Image:           def.Image,
		ContainerName:   def.ContainerName,
		Ports:           slices.Clone(def.Ports),
		EnvironmentVars: slices.Clone(def.EnvironmentVars),
		VolumeBindings:  slices.Clone(def.VolumeBindings),
		HealthCheck:     cloneHealthCheck(def.HealthCheck),
		Command:         slices.Clone(def.Command),
	}
	if custom == nil {
		return out
	}

	if custom.Image != "" {
		out.Image = custom.Image
	}
	if custom.ContainerName != "" {
		out.ContainerName = custom.ContainerName
	}
	if len(custom.Ports) > 0 {
		out.Ports = slices.Clone(custom.Ports)
	}
	if len(custom.VolumeBindings) > 0 {
		out.VolumeBindings = slices.Clone(custom.VolumeBindings)
	}
	out.EnvironmentVars = append(out.EnvironmentVars, custom.EnvironmentVars...)
	if custom.HealthCheck != nil {
		out.HealthCheck = cloneHealthCheck(custom.HealthCheck)
	}
	if len(custom.Command) > 0 {
		out.Command = slices.Clone(custom.Command)
	}
	return out
}

func cloneHealthCheck(h *models.HealthCheck) *models.HealthCheck {
	if h == nil {
		return nil
	}
	c := *h
	c.Test = slices.Clone(h.Test)
	return &c
}
