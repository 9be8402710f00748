package models

import (
	"fmt"
	"time"
)

// ServiceType groups catalog services by role.
type ServiceType string

const (
	ServiceTypeWeb      ServiceType = "web"
	ServiceTypeDatabase ServiceType = "database"
	ServiceTypeCache    ServiceType = "cache"
	ServiceTypeEmail    ServiceType = "email"
	ServiceTypeSearch   ServiceType = "search"
	ServiceTypeQueue    ServiceType = "queue"
	ServiceTypeStorage  ServiceType = "storage"
)

// ServiceDefinition is a static catalog entry. It never changes at runtime.
type ServiceDefinition struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	DisplayName string      `json:"display_name" yaml:"display_name"`
	Description string      `json:"description" yaml:"description"`
	ServiceType ServiceType `json:"service_type" yaml:"service_type"`
	Required    bool        `json:"required" yaml:"required"`
	Bundleable  bool        `json:"bundleable" yaml:"bundleable"`

	DefaultConfig ServiceConfig `json:"default_config" yaml:"default_config"`

	// LinkedDatabaseService names the database an admin tool connects to.
	LinkedDatabaseService string `json:"linked_database_service,omitempty" yaml:"linked_database_service,omitempty"`

	ProxySubdomain string `json:"proxy_subdomain,omitempty" yaml:"proxy_subdomain,omitempty"`
	ProxyPort      int    `json:"proxy_port,omitempty" yaml:"proxy_port,omitempty"`

	// PostInstall names a hook run after a successful install.
	PostInstall string `json:"post_install,omitempty" yaml:"post_install,omitempty"`
}

// IsDatabase reports whether list/dump/restore operations apply.
func (d *ServiceDefinition) IsDatabase() bool {
	return d.ServiceType == ServiceTypeDatabase
}

// ServiceConfig is the effective container configuration of a service.
type ServiceConfig struct {
	Image           string          `json:"image" yaml:"image"`
	ContainerName   string          `json:"container_name" yaml:"container_name"`
	Ports           []PortPair      `json:"ports,omitempty" yaml:"ports,omitempty"`
	EnvironmentVars []string        `json:"environment_vars,omitempty" yaml:"environment_vars,omitempty"`
	VolumeBindings  []VolumeBinding `json:"volume_bindings,omitempty" yaml:"volume_bindings,omitempty"`
	HealthCheck     *HealthCheck    `json:"healthcheck,omitempty" yaml:"healthcheck,omitempty"`
	Command         []string        `json:"command,omitempty" yaml:"command,omitempty"`
}

// CustomConfig is a user override. Zero-valued fields mean "use the default".
type CustomConfig struct {
	Image           string          `json:"image,omitempty" yaml:"image,omitempty"`
	ContainerName   string          `json:"container_name,omitempty" yaml:"container_name,omitempty"`
	Ports           []PortPair      `json:"ports,omitempty" yaml:"ports,omitempty"`
	EnvironmentVars []string        `json:"environment_vars,omitempty" yaml:"environment_vars,omitempty"`
	VolumeBindings  []VolumeBinding `json:"volume_bindings,omitempty" yaml:"volume_bindings,omitempty"`
	HealthCheck     *HealthCheck    `json:"healthcheck,omitempty" yaml:"healthcheck,omitempty"`
	Command         []string        `json:"command,omitempty" yaml:"command,omitempty"`
}

// PortPair maps an external (host) port to an internal (container) port.
type PortPair struct {
	External int    `json:"external" yaml:"external"`
	Internal int    `json:"internal" yaml:"internal"`
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
}

// VolumeBinding mounts a named volume into the container.
type VolumeBinding struct {
	Volume   string `json:"volume" yaml:"volume"`
	Target   string `json:"target" yaml:"target"`
	ReadOnly bool   `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// Bind returns the binding in "volume:target[:ro]" form.
func (b VolumeBinding) Bind() string {
	s := fmt.Sprintf("%s:%s", b.Volume, b.Target)
	if b.ReadOnly {
		s += ":ro"
	}
	return s
}

// HealthCheck describes a container healthcheck.
type HealthCheck struct {
	Test        []string      `json:"test" yaml:"test"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	StartPeriod time.Duration `json:"start_period,omitempty" yaml:"start_period,omitempty"`
	Retries     int           `json:"retries" yaml:"retries"`
}

// ServiceState is the persisted record of an installed shared service.
type ServiceState struct {
	ServiceID    string        `json:"service_id" yaml:"service_id"`
	Installed    bool          `json:"installed" yaml:"installed"`
	InstalledAt  time.Time     `json:"installed_at" yaml:"installed_at"`
	CustomConfig *CustomConfig `json:"custom_config,omitempty" yaml:"custom_config,omitempty"`
}

// ServiceStatus combines a catalog entry with its live container state.
type ServiceStatus struct {
	Definition *ServiceDefinition `json:"definition"`
	Installed  bool               `json:"installed"`
	State      *ContainerState    `json:"state"`
}

// InstallResult is returned by a successful install.
type InstallResult struct {
	ContainerID string        `json:"container_id"`
	Ports       []PortMapping `json:"ports"`
}
