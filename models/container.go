package models

// Health status values reported in ContainerState.HealthStatus.
const (
	HealthStarting  = "starting"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthNone      = "none"
)

// ContainerState is a live view of a container, recomputed from an inspect
// call every time it is requested.
type ContainerState struct {
	Exists        bool          `json:"exists"`
	Running       bool          `json:"running"`
	ContainerID   string        `json:"container_id,omitempty"`
	ContainerName string        `json:"container_name,omitempty"`
	State         string        `json:"state,omitempty"`
	Ports         []PortMapping `json:"ports,omitempty"`
	HealthStatus  string        `json:"health_status,omitempty"`
	EnvVars       []string      `json:"env_vars,omitempty"`
}

// NotFoundState returns the canonical shape for a container that does not
// exist. Every lookup that misses returns exactly this value.
func NotFoundState() *ContainerState {
	return &ContainerState{}
}

// IsHealthy reports whether the container is running and, if it declares a
// healthcheck, currently healthy.
func (s *ContainerState) IsHealthy() bool {
	if !s.Running {
		return false
	}
	return s.HealthStatus == "" || s.HealthStatus == HealthNone || s.HealthStatus == HealthHealthy
}

// HostPort returns the host port bound to the given container port, or 0.
func (s *ContainerState) HostPort(containerPort int) int {
	for _, p := range s.Ports {
		if p.ContainerPort == containerPort {
			return p.HostPort
		}
	}
	return 0
}

// PortMapping is an actual host binding read back from the daemon.
type PortMapping struct {
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol"`
}
