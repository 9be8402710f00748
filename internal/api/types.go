package api

import (
	"evalgo.org/damp/models"
)

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// ResourcesResponse is one page of managed resources.
type ResourcesResponse struct {
	Count     int                      `json:"count"`
	Total     int                      `json:"total"`
	Orphans   int                      `json:"orphans"`
	Resources []*models.DockerResource `json:"resources"`
}

// ProjectsResponse lists projects.
type ProjectsResponse struct {
	Count    int               `json:"count"`
	Projects []*models.Project `json:"projects"`
}

// ServicesResponse lists every catalog service with its live state.
type ServicesResponse struct {
	Count    int                     `json:"count"`
	Services []*models.ServiceStatus `json:"services"`
}

// PruneRequest selects what to prune. Both lists empty prunes every orphan.
type PruneRequest struct {
	ContainerIDs []string `json:"container_ids"`
	VolumeNames  []string `json:"volume_names"`
}

// HealthResponse reports server and daemon health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Docker  string `json:"docker"`
	Error   string `json:"error,omitempty"`
}
