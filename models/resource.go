package models

import "time"

// ResourceKind distinguishes containers from volumes.
type ResourceKind string

const (
	ResourceContainer ResourceKind = "container"
	ResourceVolume    ResourceKind = "volume"
)

// ResourceCategory is the owner class derived from labels.
type ResourceCategory string

const (
	CategoryProject ResourceCategory = "project"
	CategoryService ResourceCategory = "service"
	CategoryBundled ResourceCategory = "bundled"
	CategoryHelper  ResourceCategory = "helper"
	CategoryNgrok   ResourceCategory = "ngrok"
	CategoryUnknown ResourceCategory = "unknown"
)

// DockerResource is one classified managed container or volume. It is
// recomputed on every reconciliation pass.
type DockerResource struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Type             ResourceKind      `json:"type"`
	Category         ResourceCategory  `json:"category"`
	Status           string            `json:"status"`
	IsOrphan         bool              `json:"is_orphan"`
	NeedsUpdate      bool              `json:"needs_update"`
	Labels           map[string]string `json:"labels"`
	CreatedAt        time.Time         `json:"created_at"`
	OwnerID          string            `json:"owner_id,omitempty"`
	OwnerDisplayName string            `json:"owner_display_name,omitempty"`
}

// BatchResult reports per-item outcomes of a batch deletion.
type BatchResult struct {
	Deleted []string          `json:"deleted"`
	Failed  []string          `json:"failed"`
	Errors  map[string]string `json:"errors,omitempty"`
}
