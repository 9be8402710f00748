package models

import "time"

// ProjectType selects how a project folder is prepared.
type ProjectType string

const (
	ProjectTypeBasicPHP ProjectType = "basic-php"
	ProjectTypeLaravel  ProjectType = "laravel"
	ProjectTypeExisting ProjectType = "existing"
)

// Project is a persisted PHP development project.
type Project struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Type        ProjectType `json:"type" yaml:"type"`
	Path        string      `json:"path" yaml:"path"`
	VolumeName  string      `json:"volume_name" yaml:"volume_name"`
	Domain      string      `json:"domain" yaml:"domain"`
	PHPVersion  string      `json:"php_version" yaml:"php_version"`
	NodeVersion string      `json:"node_version,omitempty" yaml:"node_version,omitempty"`

	PHPExtensions   []string         `json:"php_extensions,omitempty" yaml:"php_extensions,omitempty"`
	BundledServices []BundledService `json:"bundled_services,omitempty" yaml:"bundled_services,omitempty"`

	// ForwardedPort is the container port the proxy routes the domain to.
	ForwardedPort int `json:"forwarded_port" yaml:"forwarded_port"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	DevcontainerCreated bool `json:"devcontainer_created" yaml:"devcontainer_created"`
	VolumeCopied        bool `json:"volume_copied" yaml:"volume_copied"`
}

// BundledService is a service instance scoped to a single project.
type BundledService struct {
	ServiceID         string            `json:"service_id" yaml:"service_id"`
	CustomCredentials map[string]string `json:"custom_credentials,omitempty" yaml:"custom_credentials,omitempty"`
}

// Domains returns the project domain followed by one subdomain per bundled
// service that is exposed through the proxy.
func (p *Project) Domains(subdomains map[string]string) []string {
	out := []string{p.Domain}
	for _, b := range p.BundledServices {
		if sub, ok := subdomains[b.ServiceID]; ok && sub != "" {
			out = append(out, sub+"."+p.Domain)
		}
	}
	return out
}

// ContainerName is the name of the project's dev container.
func (p *Project) ContainerName() string {
	return "damp-project-" + p.Name
}
