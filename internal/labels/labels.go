// Package labels defines the ownership labels attached to every container and
// volume DAMP creates. Labels are the only record of ownership: anything
// without the managed label is invisible to the rest of the system.
//
// Callers work with the typed Labels struct. Conversion to the daemon's
// string map and "key=value" filter form happens only at the API boundary.
package labels

import (
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/filters"
)

// Wire keys.
const (
	KeyManaged     = "com.damp.managed"
	KeyType        = "com.damp.type"
	KeyProjectID   = "com.damp.project-id"
	KeyServiceID   = "com.damp.service-id"
	KeyProjectName = "com.damp.project-name"
)

// ResourceType is the value of the type label.
type ResourceType string

const (
	TypeProjectContainer ResourceType = "project-container"
	TypeServiceContainer ResourceType = "service-container"
	TypeBundledService   ResourceType = "bundled-service-container"
	TypeHelperContainer  ResourceType = "helper-container"
	TypeNgrokTunnel      ResourceType = "ngrok-tunnel"
	TypeProjectVolume    ResourceType = "project-volume"
	TypeServiceVolume    ResourceType = "service-volume"
)

// Labels is the typed form of the label set.
type Labels struct {
	Managed     bool
	Type        ResourceType
	ProjectID   string
	ServiceID   string
	ProjectName string
}

// ForProjectContainer labels a project's dev container.
func ForProjectContainer(projectID, projectName string) Labels {
	return Labels{Managed: true, Type: TypeProjectContainer, ProjectID: projectID, ProjectName: projectName}
}

// ForServiceContainer labels a shared service container.
func ForServiceContainer(serviceID string) Labels {
	return Labels{Managed: true, Type: TypeServiceContainer, ServiceID: serviceID}
}

// ForBundledService labels a service scoped to one project.
func ForBundledService(projectID, projectName, serviceID string) Labels {
	return Labels{Managed: true, Type: TypeBundledService, ProjectID: projectID, ProjectName: projectName, ServiceID: serviceID}
}

// ForProjectVolume labels a project's source volume.
func ForProjectVolume(projectID, projectName string) Labels {
	return Labels{Managed: true, Type: TypeProjectVolume, ProjectID: projectID, ProjectName: projectName}
}

// ForServiceVolume labels a data volume of a service.
func ForServiceVolume(serviceID string) Labels {
	return Labels{Managed: true, Type: TypeServiceVolume, ServiceID: serviceID}
}

// ForHelper labels a short-lived helper container.
func ForHelper(projectID string) Labels {
	return Labels{Managed: true, Type: TypeHelperContainer, ProjectID: projectID}
}

// Managed returns a label set matching every managed object.
func Managed() Labels {
	return Labels{Managed: true}
}

// ToMap serializes the set for the daemon. Empty fields are omitted.
func (l Labels) ToMap() map[string]string {
	m := make(map[string]string, 5)
	if l.Managed {
		m[KeyManaged] = "true"
	}
	if l.Type != "" {
		m[KeyType] = string(l.Type)
	}
	if l.ProjectID != "" {
		m[KeyProjectID] = l.ProjectID
	}
	if l.ServiceID != "" {
		m[KeyServiceID] = l.ServiceID
	}
	if l.ProjectName != "" {
		m[KeyProjectName] = l.ProjectName
	}
	return m
}

// Filters returns "key=value" label filters. The managed filter is always
// present and always first.
func (l Labels) Filters() []string {
	out := []string{KeyManaged + "=true"}
	m := l.ToMap()
	delete(m, KeyManaged)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, m[k]))
	}
	return out
}

// Args converts the filters into daemon filter arguments.
func (l Labels) Args() filters.Args {
	return ArgsFrom(l.Filters())
}

// ArgsFrom builds daemon filter arguments from "key=value" strings.
func ArgsFrom(filterList []string) filters.Args {
	args := filters.NewArgs()
	for _, f := range filterList {
		args.Add("label", f)
	}
	return args
}

// Parse recovers the typed set from a daemon label map.
func Parse(m map[string]string) Labels {
	return Labels{
		Managed:     m[KeyManaged] == "true",
		Type:        ResourceType(m[KeyType]),
		ProjectID:   m[KeyProjectID],
		ServiceID:   m[KeyServiceID],
		ProjectName: m[KeyProjectName],
	}
}

// Matches reports whether the label map is a superset of every filter.
// A filter without "=" only requires the key to be present.
func Matches(m map[string]string, filterList []string) bool {
	for _, f := range filterList {
		key, value, hasValue := strings.Cut(f, "=")
		got, ok := m[key]
		if !ok {
			return false
		}
		if hasValue && got != value {
			return false
		}
	}
	return true
}
