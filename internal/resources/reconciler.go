// Package resources reconciles managed Docker objects against the projects
// and services DAMP knows about. Every pass is computed fresh from the
// daemon; nothing here is cached.
package resources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/metrics"
	"evalgo.org/damp/internal/registry"
	"evalgo.org/damp/models"
)

// ErrNotManaged is returned when asked to delete an object without the
// managed label.
var ErrNotManaged = errors.New("resource is not managed by damp")

// ProjectLister returns the persisted projects.
type ProjectLister interface {
	ListProjects() ([]*models.Project, error)
}

// ServiceStateLister returns the persisted service records.
type ServiceStateLister interface {
	ListServiceStates() ([]*models.ServiceState, error)
}

// PendingChecker reports projects whose creation is in progress.
type PendingChecker interface {
	IsPending(projectID string) bool
}

// Reconciler classifies managed resources.
type Reconciler struct {
	docker   *docker.Manager
	projects ProjectLister
	services ServiceStateLister
	pending  PendingChecker
	logger   *slog.Logger

	// concurrency bounds batch deletions.
	concurrency int
}

// New creates a Reconciler. pending may be nil.
func New(dm *docker.Manager, projects ProjectLister, services ServiceStateLister, pending PendingChecker, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		docker:      dm,
		projects:    projects,
		services:    services,
		pending:     pending,
		logger:      logger.With("component", "resources"),
		concurrency: 8,
	}
}

type snapshot struct {
	projects map[string]*models.Project
	services map[string]*models.ServiceState
	// serviceRefs holds every service ID carried by any container.
	serviceRefs map[string]bool
}

func (r *Reconciler) load(containers []docker.ContainerRef) (*snapshot, error) {
	projects, err := r.projects.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	states, err := r.services.ListServiceStates()
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	s := &snapshot{
		projects:    make(map[string]*models.Project, len(projects)),
		services:    make(map[string]*models.ServiceState, len(states)),
		serviceRefs: make(map[string]bool),
	}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	for _, st := range states {
		s.services[st.ServiceID] = st
	}
	for _, c := range containers {
		if id := labels.Parse(c.Labels).ServiceID; id != "" {
			s.serviceRefs[id] = true
		}
	}
	return s, nil
}

// projectGone reports whether a project-scoped object lost its owner. A
// pending project is never gone.
func (r *Reconciler) projectGone(s *snapshot, projectID string) bool {
	if projectID == "" {
		return true
	}
	if _, ok := s.projects[projectID]; ok {
		return false
	}
	return r.pending == nil || !r.pending.IsPending(projectID)
}

// GetAllResources lists and classifies every managed container and volume.
func (r *Reconciler) GetAllResources(ctx context.Context) ([]*models.DockerResource, error) {
	start := time.Now()
	out, err := r.getAllResources(ctx)
	metrics.Observe("resources", "list", start, err)
	return out, err
}

func (r *Reconciler) getAllResources(ctx context.Context) ([]*models.DockerResource, error) {
	containers, err := r.docker.ListManagedContainers(ctx, labels.Managed())
	if err != nil {
		return nil, err
	}
	volumes, err := r.docker.ListManagedVolumes(ctx, labels.Managed())
	if err != nil {
		return nil, err
	}
	snap, err := r.load(containers)
	if err != nil {
		return nil, err
	}

	out := make([]*models.DockerResource, 0, len(containers)+len(volumes))
	var orphanContainers, orphanVolumes int

	for _, c := range containers {
		res := r.classifyContainer(ctx, snap, c)
		if res.IsOrphan {
			orphanContainers++
		}
		out = append(out, res)
	}
	for _, v := range volumes {
		created, _ := time.Parse(time.RFC3339, v.CreatedAt)
		res := r.classifyVolume(snap, v.Name, v.Labels, created)
		if res.IsOrphan {
			orphanVolumes++
		}
		out = append(out, res)
	}

	metrics.Orphans(string(models.ResourceContainer), orphanContainers)
	metrics.Orphans(string(models.ResourceVolume), orphanVolumes)
	return out, nil
}

func (r *Reconciler) classifyContainer(ctx context.Context, s *snapshot, c docker.ContainerRef) *models.DockerResource {
	l := labels.Parse(c.Labels)
	res := &models.DockerResource{
		ID:        c.ID,
		Name:      c.Name,
		Type:      models.ResourceContainer,
		Category:  category(l.Type),
		Status:    c.State,
		Labels:    c.Labels,
		CreatedAt: c.Created,
	}

	switch l.Type {
	case labels.TypeProjectContainer, labels.TypeBundledService, labels.TypeNgrokTunnel:
		r.ownProject(s, res, l)
	case labels.TypeServiceContainer:
		res.OwnerID = l.ServiceID
		res.OwnerDisplayName = serviceName(l.ServiceID)
		st, ok := s.services[l.ServiceID]
		if !ok {
			res.IsOrphan = true
			break
		}
		// Drift is only meaningful for a running container.
		if c.State == "running" {
			res.NeedsUpdate = r.drifted(ctx, c, st)
		}
	case labels.TypeHelperContainer:
		// Helpers are removed when they finish; one that is not running
		// was left behind.
		res.OwnerID = l.ProjectID
		res.IsOrphan = c.State != "running"
	}
	return res
}

func (r *Reconciler) classifyVolume(s *snapshot, name string, lbls map[string]string, created time.Time) *models.DockerResource {
	l := labels.Parse(lbls)
	res := &models.DockerResource{
		ID:        name,
		Name:      name,
		Type:      models.ResourceVolume,
		Category:  category(l.Type),
		Status:    "available",
		Labels:    lbls,
		CreatedAt: created,
	}

	switch l.Type {
	case labels.TypeProjectVolume:
		r.ownProject(s, res, l)
	case labels.TypeServiceVolume:
		res.OwnerID = l.ServiceID
		res.OwnerDisplayName = serviceName(l.ServiceID)
		// A volume outlives its container and becomes an orphan once no
		// container carries its service ID.
		res.IsOrphan = !s.serviceRefs[l.ServiceID]
		if l.ProjectID != "" {
			res.Category = models.CategoryBundled
			if r.projectGone(s, l.ProjectID) {
				res.IsOrphan = true
			}
		}
	}
	if res.IsOrphan {
		res.Status = "orphaned"
	}
	return res
}

func (r *Reconciler) ownProject(s *snapshot, res *models.DockerResource, l labels.Labels) {
	res.OwnerID = l.ProjectID
	res.OwnerDisplayName = l.ProjectName
	if p, ok := s.projects[l.ProjectID]; ok {
		res.OwnerDisplayName = p.Name
	}
	res.IsOrphan = r.projectGone(s, l.ProjectID)
}

// drifted compares the image and environment of a service container with
// the definition merged with the persisted override. Missing or changed
// variables count as drift; variables the container has in addition do not.
// Ports, volumes and healthcheck are not compared.
func (r *Reconciler) drifted(ctx context.Context, c docker.ContainerRef, st *models.ServiceState) bool {
	def, ok := registry.Get(st.ServiceID)
	if !ok {
		return false
	}
	want := registry.MergeConfig(def.DefaultConfig, st.CustomConfig)
	if normalizeImage(c.Image) != normalizeImage(want.Image) {
		return true
	}

	state, err := r.docker.GetContainerState(ctx, c.ID)
	if err != nil {
		r.logger.Warn("failed to inspect service container", "container", c.Name, "error", err)
		return false
	}
	return envDrift(want.EnvironmentVars, state.EnvVars)
}

// envDrift reports whether any KEY=VALUE of want is absent from or
// different in have. Later duplicates of a key win, as in Docker.
func envDrift(want, have []string) bool {
	got := make(map[string]string, len(have))
	for _, kv := range have {
		k, v, _ := strings.Cut(kv, "=")
		got[k] = v
	}
	expected := make(map[string]string, len(want))
	for _, kv := range want {
		k, v, _ := strings.Cut(kv, "=")
		expected[k] = v
	}
	for k, v := range expected {
		if gv, ok := got[k]; !ok || gv != v {
			return true
		}
	}
	return false
}

// normalizeImage makes "mysql", "mysql:latest" and
// "docker.io/library/mysql:latest" compare equal.
func normalizeImage(ref string) string {
	ref = strings.TrimPrefix(ref, "docker.io/")
	ref = strings.TrimPrefix(ref, "library/")
	if i := strings.LastIndex(ref, "/"); !strings.Contains(ref[i+1:], ":") && !strings.Contains(ref, "@") {
		ref += ":latest"
	}
	return ref
}

func category(t labels.ResourceType) models.ResourceCategory {
	switch t {
	case labels.TypeProjectContainer, labels.TypeProjectVolume:
		return models.CategoryProject
	case labels.TypeServiceContainer, labels.TypeServiceVolume:
		return models.CategoryService
	case labels.TypeBundledService:
		return models.CategoryBundled
	case labels.TypeHelperContainer:
		return models.CategoryHelper
	case labels.TypeNgrokTunnel:
		return models.CategoryNgrok
	default:
		return models.CategoryUnknown
	}
}

func serviceName(id string) string {
	if def, ok := registry.Get(id); ok {
		return def.DisplayName
	}
	return id
}

// DeleteResource removes one managed container or volume. Objects without
// the managed label are refused.
func (r *Reconciler) DeleteResource(ctx context.Context, kind models.ResourceKind, id string) error {
	start := time.Now()
	err := r.deleteResource(ctx, kind, id)
	metrics.Observe("resources", "delete", start, err)
	if err != nil {
		r.logger.Error("failed to delete resource", "type", kind, "id", id, "error", err)
		return err
	}
	r.logger.Info("deleted resource", "type", kind, "id", id)
	return nil
}

func (r *Reconciler) deleteResource(ctx context.Context, kind models.ResourceKind, id string) error {
	switch kind {
	case models.ResourceContainer:
		refs, err := r.docker.ListManagedContainers(ctx, labels.Managed())
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(refs, func(c docker.ContainerRef) bool {
			return c.ID == id || c.Name == id || (len(id) >= 12 && strings.HasPrefix(c.ID, id))
		})
		if idx < 0 {
			return fmt.Errorf("container %s: %w", id, ErrNotManaged)
		}
		return r.docker.RemoveContainer(ctx, refs[idx].ID)
	case models.ResourceVolume:
		vols, err := r.docker.ListManagedVolumes(ctx, labels.Managed())
		if err != nil {
			return err
		}
		for _, v := range vols {
			if v.Name == id {
				return r.docker.RemoveVolume(ctx, id)
			}
		}
		return fmt.Errorf("volume %s: %w", id, ErrNotManaged)
	default:
		return fmt.Errorf("unknown resource type %q", kind)
	}
}

// PruneOrphans deletes the given containers and volumes, or every orphan
// when both lists are empty. Each deletion runs independently; one failure
// never stops the others. Containers go first so their volumes are free.
func (r *Reconciler) PruneOrphans(ctx context.Context, containerIDs, volumeNames []string) (*models.BatchResult, error) {
	start := time.Now()
	if len(containerIDs) == 0 && len(volumeNames) == 0 {
		all, err := r.GetAllResources(ctx)
		if err != nil {
			return nil, err
		}
		for _, res := range all {
			if !res.IsOrphan {
				continue
			}
			if res.Type == models.ResourceContainer {
				containerIDs = append(containerIDs, res.ID)
			} else {
				volumeNames = append(volumeNames, res.ID)
			}
		}
	}

	result := &models.BatchResult{Deleted: []string{}, Failed: []string{}}
	r.deleteAll(ctx, models.ResourceContainer, containerIDs, result)
	r.deleteAll(ctx, models.ResourceVolume, volumeNames, result)

	var err error
	if len(result.Failed) > 0 {
		err = fmt.Errorf("%d of %d deletions failed", len(result.Failed), len(containerIDs)+len(volumeNames))
	}
	metrics.Observe("resources", "prune", start, err)
	r.logger.Info("pruned resources", "deleted", len(result.Deleted), "failed", len(result.Failed))
	return result, nil
}

// deleteAll fans out deletions and settles all of them. Results keep the
// input order.
func (r *Reconciler) deleteAll(ctx context.Context, kind models.ResourceKind, ids []string, result *models.BatchResult) {
	if len(ids) == 0 {
		return
	}
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			errs[i] = r.deleteResource(ctx, kind, id)
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range ids {
		if errs[i] != nil {
			result.Failed = append(result.Failed, id)
			if result.Errors == nil {
				result.Errors = make(map[string]string)
			}
			result.Errors[id] = errs[i].Error()
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
}
