// Package projects creates, updates and removes PHP projects: a host
// folder, a dedicated volume holding its sources, generated dev container
// configuration, hosts entries and optional bundled services.
package projects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"evalgo.org/damp/internal/cleanup"
	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/metrics"
	"evalgo.org/damp/internal/registry"
	"evalgo.org/damp/internal/services"
	"evalgo.org/damp/internal/validation"
	"evalgo.org/damp/models"
)

var (
	// ErrProjectExists is returned when the name or domain is taken.
	ErrProjectExists = errors.New("project already exists")

	// ErrScaffoldFailed is returned when the framework installer exits non-zero.
	ErrScaffoldFailed = errors.New("project scaffolding failed")
)

// Store persists project records.
type Store interface {
	ListProjects() ([]*models.Project, error)
	GetProject(id string) (*models.Project, error)
	SaveProject(p *models.Project) error
	DeleteProject(id string) error
}

// ProxySyncer rewrites the reverse proxy routes for the given projects.
type ProxySyncer interface {
	SyncProxy(ctx context.Context, projects []*models.Project) error
}

// HostsManager maintains local DNS entries.
type HostsManager interface {
	Add(domains ...string) error
	Remove(domains ...string) error
}

// Options configures project layout.
type Options struct {
	// RootDir is the parent of project folders created without a path.
	RootDir      string
	DomainSuffix string
	VolumePrefix string
	// BaseImage is a format string taking the PHP version.
	BaseImage     string
	ScaffoldImage string
	// Exclude lists directory names never copied into the volume.
	Exclude []string
}

// DefaultOptions returns the standard layout under the user's home.
func DefaultOptions() Options {
	home, _ := os.UserHomeDir()
	return Options{
		RootDir:       filepath.Join(home, "damp-projects"),
		DomainSuffix:  ".local",
		VolumePrefix:  "damp_project_",
		BaseImage:     "php:%s-apache",
		ScaffoldImage: "composer:2",
		Exclude:       []string{".git", "node_modules", "vendor"},
	}
}

// Manager owns the project pipelines.
type Manager struct {
	docker    *docker.Manager
	services  *services.Manager
	store     Store
	hosts     HostsManager
	proxy     ProxySyncer
	pending   *PendingSet
	validator *validation.Validator
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a Manager. hosts and proxy may be nil.
func NewManager(dm *docker.Manager, svc *services.Manager, store Store, hosts HostsManager, proxy ProxySyncer, pending *PendingSet, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if pending == nil {
		pending = NewPendingSet()
	}
	def := DefaultOptions()
	if opts.RootDir == "" {
		opts.RootDir = def.RootDir
	}
	if opts.DomainSuffix == "" {
		opts.DomainSuffix = def.DomainSuffix
	}
	if opts.VolumePrefix == "" {
		opts.VolumePrefix = def.VolumePrefix
	}
	if opts.BaseImage == "" {
		opts.BaseImage = def.BaseImage
	}
	if opts.ScaffoldImage == "" {
		opts.ScaffoldImage = def.ScaffoldImage
	}
	if opts.Exclude == nil {
		opts.Exclude = def.Exclude
	}
	return &Manager{
		docker:    dm,
		services:  svc,
		store:     store,
		hosts:     hosts,
		proxy:     proxy,
		pending:   pending,
		validator: validation.New(),
		opts:      opts,
		logger:    logger.With("component", "projects"),
		now:       time.Now,
	}
}

// Pending returns the set of projects being created.
func (m *Manager) Pending() *PendingSet { return m.pending }

// CreateInput describes a new or imported project.
type CreateInput struct {
	Name string             `json:"name" validate:"required_without=Path,max=64"`
	Type models.ProjectType `json:"type" validate:"required,oneof=basic-php laravel existing"`
	// Path is the project folder. Empty means RootDir/<name>.
	Path            string                  `json:"path,omitempty"`
	PHPVersion      string                  `json:"php_version" validate:"required"`
	NodeVersion     string                  `json:"node_version,omitempty"`
	PHPExtensions   []string                `json:"php_extensions,omitempty"`
	BundledServices []models.BundledService `json:"bundled_services,omitempty" validate:"dive"`
	ForwardedPort   int                     `json:"forwarded_port,omitempty" validate:"omitempty,min=1,max=65535"`
}

// UpdateInput changes an existing project. Empty fields keep their value.
type UpdateInput struct {
	ID              string   `json:"id" validate:"required"`
	Domain          string   `json:"domain,omitempty" validate:"omitempty,hostname"`
	PHPVersion      string   `json:"php_version,omitempty"`
	NodeVersion     string   `json:"node_version,omitempty"`
	PHPExtensions   []string `json:"php_extensions,omitempty"`
	ForwardedPort   int      `json:"forwarded_port,omitempty" validate:"omitempty,min=1,max=65535"`
	RegenerateFiles bool     `json:"regenerate_files,omitempty"`
}

// Create stages
const (
	stageFolder    = "folder"
	stageDetect    = "detect"
	stageValidate  = "validate"
	stageConfigure = "configure"
	stageVolume    = "volume"
	stageScaffold  = "scaffold"
	stageFiles     = "files"
	stageCopy      = "copy"
	stageFinalize  = "finalize"
	createSteps    = 9
)

// Create runs the project pipeline. Any failure after the first side effect
// removes what this call created; a folder that existed before is kept.
func (m *Manager) Create(ctx context.Context, in CreateInput, sink models.ProgressSink) models.Result[*models.Project] {
	start := time.Now()
	p, err := m.create(ctx, in, models.SinkOrDiscard(sink))
	metrics.Observe("projects", "create", start, err)
	if err != nil {
		m.logger.Error("project creation failed", "name", in.Name, "error", err)
		return models.Fail[*models.Project](err)
	}
	return models.OK(p)
}

func (m *Manager) create(ctx context.Context, in CreateInput, sink models.ProgressSink) (*models.Project, error) {
	report := func(stage string, step int, msg string) {
		ev := models.NewProgress(stage, step, createSteps, msg)
		ev.Operation = "create-project"
		sink.Report(ev)
	}

	if err := m.validator.Struct(in).Err(); err != nil {
		return nil, err
	}
	// Requested type is gated before anything else happens.
	if in.Type != models.ProjectTypeExisting {
		if err := CheckVersions(in.Type, in.PHPVersion, in.NodeVersion); err != nil {
			return nil, err
		}
	}

	path, name, err := m.resolvePath(in)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("project name %q has no usable characters", in.Name)
	}
	if err := m.checkUnique(name); err != nil {
		return nil, err
	}

	report(stageFolder, 1, path)
	existed, err := dirExists(path)
	if err != nil {
		return nil, err
	}
	if in.Type == models.ProjectTypeExisting && !existed {
		return nil, fmt.Errorf("project folder %s does not exist", path)
	}

	report(stageDetect, 2, "detecting project type")
	projectType := in.Type
	if in.Type == models.ProjectTypeExisting {
		projectType = DetectType(path)
	}

	report(stageValidate, 3, "checking runtime versions")
	if err := CheckVersions(projectType, in.PHPVersion, in.NodeVersion); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	p := &models.Project{
		ID:              models.NewID(),
		Name:            name,
		Type:            projectType,
		Path:            path,
		VolumeName:      m.opts.VolumePrefix + name,
		Domain:          name + m.opts.DomainSuffix,
		PHPVersion:      in.PHPVersion,
		NodeVersion:     in.NodeVersion,
		PHPExtensions:   in.PHPExtensions,
		BundledServices: in.BundledServices,
		ForwardedPort:   in.ForwardedPort,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.ForwardedPort == 0 {
		p.ForwardedPort = 80
	}

	report(stageConfigure, 4, "registering project")
	m.pending.Add(p.ID)
	defer m.pending.Remove(p.ID)

	rollback := cleanup.NewStack(m.logger)
	fail := func(err error) (*models.Project, error) {
		ran := rollback.Run()
		m.logger.Warn("rolled back project creation", "project", p.Name, "steps", ran)
		return nil, err
	}

	if !existed {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create project folder: %w", err)
		}
		rollback.Push("remove project folder", func() error { return os.RemoveAll(path) })
	}

	report(stageVolume, 5, p.VolumeName)
	created, err := m.docker.EnsureVolume(ctx, p.VolumeName, labels.ForProjectVolume(p.ID, p.Name))
	if err != nil {
		return fail(err)
	}
	if created {
		rollback.Push("remove project volume", func() error {
			return m.docker.RemoveVolume(context.WithoutCancel(ctx), p.VolumeName)
		})
	}

	report(stageScaffold, 6, string(p.Type))
	if !existed {
		if err := m.scaffold(ctx, p, sink); err != nil {
			return fail(err)
		}
	}

	report(stageFiles, 7, "writing dev container configuration")
	if err := writeConfigFiles(p, m.docker.Options().Network); err != nil {
		return fail(err)
	}
	p.DevcontainerCreated = true

	report(stageCopy, 8, "copying files into volume")
	err = m.docker.SyncFolderToVolume(ctx, path, p.VolumeName, docker.SyncOptions{
		Exclude:   m.opts.Exclude,
		ProjectID: p.ID,
	}, nil)
	if err != nil {
		return fail(err)
	}
	p.VolumeCopied = true

	report(stageFinalize, 9, p.Domain)
	if m.addHosts(p) {
		rollback.Push("remove hosts entries", func() error {
			return m.hosts.Remove(p.Domains(registry.ProxySubdomains())...)
		})
	}
	if err := m.store.SaveProject(p); err != nil {
		return fail(fmt.Errorf("failed to save project: %w", err))
	}
	rollback.Discard()

	m.logger.Info("project created", "project", p.Name, "type", p.Type, "domain", p.Domain, "duration", time.Since(now))
	m.syncProxy(ctx)
	return p, nil
}

// resolvePath returns the absolute folder and sanitized name.
func (m *Manager) resolvePath(in CreateInput) (string, string, error) {
	path := in.Path
	if path == "" {
		path = filepath.Join(m.opts.RootDir, models.SanitizeName(in.Name))
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	name := in.Name
	if name == "" {
		name = filepath.Base(path)
	}
	return path, models.SanitizeName(name), nil
}

func (m *Manager) checkUnique(name string) error {
	existing, err := m.store.ListProjects()
	if err != nil {
		return err
	}
	for _, p := range existing {
		if p.Name == name {
			return fmt.Errorf("%w: %s", ErrProjectExists, name)
		}
	}
	return nil
}

// scaffold seeds a new folder. Laravel projects are installed by composer
// directly into the volume.
func (m *Manager) scaffold(ctx context.Context, p *models.Project, sink models.ProgressSink) error {
	switch p.Type {
	case models.ProjectTypeLaravel:
		res, err := m.docker.RunHelper(ctx, docker.HelperOptions{
			Image:      m.opts.ScaffoldImage,
			Cmd:        []string{"composer", "create-project", "--prefer-dist", "--no-interaction", "laravel/laravel", "."},
			Binds:      []string{p.VolumeName + ":/app"},
			WorkingDir: "/app",
			ProjectID:  p.ID,
		}, sink)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("%w: composer exited with %d: %s", ErrScaffoldFailed, res.ExitCode, res.Output)
		}
		return nil
	case models.ProjectTypeBasicPHP:
		return writeStarter(p.Path)
	default:
		return nil
	}
}

// Get returns a project by ID.
func (m *Manager) Get(id string) (*models.Project, error) {
	return m.store.GetProject(id)
}

// List returns every project.
func (m *Manager) List() ([]*models.Project, error) {
	return m.store.ListProjects()
}

// Update applies changes to a project. A new domain is added to the hosts
// file before the old one is removed.
func (m *Manager) Update(ctx context.Context, in UpdateInput) models.Result[*models.Project] {
	start := time.Now()
	p, err := m.update(ctx, in)
	metrics.Observe("projects", "update", start, err)
	if err != nil {
		m.logger.Error("project update failed", "project", in.ID, "error", err)
		return models.Fail[*models.Project](err)
	}
	return models.OK(p)
}

func (m *Manager) update(ctx context.Context, in UpdateInput) (*models.Project, error) {
	if err := m.validator.Struct(in).Err(); err != nil {
		return nil, err
	}
	p, err := m.store.GetProject(in.ID)
	if err != nil {
		return nil, err
	}

	php, node := p.PHPVersion, p.NodeVersion
	if in.PHPVersion != "" {
		php = in.PHPVersion
	}
	if in.NodeVersion != "" {
		node = in.NodeVersion
	}
	if err := CheckVersions(p.Type, php, node); err != nil {
		return nil, err
	}
	regenerate := in.RegenerateFiles || php != p.PHPVersion || node != p.NodeVersion
	p.PHPVersion, p.NodeVersion = php, node

	if in.PHPExtensions != nil {
		p.PHPExtensions = in.PHPExtensions
		regenerate = true
	}
	if in.ForwardedPort != 0 && in.ForwardedPort != p.ForwardedPort {
		p.ForwardedPort = in.ForwardedPort
		regenerate = true
	}

	if in.Domain != "" && in.Domain != p.Domain {
		old := p.Domains(registry.ProxySubdomains())
		p.Domain = in.Domain
		m.addHosts(p)
		if m.hosts != nil {
			cleanup.Do(m.logger, "remove old hosts entries", func() error { return m.hosts.Remove(old...) })
		}
	}

	if regenerate {
		if err := writeConfigFiles(p, m.docker.Options().Network); err != nil {
			return nil, err
		}
		p.DevcontainerCreated = true
	}

	p.UpdatedAt = m.now().UTC()
	if err := m.store.SaveProject(p); err != nil {
		return nil, fmt.Errorf("failed to save project: %w", err)
	}
	m.logger.Info("project updated", "project", p.Name, "domain", p.Domain)
	m.syncProxy(ctx)
	return p, nil
}

// Delete removes a project's containers and record. The volume and folder
// are removed only when requested.
func (m *Manager) Delete(ctx context.Context, id string, removeVolume, removeFolder bool) models.Result[models.Empty] {
	start := time.Now()
	err := m.delete(ctx, id, removeVolume, removeFolder)
	metrics.Observe("projects", "delete", start, err)
	if err != nil {
		m.logger.Error("project deletion failed", "project", id, "error", err)
		return models.Fail[models.Empty](err)
	}
	return models.OK(models.Empty{})
}

func (m *Manager) delete(ctx context.Context, id string, removeVolume, removeFolder bool) error {
	p, err := m.store.GetProject(id)
	if err != nil {
		return err
	}

	if m.hosts != nil {
		cleanup.Do(m.logger, "remove hosts entries", func() error {
			return m.hosts.Remove(p.Domains(registry.ProxySubdomains())...)
		})
	}

	// Containers go first so the volume is no longer in use.
	ref, err := m.docker.FindProjectContainer(ctx, p.ID)
	if err != nil {
		return err
	}
	if ref != nil {
		if err := m.docker.RemoveContainer(ctx, ref.ID); err != nil && !docker.IsNotFound(err) {
			return err
		}
	}
	var errs []error
	for _, b := range p.BundledServices {
		if err := m.services.RemoveBundled(ctx, p.ID, b.ServiceID, removeVolume); err != nil {
			errs = append(errs, err)
		}
	}

	if removeVolume {
		if err := m.docker.RemoveVolume(ctx, p.VolumeName); err != nil {
			errs = append(errs, err)
		}
	}
	if removeFolder && p.Path != "" {
		if err := os.RemoveAll(p.Path); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove project folder: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if err := m.store.DeleteProject(p.ID); err != nil {
		return fmt.Errorf("failed to delete project record: %w", err)
	}
	m.logger.Info("project deleted", "project", p.Name, "volume_removed", removeVolume, "folder_removed", removeFolder)
	m.syncProxy(ctx)
	return nil
}

// addHosts registers the project domains and reports whether they were
// written. Failures are logged; the project is usable without them.
func (m *Manager) addHosts(p *models.Project) bool {
	if m.hosts == nil {
		return false
	}
	if err := m.hosts.Add(p.Domains(registry.ProxySubdomains())...); err != nil {
		m.logger.Warn("failed to add hosts entries", "project", p.Name, "error", err)
		return false
	}
	return true
}

func (m *Manager) syncProxy(ctx context.Context) {
	if m.proxy == nil {
		return
	}
	cleanup.Do(m.logger, "sync proxy", func() error {
		all, err := m.store.ListProjects()
		if err != nil {
			return err
		}
		return m.proxy.SyncProxy(ctx, all)
	})
}
