// Package store persists projects, installed service records, image pull
// times and one-shot flags in a single YAML document.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"evalgo.org/damp/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

type document struct {
	Projects map[string]*models.Project      `yaml:"projects"`
	Services map[string]*models.ServiceState `yaml:"services"`
	Pulls    map[string]time.Time            `yaml:"pulls"`
	Flags    map[string]bool                 `yaml:"flags"`
}

func newDocument() *document {
	return &document{
		Projects: map[string]*models.Project{},
		Services: map[string]*models.ServiceState{},
		Pulls:    map[string]time.Time{},
		Flags:    map[string]bool{},
	}
}

// FileStore is a mutex-guarded YAML file. Every mutation rewrites the file
// atomically. An empty path keeps everything in memory.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	doc *document
}

// Open loads path, creating an empty store when the file does not exist.
func Open(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{path: path, logger: logger.With("component", "store"), doc: newDocument()}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s.doc); err != nil {
		return nil, fmt.Errorf("failed to parse store %s: %w", path, err)
	}
	// Sections absent from the file decode as nil maps.
	def := newDocument()
	if s.doc.Projects == nil {
		s.doc.Projects = def.Projects
	}
	if s.doc.Services == nil {
		s.doc.Services = def.Services
	}
	if s.doc.Pulls == nil {
		s.doc.Pulls = def.Pulls
	}
	if s.doc.Flags == nil {
		s.doc.Flags = def.Flags
	}
	return s, nil
}

// NewMemory returns a store that never touches disk.
func NewMemory() *FileStore {
	s, _ := Open("", nil)
	return s
}

// Path returns the backing file, empty for memory stores.
func (s *FileStore) Path() string { return s.path }

// flush must be called with mu held for writing.
func (s *FileStore) flush() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".damp-store-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}

func cloneProject(p *models.Project) *models.Project {
	c := *p
	c.PHPExtensions = append([]string(nil), p.PHPExtensions...)
	c.BundledServices = append([]models.BundledService(nil), p.BundledServices...)
	return &c
}

// ListProjects returns every project ordered by creation time.
func (s *FileStore) ListProjects() ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Project, 0, len(s.doc.Projects))
	for _, p := range s.doc.Projects {
		out = append(out, cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetProject returns a copy of the project with id.
func (s *FileStore) GetProject(id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.doc.Projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return cloneProject(p), nil
}

// SaveProject inserts or replaces a project.
func (s *FileStore) SaveProject(p *models.Project) error {
	if p == nil || p.ID == "" {
		return errors.New("project id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Projects[p.ID] = cloneProject(p)
	return s.flush()
}

// DeleteProject removes a project. Missing projects are not an error.
func (s *FileStore) DeleteProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Projects[id]; !ok {
		return nil
	}
	delete(s.doc.Projects, id)
	return s.flush()
}

// GetServiceState returns the installed record of a service.
func (s *FileStore) GetServiceState(serviceID string) (*models.ServiceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.doc.Services[serviceID]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", serviceID, ErrNotFound)
	}
	c := *st
	return &c, nil
}

// ListServiceStates returns every record ordered by service ID.
func (s *FileStore) ListServiceStates() ([]*models.ServiceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ServiceState, 0, len(s.doc.Services))
	for _, st := range s.doc.Services {
		c := *st
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out, nil
}

// SaveServiceState inserts or replaces a service record.
func (s *FileStore) SaveServiceState(st *models.ServiceState) error {
	if st == nil || st.ServiceID == "" {
		return errors.New("service id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *st
	s.doc.Services[st.ServiceID] = &c
	return s.flush()
}

// DeleteServiceState removes a service record.
func (s *FileStore) DeleteServiceState(serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Services[serviceID]; !ok {
		return nil
	}
	delete(s.doc.Services, serviceID)
	return s.flush()
}

// LastPull implements docker.PullTracker.
func (s *FileStore) LastPull(image string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.doc.Pulls[image]
	return t, ok
}

// RecordPull implements docker.PullTracker.
func (s *FileStore) RecordPull(image string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Pulls[image] = at.UTC()
	return s.flush()
}

// Flag returns a one-shot flag.
func (s *FileStore) Flag(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Flags[key]
}

// SetFlag records a one-shot flag.
func (s *FileStore) SetFlag(key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Flags[key] = value
	return s.flush()
}
