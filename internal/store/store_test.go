package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/damp/models"
)

func TestProjectsPersistAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "damp.yaml")

	s, err := Open(path, nil)
	require.NoError(t, err)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.SaveProject(&models.Project{
		ID:         "p1",
		Name:       "demo",
		Type:       models.ProjectTypeLaravel,
		Domain:     "demo.local",
		VolumeName: "damp_project_demo",
		CreatedAt:  created,
		BundledServices: []models.BundledService{
			{ServiceID: "mysql", CustomCredentials: map[string]string{"user": "demo"}},
		},
	}))
	require.NoError(t, s.RecordPull("redis:latest", created))
	require.NoError(t, s.SetFlag("certificate-bootstrap", true))

	reopened, err := Open(path, nil)
	require.NoError(t, err)

	p, err := reopened.GetProject("p1")
	require.NoError(t, err)
	assert.Equal(t, "demo.local", p.Domain)
	assert.Equal(t, created, p.CreatedAt.UTC())
	require.Len(t, p.BundledServices, 1)
	assert.Equal(t, "demo", p.BundledServices[0].CustomCredentials["user"])

	last, ok := reopened.LastPull("redis:latest")
	require.True(t, ok)
	assert.True(t, created.Equal(last))
	assert.True(t, reopened.Flag("certificate-bootstrap"))
}

func TestGetProjectReturnsCopy(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.SaveProject(&models.Project{ID: "p1", Name: "demo", PHPExtensions: []string{"gd"}}))

	p, err := s.GetProject("p1")
	require.NoError(t, err)
	p.Name = "changed"
	p.PHPExtensions[0] = "intl"

	again, err := s.GetProject("p1")
	require.NoError(t, err)
	assert.Equal(t, "demo", again.Name)
	assert.Equal(t, []string{"gd"}, again.PHPExtensions)
}

func TestMissingRecords(t *testing.T) {
	s := NewMemory()

	_, err := s.GetProject("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetServiceState("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.DeleteProject("nope"))
	assert.NoError(t, s.DeleteServiceState("nope"))
	_, ok := s.LastPull("mysql:8.4")
	assert.False(t, ok)
}

func TestServiceStatesSorted(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.SaveServiceState(&models.ServiceState{ServiceID: "redis", Installed: true}))
	require.NoError(t, s.SaveServiceState(&models.ServiceState{ServiceID: "caddy", Installed: true}))

	list, err := s.ListServiceStates()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "caddy", list[0].ServiceID)

	require.NoError(t, s.DeleteServiceState("caddy"))
	list, err = s.ListServiceStates()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "damp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("projects: [unclosed"), 0o644))

	_, err := Open(path, nil)
	assert.Error(t, err)
}

func TestSaveRequiresID(t *testing.T) {
	s := NewMemory()
	assert.Error(t, s.SaveProject(&models.Project{Name: "demo"}))
	assert.Error(t, s.SaveServiceState(&models.ServiceState{}))
}
