package resources

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/docker/dockertest"
	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/registry"
	"evalgo.org/damp/internal/store"
	"evalgo.org/damp/models"
)

type pendingIDs map[string]bool

func (p pendingIDs) IsPending(id string) bool { return p[id] }

func setup(t *testing.T) (*Reconciler, *dockertest.Fake, *store.FileStore, pendingIDs) {
	t.Helper()
	fake := dockertest.New()
	st := store.NewMemory()
	pending := pendingIDs{}
	dm := docker.NewManager(fake, nil, nil, docker.Options{}, nil)
	return New(dm, st, st, pending, nil), fake, st, pending
}

func byName(t *testing.T, all []*models.DockerResource, name string) *models.DockerResource {
	t.Helper()
	for _, r := range all {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("resource %s not listed", name)
	return nil
}

func mysqlContainer(env []string, image string) *dockertest.Container {
	return &dockertest.Container{
		Name:    "damp-mysql",
		Status:  container.StateRunning,
		Running: true,
		Config: &container.Config{
			Image:  image,
			Env:    env,
			Labels: labels.ForServiceContainer(registry.MySQL).ToMap(),
		},
	}
}

func mysqlEnv() []string {
	def, _ := registry.Get(registry.MySQL)
	return registry.MergeConfig(def.DefaultConfig, nil).EnvironmentVars
}

func TestProjectContainerOrphanRules(t *testing.T) {
	ctx := context.Background()
	r, fake, st, pending := setup(t)

	require.NoError(t, st.SaveProject(&models.Project{ID: "p-live", Name: "live"}))
	pending["p-new"] = true

	fake.AddContainer(&dockertest.Container{Name: "damp-project-live", Config: &container.Config{Labels: labels.ForProjectContainer("p-live", "live").ToMap()}})
	fake.AddContainer(&dockertest.Container{Name: "damp-project-new", Config: &container.Config{Labels: labels.ForProjectContainer("p-new", "new").ToMap()}})
	fake.AddContainer(&dockertest.Container{Name: "damp-project-gone", Config: &container.Config{Labels: labels.ForProjectContainer("p-gone", "gone").ToMap()}})
	fake.AddContainer(&dockertest.Container{Name: "damp-gone-redis", Config: &container.Config{Labels: labels.ForBundledService("p-gone", "gone", registry.Redis).ToMap()}})
	fake.AddContainer(&dockertest.Container{Name: "someone-elses", Config: &container.Config{Labels: map[string]string{"app": "x"}}})

	all, err := r.GetAllResources(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4, "unmanaged containers are invisible")

	live := byName(t, all, "damp-project-live")
	assert.False(t, live.IsOrphan)
	assert.Equal(t, models.CategoryProject, live.Category)
	assert.Equal(t, "live", live.OwnerDisplayName)

	assert.False(t, byName(t, all, "damp-project-new").IsOrphan, "pending projects are never orphans")
	assert.True(t, byName(t, all, "damp-project-gone").IsOrphan)

	bundled := byName(t, all, "damp-gone-redis")
	assert.True(t, bundled.IsOrphan)
	assert.Equal(t, models.CategoryBundled, bundled.Category)
}

func TestServiceContainerDrift(t *testing.T) {
	tests := []struct {
		name        string
		env         []string
		image       string
		installed   bool
		orphan      bool
		needsUpdate bool
	}{
		{name: "matching", env: mysqlEnv(), image: "mysql:8.4", installed: true},
		{name: "extra variable", env: append(mysqlEnv(), "TZ=UTC"), image: "mysql:8.4", installed: true},
		{name: "missing variable", env: mysqlEnv()[1:], image: "mysql:8.4", installed: true, needsUpdate: true},
		{name: "changed variable", env: append(mysqlEnv()[1:], "MYSQL_ROOT_PASSWORD=other"), image: "mysql:8.4", installed: true, needsUpdate: true},
		{name: "different image", env: mysqlEnv(), image: "mysql:8.0", installed: true, needsUpdate: true},
		{name: "not installed", env: mysqlEnv(), image: "mysql:8.4", orphan: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, fake, st, _ := setup(t)
			if tt.installed {
				require.NoError(t, st.SaveServiceState(&models.ServiceState{ServiceID: registry.MySQL, Installed: true}))
			}
			fake.AddContainer(mysqlContainer(tt.env, tt.image))

			all, err := r.GetAllResources(context.Background())
			require.NoError(t, err)
			res := byName(t, all, "damp-mysql")
			assert.Equal(t, tt.orphan, res.IsOrphan)
			assert.Equal(t, tt.needsUpdate, res.NeedsUpdate)
			assert.Equal(t, "MySQL", res.OwnerDisplayName)
		})
	}
}

func TestDriftIgnoresStoppedServiceContainer(t *testing.T) {
	r, fake, st, _ := setup(t)
	require.NoError(t, st.SaveServiceState(&models.ServiceState{ServiceID: registry.MySQL, Installed: true}))
	c := mysqlContainer(mysqlEnv(), "mysql:8.0")
	c.Running = false
	c.Status = container.StateExited
	fake.AddContainer(c)

	all, err := r.GetAllResources(context.Background())
	require.NoError(t, err)
	res := byName(t, all, "damp-mysql")
	assert.False(t, res.NeedsUpdate)
	assert.False(t, res.IsOrphan)
}

func TestDriftHonorsCustomOverride(t *testing.T) {
	r, fake, st, _ := setup(t)
	custom := &models.CustomConfig{EnvironmentVars: []string{"MYSQL_EXTRA=1"}}
	require.NoError(t, st.SaveServiceState(&models.ServiceState{ServiceID: registry.MySQL, Installed: true, CustomConfig: custom}))
	fake.AddContainer(mysqlContainer(mysqlEnv(), "mysql:8.4"))

	all, err := r.GetAllResources(context.Background())
	require.NoError(t, err)
	assert.True(t, byName(t, all, "damp-mysql").NeedsUpdate)
}

func TestServiceVolumeOrphanRule(t *testing.T) {
	r, fake, st, _ := setup(t)
	require.NoError(t, st.SaveServiceState(&models.ServiceState{ServiceID: registry.MySQL, Installed: true}))
	fake.AddContainer(mysqlContainer(mysqlEnv(), "mysql:8.4"))
	fake.AddVolume("damp_mysql_data", labels.ForServiceVolume(registry.MySQL).ToMap())
	fake.AddVolume("damp_redis_data", labels.ForServiceVolume(registry.Redis).ToMap())
	fake.AddVolume("foreign", nil)

	all, err := r.GetAllResources(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mysqlVol := byName(t, all, "damp_mysql_data")
	assert.Equal(t, models.ResourceVolume, mysqlVol.Type)
	assert.False(t, mysqlVol.IsOrphan)

	redisVol := byName(t, all, "damp_redis_data")
	assert.True(t, redisVol.IsOrphan)
	assert.Equal(t, "orphaned", redisVol.Status)
}

func TestProjectVolumeOfPendingProject(t *testing.T) {
	r, fake, _, pending := setup(t)
	pending["p1"] = true
	fake.AddVolume("damp_project_demo", labels.ForProjectVolume("p1", "demo").ToMap())

	all, err := r.GetAllResources(context.Background())
	require.NoError(t, err)
	assert.False(t, byName(t, all, "damp_project_demo").IsOrphan)
}

func TestPruneSettlesEveryItem(t *testing.T) {
	r, fake, _, _ := setup(t)
	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		c := fake.AddContainer(&dockertest.Container{
			Name:    "damp-project-" + name,
			Running: true,
			Status:  container.StateRunning,
			Config:  &container.Config{Labels: labels.ForProjectContainer("gone-"+name, name).ToMap()},
		})
		ids = append(ids, c.ID)
	}
	fake.RemoveErr[ids[1]] = errors.New("device busy")

	res, err := r.PruneOrphans(context.Background(), ids, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[2]}, res.Deleted)
	assert.Equal(t, []string{ids[1]}, res.Failed)
	assert.Contains(t, res.Errors[ids[1]], "device busy")

	_, ok := fake.Container(ids[0])
	assert.False(t, ok)
	_, ok = fake.Container(ids[2])
	assert.False(t, ok)
	_, ok = fake.Container(ids[1])
	assert.True(t, ok)
}

func TestPruneDefaultsToOrphans(t *testing.T) {
	r, fake, st, _ := setup(t)
	require.NoError(t, st.SaveProject(&models.Project{ID: "p-live", Name: "live"}))
	live := fake.AddContainer(&dockertest.Container{Name: "damp-project-live", Config: &container.Config{Labels: labels.ForProjectContainer("p-live", "live").ToMap()}})
	gone := fake.AddContainer(&dockertest.Container{Name: "damp-project-gone", Config: &container.Config{Labels: labels.ForProjectContainer("p-gone", "gone").ToMap()}})
	fake.AddVolume("damp_project_gone", labels.ForProjectVolume("p-gone", "gone").ToMap())

	res, err := r.PruneOrphans(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{gone.ID, "damp_project_gone"}, res.Deleted)
	assert.Empty(t, res.Failed)

	_, ok := fake.Container(live.ID)
	assert.True(t, ok)
	assert.False(t, fake.HasVolume("damp_project_gone"))
}

func TestDeleteResourceRefusesUnmanaged(t *testing.T) {
	r, fake, _, _ := setup(t)
	foreign := fake.AddContainer(&dockertest.Container{Name: "postgres-dev"})
	fake.AddVolume("foreign", map[string]string{"app": "x"})

	assert.ErrorIs(t, r.DeleteResource(context.Background(), models.ResourceContainer, foreign.ID), ErrNotManaged)
	assert.ErrorIs(t, r.DeleteResource(context.Background(), models.ResourceVolume, "foreign"), ErrNotManaged)
	assert.True(t, fake.HasVolume("foreign"))
}

func TestDeleteResourceVolumeInUse(t *testing.T) {
	r, fake, _, _ := setup(t)
	fake.AddVolume("damp_mysql_data", labels.ForServiceVolume(registry.MySQL).ToMap())
	c := mysqlContainer(mysqlEnv(), "mysql:8.4")
	c.HostConfig = &container.HostConfig{Binds: []string{"damp_mysql_data:/var/lib/mysql"}}
	fake.AddContainer(c)

	err := r.DeleteResource(context.Background(), models.ResourceVolume, "damp_mysql_data")
	assert.ErrorIs(t, err, docker.ErrVolumeInUse)
}

func TestNormalizeImage(t *testing.T) {
	assert.Equal(t, normalizeImage("mysql:latest"), normalizeImage("mysql"))
	assert.Equal(t, normalizeImage("docker.io/library/redis:7"), normalizeImage("redis:7"))
	assert.NotEqual(t, normalizeImage("mysql:8.0"), normalizeImage("mysql:8.4"))
}
