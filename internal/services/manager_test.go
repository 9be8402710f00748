package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/docker/dockertest"
	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/ports"
	"evalgo.org/damp/internal/registry"
	"evalgo.org/damp/internal/store"
	"evalgo.org/damp/models"
)

func newTestManager(t *testing.T) (*Manager, *dockertest.Fake, *store.FileStore) {
	t.Helper()
	fake := dockertest.New()
	st := store.NewMemory()
	resolver := ports.NewResolver(ports.CheckerFunc(func(context.Context, int) bool { return true }), ports.DefaultOptions(), nil)
	dm := docker.NewManager(fake, resolver, st, docker.Options{}, nil)
	return NewManager(dm, st, nil), fake, st
}

func TestInstallMySQL(t *testing.T) {
	ctx := context.Background()
	m, fake, st := newTestManager(t)

	res := m.Install(ctx, registry.MySQL, InstallOptions{StartImmediately: true})
	require.True(t, res.Success, res.Error)
	require.NotEmpty(t, res.Data.ContainerID)
	require.Len(t, res.Data.Ports, 1)
	assert.Equal(t, 3306, res.Data.Ports[0].HostPort)

	c, ok := fake.Container(res.Data.ContainerID)
	require.True(t, ok)
	assert.Equal(t, "damp-mysql", c.Name)
	assert.Equal(t, labels.ForServiceContainer(registry.MySQL), labels.Parse(c.Config.Labels))
	assert.True(t, fake.HasVolume("damp_mysql_data"))

	saved, err := st.GetServiceState(registry.MySQL)
	require.NoError(t, err)
	assert.True(t, saved.Installed)
	assert.False(t, saved.InstalledAt.IsZero())

	status, err := m.GetState(ctx, registry.MySQL)
	require.NoError(t, err)
	assert.True(t, status.Installed)
	assert.True(t, status.State.Running)
	assert.Equal(t, models.HealthStarting, status.State.HealthStatus)
}

func TestInstallRollsBackWhenContainerExits(t *testing.T) {
	ctx := context.Background()
	m, fake, st := newTestManager(t)
	fake.OnStart = func(c *dockertest.Container) {
		c.Running = false
		c.Status = container.StateExited
		c.ExitCode = 1
	}

	res := m.Install(ctx, registry.MySQL, InstallOptions{StartImmediately: true})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "terminal state \"exited\"")
	assert.Zero(t, fake.ContainerCount())

	_, err := st.GetServiceState(registry.MySQL)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInstallTwiceFails(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newTestManager(t)

	require.True(t, m.Install(ctx, registry.Redis, InstallOptions{}).Success)
	res := m.Install(ctx, registry.Redis, InstallOptions{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrAlreadyInstalled.Error())
	assert.Equal(t, 1, fake.ContainerCount())
}

func TestInstallRejectsInvalidOverride(t *testing.T) {
	m, fake, _ := newTestManager(t)

	res := m.Install(context.Background(), registry.MySQL, InstallOptions{
		CustomConfig: &models.CustomConfig{Ports: []models.PortPair{{External: 3306, Internal: 0}}},
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid input")
	assert.Zero(t, fake.ContainerCount())
}

func TestInstallUnknownAndUnreachable(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newTestManager(t)

	res := m.Install(ctx, "oracle", InstallOptions{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown service")

	fake.PingErr = errors.New("connection refused")
	res = m.Install(ctx, registry.Redis, InstallOptions{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, docker.ErrDaemonUnreachable.Error())
	assert.Zero(t, fake.ContainerCount())
}

func TestPostInstallHookFailureKeepsInstall(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newTestManager(t)

	calls := 0
	m.RegisterHook(registry.HookCertificateBootstrap, func(_ context.Context, def *models.ServiceDefinition, id string) error {
		calls++
		assert.Equal(t, registry.Caddy, def.ID)
		return errors.New("caddy reload failed")
	})

	res := m.Install(ctx, registry.Caddy, InstallOptions{StartImmediately: true})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, fake.ContainerCount())
}

func TestPostInstallHookSkippedWhenNotStarted(t *testing.T) {
	m, _, _ := newTestManager(t)

	calls := 0
	m.RegisterHook(registry.HookCertificateBootstrap, func(context.Context, *models.ServiceDefinition, string) error {
		calls++
		return nil
	})

	require.True(t, m.Install(context.Background(), registry.Caddy, InstallOptions{}).Success)
	assert.Zero(t, calls)
}

func TestUninstallRemovesLabeledAndLegacyVolumes(t *testing.T) {
	ctx := context.Background()
	m, fake, st := newTestManager(t)

	// Created before volumes carried labels.
	fake.AddVolume("damp_redis_data", nil)

	require.True(t, m.Install(ctx, registry.Redis, InstallOptions{StartImmediately: true}).Success)
	fake.AddVolume("damp_redis_extra", labels.ForServiceVolume(registry.Redis).ToMap())

	res := m.Uninstall(ctx, registry.Redis, true)
	require.True(t, res.Success, res.Error)

	assert.Zero(t, fake.ContainerCount())
	assert.False(t, fake.HasVolume("damp_redis_data"))
	assert.False(t, fake.HasVolume("damp_redis_extra"))
	_, err := st.GetServiceState(registry.Redis)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUninstallSharedKeepsBundledVolumes(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newTestManager(t)

	demo := &models.Project{ID: "p-demo", Name: "demo"}
	bundled, err := m.InstallBundled(ctx, demo, models.BundledService{ServiceID: registry.MySQL})
	require.NoError(t, err)
	fake.AddVolume("damp_mysql_data_other", bundledVolumeLabels(&models.Project{ID: "p-other", Name: "other"}, registry.MySQL).ToMap())

	require.True(t, m.Install(ctx, registry.MySQL, InstallOptions{StartImmediately: true}).Success)
	require.True(t, fake.HasVolume("damp_mysql_data"))

	res := m.Uninstall(ctx, registry.MySQL, true)
	require.True(t, res.Success, res.Error)

	assert.False(t, fake.HasVolume("damp_mysql_data"))
	assert.True(t, fake.HasVolume("damp_mysql_data_demo"), "attached bundled volume survives")
	assert.True(t, fake.HasVolume("damp_mysql_data_other"), "detached bundled volume survives")
	_, ok := fake.Container(bundled.ContainerID)
	assert.True(t, ok)
}

func TestUninstallKeepsVolumesByDefault(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newTestManager(t)

	require.True(t, m.Install(ctx, registry.Redis, InstallOptions{}).Success)
	require.True(t, m.Uninstall(ctx, registry.Redis, false).Success)
	assert.True(t, fake.HasVolume("damp_redis_data"))
}

func TestActionsRequireInstalledService(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	for name, res := range map[string]models.Result[models.Empty]{
		"start":     m.Start(ctx, registry.Redis),
		"stop":      m.Stop(ctx, registry.Redis),
		"restart":   m.Restart(ctx, registry.Redis),
		"uninstall": m.Uninstall(ctx, registry.Redis, true),
	} {
		assert.False(t, res.Success, name)
		assert.Contains(t, res.Error, "service not installed", name)
	}

	status, err := m.GetState(ctx, registry.Redis)
	require.NoError(t, err)
	assert.False(t, status.Installed)
	assert.Equal(t, models.NotFoundState(), status.State)
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	require.True(t, m.Install(ctx, registry.Memcached, InstallOptions{}).Success)
	require.True(t, m.Start(ctx, registry.Memcached).Success)

	status, err := m.GetState(ctx, registry.Memcached)
	require.NoError(t, err)
	assert.True(t, status.State.Running)

	require.True(t, m.Stop(ctx, registry.Memcached).Success)
	status, err = m.GetState(ctx, registry.Memcached)
	require.NoError(t, err)
	assert.False(t, status.State.Running)
	assert.True(t, status.Installed)
}

func TestGetAllStatesCoversCatalog(t *testing.T) {
	m, _, _ := newTestManager(t)

	all, err := m.GetAllStates(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, len(registry.All()))
}

func TestDatabaseOperationsRequireHealthyContainer(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newTestManager(t)
	fake.OnExec = func(_ *dockertest.Container, cmd []string) (string, string, int) {
		switch cmd[0] {
		case "mysql":
			return "information_schema\ndevelopment\nmysql\nperformance_schema\nshop\nsys\n", "", 0
		case "mysqldump":
			return "CREATE TABLE t (id int);\n", "", 0
		}
		return "", "unknown command", 127
	}

	res := m.Install(ctx, registry.MySQL, InstallOptions{StartImmediately: true})
	require.True(t, res.Success, res.Error)

	// Health is still starting.
	list := m.ListDatabases(ctx, registry.MySQL)
	assert.False(t, list.Success)
	assert.Contains(t, list.Error, ErrNotReady.Error())

	c, ok := fake.Container(res.Data.ContainerID)
	require.True(t, ok)
	c.Health = container.Healthy

	list = m.ListDatabases(ctx, registry.MySQL)
	require.True(t, list.Success, list.Error)
	assert.Equal(t, []string{"development", "shop"}, list.Data)

	dump := m.DumpDatabase(ctx, registry.MySQL, "shop")
	require.True(t, dump.Success, dump.Error)
	assert.Contains(t, string(dump.Data), "CREATE TABLE")

	restore := m.RestoreDatabase(ctx, registry.MySQL, "shop", strings.NewReader("SELECT 1;"))
	require.True(t, restore.Success, restore.Error)

	bad := m.DumpDatabase(ctx, registry.MySQL, "shop; DROP")
	assert.False(t, bad.Success)

	c.Health = container.Unhealthy
	assert.False(t, m.DumpDatabase(ctx, registry.MySQL, "shop").Success)
}

func TestDatabaseOperationsOnNonDatabase(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	res := m.ListDatabases(ctx, registry.Redis)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "does not support database operations")
}

func TestBundledServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newTestManager(t)
	p := &models.Project{ID: "p1", Name: "Demo App"}

	res, err := m.InstallBundled(ctx, p, models.BundledService{
		ServiceID:         registry.MySQL,
		CustomCredentials: map[string]string{"MYSQL_DATABASE": "demo"},
	})
	require.NoError(t, err)

	c, ok := fake.Container(res.ContainerID)
	require.True(t, ok)
	assert.Equal(t, "damp-demo-app-mysql", c.Name)
	assert.True(t, c.Running)
	assert.Equal(t, "MYSQL_DATABASE=demo", c.Config.Env[len(c.Config.Env)-1])
	assert.Equal(t, labels.ForBundledService("p1", "Demo App", registry.MySQL), labels.Parse(c.Config.Labels))
	assert.True(t, fake.HasVolume("damp_mysql_data_demo-app"))

	shared, err := m.GetState(ctx, registry.MySQL)
	require.NoError(t, err)
	assert.False(t, shared.Installed, "bundled containers are not the shared service")

	require.NoError(t, m.StopBundled(ctx, "p1"))
	assert.False(t, c.Running)

	require.NoError(t, m.RemoveBundled(ctx, "p1", registry.MySQL, true))
	assert.Zero(t, fake.ContainerCount())
	assert.False(t, fake.HasVolume("damp_mysql_data_demo-app"))

	require.NoError(t, m.RemoveBundled(ctx, "p1", registry.MySQL, true))

	_, err = m.InstallBundled(ctx, p, models.BundledService{ServiceID: registry.Caddy})
	assert.Error(t, err)
}
