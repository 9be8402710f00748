package docker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/docker/dockertest"
	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/ports"
	"evalgo.org/damp/models"
)

type memPulls struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func (p *memPulls) LastPull(image string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.last[image]
	return t, ok
}

func (p *memPulls) RecordPull(image string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last[image] = at
	return nil
}

func allFree() *ports.Resolver {
	return ports.NewResolver(ports.CheckerFunc(func(context.Context, int) bool { return true }), ports.DefaultOptions(), nil)
}

func newManager(t *testing.T, opts docker.Options) (*docker.Manager, *dockertest.Fake, *memPulls) {
	t.Helper()
	fake := dockertest.New()
	pulls := &memPulls{last: map[string]time.Time{}}
	return docker.NewManager(fake, allFree(), pulls, opts, nil), fake, pulls
}

func mysqlConfig() models.ServiceConfig {
	return models.ServiceConfig{
		Image:           "mysql:8.4",
		ContainerName:   "damp-mysql",
		Ports:           []models.PortPair{{External: 3306, Internal: 3306}},
		EnvironmentVars: []string{"MYSQL_ROOT_PASSWORD=root"},
		VolumeBindings:  []models.VolumeBinding{{Volume: "damp_mysql_data", Target: "/var/lib/mysql"}},
	}
}

func TestContainerLifecycle(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})

	res, err := m.CreateContainer(ctx, docker.CreateOptions{
		Config: mysqlConfig(),
		Labels: labels.ForServiceContainer("mysql"),
	})
	require.NoError(t, err)
	assert.Equal(t, "damp-mysql", res.Name)
	assert.Equal(t, map[int]int{3306: 3306}, res.Ports)
	assert.True(t, fake.HasNetwork("damp-network"))
	assert.True(t, fake.HasVolume("damp_mysql_data"))

	require.NoError(t, m.StartContainer(ctx, res.ID))

	state, err := m.GetContainerState(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.True(t, state.Running)
	assert.Equal(t, "damp-mysql", state.ContainerName)
	assert.Equal(t, models.HealthNone, state.HealthStatus)
	assert.Equal(t, 3306, state.HostPort(3306))
	assert.Contains(t, state.EnvVars, "MYSQL_ROOT_PASSWORD=root")

	require.NoError(t, m.RemoveContainer(ctx, res.ID))

	state, err = m.GetContainerState(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotFoundState(), state)

	err = m.RemoveContainer(ctx, res.ID)
	assert.ErrorIs(t, err, docker.ErrContainerNotFound)
}

func TestCreateContainerNameConflict(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, docker.Options{})

	_, err := m.CreateContainer(ctx, docker.CreateOptions{Config: mysqlConfig()})
	require.NoError(t, err)

	_, err = m.CreateContainer(ctx, docker.CreateOptions{Config: mysqlConfig()})
	assert.ErrorIs(t, err, docker.ErrNameConflict)
	assert.True(t, docker.IsConflict(err))
}

func TestCustomConfigOverridesImage(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})

	res, err := m.CreateContainer(ctx, docker.CreateOptions{
		Config: mysqlConfig(),
		Custom: &models.CustomConfig{Image: "mysql:8.0", EnvironmentVars: []string{"EXTRA=1"}},
	})
	require.NoError(t, err)

	c, ok := fake.Container(res.ID)
	require.True(t, ok)
	assert.Equal(t, "mysql:8.0", c.Config.Image)
	assert.Equal(t, []string{"MYSQL_ROOT_PASSWORD=root", "EXTRA=1"}, c.Config.Env)
	assert.Equal(t, "unless-stopped", string(c.HostConfig.RestartPolicy.Name))
}

func TestActionsOnMissingContainer(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, docker.Options{})

	assert.ErrorIs(t, m.StartContainer(ctx, "nope"), docker.ErrContainerNotFound)
	assert.ErrorIs(t, m.StopContainer(ctx, "nope"), docker.ErrContainerNotFound)
	assert.ErrorIs(t, m.RestartContainer(ctx, "nope"), docker.ErrContainerNotFound)

	state, err := m.GetContainerState(ctx, "")
	require.NoError(t, err)
	assert.False(t, state.Exists)
}

func TestRemoveVolumeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})
	fake.AddVolume("damp_redis_data", labels.ForServiceVolume("redis").ToMap())

	require.NoError(t, m.RemoveVolume(ctx, "damp_redis_data"))
	require.NoError(t, m.RemoveVolume(ctx, "damp_redis_data"))
	assert.False(t, fake.HasVolume("damp_redis_data"))
}

func TestRemoveVolumeInUse(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})

	_, err := m.CreateContainer(ctx, docker.CreateOptions{Config: mysqlConfig()})
	require.NoError(t, err)

	err = m.RemoveVolume(ctx, "damp_mysql_data")
	require.Error(t, err)
	assert.ErrorIs(t, err, docker.ErrVolumeInUse)

	var inUse *docker.VolumeInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, "damp_mysql_data", inUse.Volume)
	assert.True(t, fake.HasVolume("damp_mysql_data"))
}

func TestRemoveVolumesByLabelJoinsFailures(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})

	fake.AddVolume("damp_mysql_logs", labels.ForServiceVolume("mysql").ToMap())
	fake.AddVolume("damp_mysql_data", labels.ForServiceVolume("mysql").ToMap())
	fake.AddVolume("damp_redis_data", labels.ForServiceVolume("redis").ToMap())
	fake.AddContainer(&dockertest.Container{
		Name:       "holder",
		HostConfig: &container.HostConfig{Binds: []string{"damp_mysql_data:/var/lib/mysql"}},
	})

	removed, err := m.RemoveVolumesByLabel(ctx, labels.ForServiceVolume("mysql"))
	assert.Equal(t, []string{"damp_mysql_logs"}, removed)
	assert.ErrorIs(t, err, docker.ErrVolumeInUse)
	assert.True(t, fake.HasVolume("damp_redis_data"))
}

func TestFindByLabelsRequiresSuperset(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})

	fake.AddContainer(&dockertest.Container{
		Name:   "demo-mysql",
		Config: &container.Config{Image: "mysql:8.4", Labels: labels.ForBundledService("p1", "demo", "mysql").ToMap()},
	})
	fake.AddContainer(&dockertest.Container{
		Name:   "stranger",
		Config: &container.Config{Image: "mysql:8.4", Labels: map[string]string{labels.KeyServiceID: "mysql"}},
	})

	ref, err := m.FindServiceContainer(ctx, "mysql")
	require.NoError(t, err)
	assert.Nil(t, ref, "bundled container must not match a shared service lookup")

	ref, err = m.FindBundledServiceContainer(ctx, "p1", "mysql")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "demo-mysql", ref.Name)

	ref, err = m.FindByLabels(ctx, []string{labels.KeyServiceID + "=mysql"})
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "demo-mysql", ref.Name, "unmanaged containers are invisible")
}

func TestFloatingTags(t *testing.T) {
	assert.True(t, docker.IsFloatingTag("mysql"))
	assert.True(t, docker.IsFloatingTag("mysql:latest"))
	assert.True(t, docker.IsFloatingTag("localhost:5000/app"))
	assert.False(t, docker.IsFloatingTag("mysql:8.4"))
	assert.False(t, docker.IsFloatingTag("mysql@sha256:abcd"))

	assert.Equal(t, "8.4", docker.ImageTag("mysql:8.4"))
	assert.Equal(t, "latest", docker.ImageTag("registry.local:5000/mysql"))
}

func TestPullPolicy(t *testing.T) {
	ctx := context.Background()
	m, fake, pulls := newManager(t, docker.Options{})

	// Missing image is always pulled.
	var stages []string
	sink := models.ProgressFunc(func(p models.Progress) { stages = append(stages, p.Stage) })
	require.NoError(t, m.PullImage(ctx, "mysql:8.4", sink))
	assert.Equal(t, 1, fake.Pulls["mysql:8.4"])
	assert.NotEmpty(t, stages)

	// Pinned tag present locally is never pulled again.
	require.NoError(t, m.PullImage(ctx, "mysql:8.4", nil))
	assert.Equal(t, 1, fake.Pulls["mysql:8.4"])

	// Floating tag pulled recently is skipped.
	fake.AddImage("redis:latest")
	require.NoError(t, pulls.RecordPull("redis:latest", time.Now().Add(-time.Hour)))
	require.NoError(t, m.PullImage(ctx, "redis:latest", nil))
	assert.Zero(t, fake.Pulls["redis:latest"])

	// Floating tag older than the max age is refreshed.
	require.NoError(t, pulls.RecordPull("redis:latest", time.Now().Add(-8*24*time.Hour)))
	require.NoError(t, m.PullImage(ctx, "redis:latest", nil))
	assert.Equal(t, 1, fake.Pulls["redis:latest"])

	last, ok := pulls.LastPull("redis:latest")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), last, time.Minute)
}

func TestWaitForRunning(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})

	running := fake.AddContainer(&dockertest.Container{Name: "up", Status: container.StateRunning, Running: true})
	require.NoError(t, m.WaitForRunning(ctx, running.ID, time.Second, 10*time.Millisecond))

	idle := fake.AddContainer(&dockertest.Container{Name: "idle"})
	err := m.WaitForRunning(ctx, idle.ID, 50*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, err, docker.ErrWaitTimeout)

	dead := fake.AddContainer(&dockertest.Container{Name: "dead", Status: container.StateExited, ExitCode: 1})
	err = m.WaitForRunning(ctx, dead.ID, time.Second, 10*time.Millisecond)
	var fatal *docker.FatalStateError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, fatal.ExitCode)
	assert.NotErrorIs(t, err, docker.ErrWaitTimeout)
}

func TestExec(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})
	c := fake.AddContainer(&dockertest.Container{Name: "web", Status: container.StateRunning, Running: true})
	fake.OnExec = func(_ *dockertest.Container, cmd []string) (string, string, int) {
		if cmd[0] == "fail" {
			return "", "boom", 3
		}
		return "ok", "", 0
	}

	res, err := m.Exec(ctx, c.ID, []string{"echo"}, docker.ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "ok", res.Stdout)

	res, err = m.Exec(ctx, c.ID, []string{"fail"}, docker.ExecOptions{})
	require.NoError(t, err, "a non-zero exit is not an error")
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom", res.Stderr)

	_, err = m.ExecChecked(ctx, c.ID, []string{"fail"}, docker.ExecOptions{})
	var execErr *docker.ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.ExitCode)
}

func TestExecExitCodeUnavailable(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})
	c := fake.AddContainer(&dockertest.Container{Name: "web", Status: container.StateRunning, Running: true})
	fake.ExecInspectErr = errors.New("connection reset")

	_, err := m.Exec(ctx, c.ID, []string{"true"}, docker.ExecOptions{})
	assert.ErrorIs(t, err, docker.ErrExitCodeUnavailable)
}

func TestFileCopy(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{MaxArchiveSize: 16})
	c := fake.AddContainer(&dockertest.Container{Name: "web", Status: container.StateRunning, Running: true})

	require.NoError(t, m.PutFile(ctx, c.ID, "/etc/caddy/Caddyfile", []byte("demo.local {}"), 0))
	data, err := m.GetFile(ctx, c.ID, "/etc/caddy/Caddyfile")
	require.NoError(t, err)
	assert.Equal(t, "demo.local {}", string(data))

	fake.SetFile(c.ID, "/big", []byte("this is longer than sixteen bytes"))
	_, err = m.GetFile(ctx, c.ID, "/big")
	assert.ErrorIs(t, err, docker.ErrArchiveTooLarge)

	_, err = m.GetFile(ctx, c.ID, "/missing")
	assert.True(t, docker.IsNotFound(err))
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
	ends  int
}

func (l *lineCollector) add(stream, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, stream+":"+line)
}

func (l *lineCollector) end(error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ends++
}

func (l *lineCollector) snapshot() ([]string, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...), l.ends
}

func TestStreamLogsFollowAndStop(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})
	c := fake.AddContainer(&dockertest.Container{
		Name:    "web",
		Status:  container.StateRunning,
		Running: true,
		Logs:    [][2]string{{"stdout", "hello"}, {"stderr", "oops"}, {"stdout", "bye"}},
	})

	col := &lineCollector{}
	stop, err := m.StreamLogs(ctx, c.ID, docker.LogOptions{Follow: true, OnEnd: col.end}, col.add)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		lines, _ := col.snapshot()
		return len(lines) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, m.ActiveStreams())

	stop()
	stop()

	require.Eventually(t, func() bool {
		_, ends := col.snapshot()
		return ends == 1 && m.ActiveStreams() == 0
	}, time.Second, 5*time.Millisecond)

	lines, _ := col.snapshot()
	assert.Equal(t, []string{"stdout:hello", "stderr:oops", "stdout:bye"}, lines)
}

func TestStreamLogsTail(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})
	c := fake.AddContainer(&dockertest.Container{
		Name: "web",
		Logs: [][2]string{{"stdout", "1"}, {"stdout", "2"}, {"stdout", "3"}},
	})

	col := &lineCollector{}
	_, err := m.StreamLogs(ctx, c.ID, docker.LogOptions{Tail: 2, OnEnd: col.end}, col.add)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ends := col.snapshot()
		return ends == 1
	}, time.Second, 5*time.Millisecond)
	lines, _ := col.snapshot()
	assert.Equal(t, []string{"stdout:2", "stdout:3"}, lines)

	_, err = m.StreamLogs(ctx, "missing", docker.LogOptions{}, col.add)
	assert.ErrorIs(t, err, docker.ErrContainerNotFound)
}

func TestCloseStopsStreams(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})
	c := fake.AddContainer(&dockertest.Container{Name: "web", Running: true, Status: container.StateRunning})

	col := &lineCollector{}
	_, err := m.StreamLogs(ctx, c.ID, docker.LogOptions{Follow: true, OnEnd: col.end}, col.add)
	require.NoError(t, err)
	require.Equal(t, 1, m.ActiveStreams())

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.ActiveStreams())
}

func TestRunHelperRemovesContainer(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})
	fake.HelperExitCode = 2

	res, err := m.RunHelper(ctx, docker.HelperOptions{Cmd: []string{"sh", "-c", "exit 2"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.Zero(t, fake.ContainerCount())
	assert.True(t, fake.HasImage("alpine:3.20"))
}

func TestSyncFolderRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := newManager(t, docker.Options{})

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "app", "Http"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "node_modules", "left-pad"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.php"), []byte("<?php echo 1;"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "app", "Http", "Kernel.php"), []byte("<?php"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "node_modules", "left-pad", "index.js"), []byte("x"), 0o644))

	var last models.Progress
	sink := models.ProgressFunc(func(p models.Progress) { last = p })
	opts := docker.SyncOptions{Exclude: []string{"node_modules"}, ProjectID: "p1"}

	require.NoError(t, m.SyncFolderToVolume(ctx, src, "damp_project_demo", opts, sink))
	assert.Equal(t, "done", last.Stage)
	assert.Equal(t, 100, last.Percentage)

	data, ok := fake.VolumeFile("damp_project_demo", "index.php")
	require.True(t, ok)
	assert.Equal(t, "<?php echo 1;", string(data))
	_, ok = fake.VolumeFile("damp_project_demo", "node_modules/left-pad/index.js")
	assert.False(t, ok)
	assert.Zero(t, fake.ContainerCount(), "helper containers are removed")

	dst := t.TempDir()
	require.NoError(t, m.SyncVolumeToFolder(ctx, "damp_project_demo", dst, opts, nil))
	got, err := os.ReadFile(filepath.Join(dst, "app", "Http", "Kernel.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php", string(got))
}

func TestPingUnreachable(t *testing.T) {
	m, fake, _ := newManager(t, docker.Options{})
	fake.PingErr = errors.New("dial unix /var/run/docker.sock: connect: no such file")

	assert.ErrorIs(t, m.Ping(context.Background()), docker.ErrDaemonUnreachable)
}
