package certs

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

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

const pem = "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n"

func setup(t *testing.T, installer Installer) (*Bootstrapper, *dockertest.Fake, *dockertest.Container, *store.FileStore) {
	t.Helper()
	fake := dockertest.New()
	proxy := fake.AddContainer(&dockertest.Container{
		Name:    "damp-web",
		Status:  container.StateRunning,
		Running: true,
		Config:  &container.Config{Image: "caddy:2-alpine", Labels: labels.ForServiceContainer(registry.Caddy).ToMap()},
	})
	fake.OnExec = func(*dockertest.Container, []string) (string, string, int) { return "", "", 0 }

	flags := store.NewMemory()
	opts := Options{OutputDir: t.TempDir(), PollInterval: 5 * time.Millisecond, PollTimeout: 50 * time.Millisecond}
	b := NewBootstrapper(docker.NewManager(fake, nil, nil, docker.Options{}, nil), installer, flags, opts, nil)
	return b, fake, proxy, flags
}

func TestBootstrapInstallsCertificate(t *testing.T) {
	var installed string
	b, fake, proxy, flags := setup(t, InstallerFunc(func(_ context.Context, path string) error {
		installed = path
		return nil
	}))
	fake.SetFile(proxy.ID, DefaultOptions().RootCertPath, []byte(pem))

	res, err := b.Run(context.Background(), proxy.ID)
	require.NoError(t, err)
	assert.Equal(t, &Result{
		Success:         true,
		ProxyConfigured: true,
		CertExtracted:   true,
		Installed:       true,
		CertPath:        installed,
	}, res)

	data, err := os.ReadFile(res.CertPath)
	require.NoError(t, err)
	assert.Equal(t, pem, string(data))
	assert.True(t, flags.Flag(FlagCertificateInstalled))
	assert.True(t, b.Installed())

	caddyfile, ok := proxy.Files["/etc/caddy/Caddyfile"]
	require.True(t, ok)
	assert.Contains(t, string(caddyfile), "damp.local {")

	require.Len(t, fake.ExecLog, 2)
	assert.Equal(t, []string{"caddy", "fmt", "--overwrite", "/etc/caddy/Caddyfile"}, fake.ExecLog[0])
	assert.Equal(t, "reload", fake.ExecLog[1][1])
}

func TestBootstrapInstallFailureIsPartialSuccess(t *testing.T) {
	b, fake, proxy, flags := setup(t, InstallerFunc(func(context.Context, string) error {
		return errors.New("user cancelled the prompt")
	}))
	fake.SetFile(proxy.ID, DefaultOptions().RootCertPath, []byte(pem))

	res, err := b.Run(context.Background(), proxy.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.ProxyConfigured)
	assert.True(t, res.CertExtracted)
	assert.False(t, res.Installed)
	assert.Equal(t, "user cancelled the prompt", res.InstallError)
	assert.False(t, flags.Flag(FlagCertificateInstalled))
}

func TestBootstrapReloadFailureIsFatal(t *testing.T) {
	b, fake, proxy, _ := setup(t, nil)
	fake.OnExec = func(_ *dockertest.Container, cmd []string) (string, string, int) {
		if cmd[1] == "reload" {
			return "", "adapting config: bad directive", 1
		}
		return "", "", 0
	}

	res, err := b.Run(context.Background(), proxy.ID)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.ProxyConfigured)
	assert.False(t, res.CertExtracted)

	var execErr *docker.ExecError
	assert.ErrorAs(t, err, &execErr)
}

func TestBootstrapCertTimeout(t *testing.T) {
	b, _, proxy, _ := setup(t, nil)

	res, err := b.Run(context.Background(), proxy.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCertTimeout)
	assert.True(t, res.ProxyConfigured)
	assert.False(t, res.CertExtracted)
	assert.False(t, res.Success)
}

func TestPostInstallReportsOnlyFatalErrors(t *testing.T) {
	b, fake, proxy, _ := setup(t, InstallerFunc(func(context.Context, string) error {
		return ErrUnsupportedPlatform
	}))
	fake.SetFile(proxy.ID, DefaultOptions().RootCertPath, []byte(pem))

	def, _ := registry.Get(registry.Caddy)
	assert.NoError(t, b.PostInstall(context.Background(), def, proxy.ID))
}

type call struct {
	name string
	args []string
}

func recorder(responses ...error) (Runner, *[]call) {
	var calls []call
	outputs := map[int]string{}
	for i, err := range responses {
		if err != nil {
			outputs[i] = err.Error()
		}
	}
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		i := len(calls)
		calls = append(calls, call{name: name, args: args})
		if i < len(responses) && responses[i] != nil {
			return []byte(outputs[i]), responses[i]
		}
		return nil, nil
	}, &calls
}

func TestWindowsInstallerRetriesElevatedOnAccessDenied(t *testing.T) {
	run, calls := recorder(errors.New("CertUtil: Access is denied."))

	require.NoError(t, InstallerFor("windows", run).Install(context.Background(), `C:\tmp\root.crt`))
	require.Len(t, *calls, 2)
	assert.Equal(t, "certutil", (*calls)[0].name)
	assert.Equal(t, []string{"-user", "-addstore", "Root", `C:\tmp\root.crt`}, (*calls)[0].args)
	assert.Equal(t, "powershell", (*calls)[1].name)
}

func TestWindowsInstallerDoesNotElevateOtherFailures(t *testing.T) {
	run, calls := recorder(errors.New("CertUtil: file not found"))

	err := InstallerFor("windows", run).Install(context.Background(), `C:\tmp\root.crt`)
	assert.Error(t, err)
	assert.Len(t, *calls, 1)
}

func TestDarwinInstallerPromptsForPrivileges(t *testing.T) {
	run, calls := recorder()

	require.NoError(t, InstallerFor("darwin", run).Install(context.Background(), "/tmp/root.crt"))
	require.Len(t, *calls, 1)
	assert.Equal(t, "osascript", (*calls)[0].name)
	assert.Contains(t, (*calls)[0].args[1], "with administrator privileges")
	assert.Contains(t, (*calls)[0].args[1], "add-trusted-cert")
}

func TestUnsupportedPlatform(t *testing.T) {
	err := InstallerFor("plan9", ExecRunner).Install(context.Background(), "/tmp/root.crt")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestProxyCaddyfile(t *testing.T) {
	out := ProxyCaddyfile([]*models.Project{{
		Name:   "demo",
		Domain: "demo.local",
		BundledServices: []models.BundledService{
			{ServiceID: registry.Mailpit},
			{ServiceID: registry.Redis},
		},
	}})

	assert.Contains(t, out, "local_certs")
	assert.Contains(t, out, "demo.local {\n\ttls internal\n\treverse_proxy damp-project-demo:80\n}")
	assert.Contains(t, out, "mail.demo.local {\n\ttls internal\n\treverse_proxy damp-demo-mailpit:8025\n}")
	assert.NotContains(t, out, "redis")
}

func TestSyncProxy(t *testing.T) {
	b, fake, proxy, _ := setup(t, nil)
	projects := []*models.Project{{Name: "shop", Domain: "shop.local", ForwardedPort: 8000}}

	require.NoError(t, b.SyncProxy(context.Background(), projects))
	assert.Contains(t, string(proxy.Files["/etc/caddy/Caddyfile"]), "reverse_proxy damp-project-shop:8000")
	require.Len(t, fake.ExecLog, 1)
	assert.Equal(t, "reload", fake.ExecLog[0][1])
}

func TestSyncProxyWithoutProxy(t *testing.T) {
	fake := dockertest.New()
	b := NewBootstrapper(docker.NewManager(fake, nil, nil, docker.Options{}, nil), nil, nil, Options{}, nil)
	assert.NoError(t, b.SyncProxy(context.Background(), nil))
}
