package commands

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"evalgo.org/damp/internal/config"
	"evalgo.org/damp/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "--output", "table"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "DAMP")
}

func TestConfigInitWritesLoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "damp.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	def := config.Default()
	assert.Equal(t, def.Docker, loaded.Docker)
	assert.Equal(t, def.Events, loaded.Events)
	assert.Equal(t, def.Server.Port, loaded.Server.Port)
	assert.Equal(t, def.Certs.PollTimeout, loaded.Certs.PollTimeout)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "existing files are not overwritten")
}

func TestConfigShowAppliesFlagOverrides(t *testing.T) {
	out, err := execute(t, "--log-level", "debug", "config", "show")
	require.NoError(t, err)

	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "debug", shown.Logging.Level)
	assert.Equal(t, "damp-network", shown.Docker.Network)
}

func TestParseBundled(t *testing.T) {
	tests := []struct {
		in      string
		want    models.BundledService
		wantErr bool
	}{
		{in: "redis", want: models.BundledService{ServiceID: "redis"}},
		{in: "mysql:MYSQL_DATABASE=app,MYSQL_PASSWORD=secret", want: models.BundledService{
			ServiceID:         "mysql",
			CustomCredentials: map[string]string{"MYSQL_DATABASE": "app", "MYSQL_PASSWORD": "secret"},
		}},
		{in: ":x=1", wantErr: true},
		{in: "mysql:broken", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBundled(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatPorts(t *testing.T) {
	assert.Equal(t, "-", formatPorts(nil))
	assert.Equal(t, "3306->3306/tcp, 8080->80/tcp", formatPorts([]models.PortMapping{
		{HostPort: 3306, ContainerPort: 3306, Protocol: "tcp"},
		{HostPort: 8080, ContainerPort: 80, Protocol: "tcp"},
	}))
}

func TestResourcesRejectsUnknownType(t *testing.T) {
	_, err := execute(t, "resources", "delete", "network", "abc")
	assert.ErrorContains(t, err, "invalid resource type")
}
