package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/damp/models"
)

func defaultConfig() models.ServiceConfig {
	return models.ServiceConfig{
		Image:           "mysql:8.4",
		ContainerName:   "damp-mysql",
		Ports:           []models.PortPair{{External: 3306, Internal: 3306}},
		EnvironmentVars: []string{"A=1", "B=2"},
		VolumeBindings:  []models.VolumeBinding{{Volume: "data", Target: "/var/lib/mysql"}},
		HealthCheck:     &models.HealthCheck{Test: []string{"CMD", "true"}, Interval: time.Second, Retries: 3},
		Command:         []string{"mysqld"},
	}
}

func TestMergeNilKeepsDefaults(t *testing.T) {
	def := defaultConfig()
	assert.Equal(t, def, MergeConfig(def, nil))
}

func TestMergeEnvironmentAppends(t *testing.T) {
	def := defaultConfig()
	got := MergeConfig(def, &models.CustomConfig{EnvironmentVars: []string{"C=3", "A=9"}})
	assert.Equal(t, []string{"A=1", "B=2", "C=3", "A=9"}, got.EnvironmentVars)
}

func TestMergePortsReplace(t *testing.T) {
	def := defaultConfig()
	custom := []models.PortPair{{External: 13306, Internal: 3306}}
	got := MergeConfig(def, &models.CustomConfig{Ports: custom})
	assert.Equal(t, custom, got.Ports)
}

func TestMergeVolumeBindingsReplace(t *testing.T) {
	def := defaultConfig()
	custom := []models.VolumeBinding{{Volume: "other", Target: "/x"}}
	got := MergeConfig(def, &models.CustomConfig{VolumeBindings: custom})
	assert.Equal(t, custom, got.VolumeBindings)
}

func TestMergeScalarFields(t *testing.T) {
	def := defaultConfig()

	t.Run("image override", func(t *testing.T) {
		got := MergeConfig(def, &models.CustomConfig{Image: "mysql:9"})
		assert.Equal(t, "mysql:9", got.Image)
	})
	t.Run("image default when absent", func(t *testing.T) {
		got := MergeConfig(def, &models.CustomConfig{})
		assert.Equal(t, "mysql:8.4", got.Image)
		assert.Equal(t, "damp-mysql", got.ContainerName)
	})
	t.Run("container name override", func(t *testing.T) {
		got := MergeConfig(def, &models.CustomConfig{ContainerName: "db"})
		assert.Equal(t, "db", got.ContainerName)
	})
	t.Run("healthcheck override", func(t *testing.T) {
		h := &models.HealthCheck{Test: []string{"CMD", "false"}}
		got := MergeConfig(def, &models.CustomConfig{HealthCheck: h})
		assert.Equal(t, []string{"CMD", "false"}, got.HealthCheck.Test)
	})
	t.Run("command override", func(t *testing.T) {
		got := MergeConfig(def, &models.CustomConfig{Command: []string{"sh"}})
		assert.Equal(t, []string{"sh"}, got.Command)
	})
}

func TestMergeDoesNotMutateDefault(t *testing.T) {
	def := defaultConfig()
	got := MergeConfig(def, &models.CustomConfig{EnvironmentVars: []string{"C=3"}})
	got.Ports[0].External = 1
	got.HealthCheck.Test[0] = "X"

	assert.Equal(t, []string{"A=1", "B=2"}, def.EnvironmentVars)
	assert.Equal(t, 3306, def.Ports[0].External)
	assert.Equal(t, "CMD", def.HealthCheck.Test[0])
}

func TestGetReturnsCopy(t *testing.T) {
	a, ok := Get(MySQL)
	require.True(t, ok)
	a.DefaultConfig.EnvironmentVars[0] = "changed"

	b, _ := Get(MySQL)
	assert.NotEqual(t, "changed", b.DefaultConfig.EnvironmentVars[0])
}

func TestCatalogShape(t *testing.T) {
	_, ok := Get("nope")
	assert.False(t, ok)

	caddy, ok := Get(Caddy)
	require.True(t, ok)
	assert.True(t, caddy.Required)
	assert.Equal(t, HookCertificateBootstrap, caddy.PostInstall)

	pma, _ := Get(PhpMyAdmin)
	assert.Equal(t, MySQL, pma.LinkedDatabaseService)

	all := All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
	for _, def := range all {
		assert.NotEmpty(t, def.DefaultConfig.Image, def.ID)
		assert.NotEmpty(t, def.DefaultConfig.ContainerName, def.ID)
	}

	for _, def := range ByType(models.ServiceTypeCache) {
		assert.Equal(t, models.ServiceTypeCache, def.ServiceType)
	}
	assert.Equal(t, "mail", ProxySubdomains()[Mailpit])
	for _, def := range Bundleable() {
		assert.True(t, def.Bundleable)
	}
}
