package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/damp/models"
)

type sampleInput struct {
	Name       string `json:"name" validate:"required,max=10"`
	PHPVersion string `json:"php_version" validate:"omitempty,oneof=7.4 8.2"`
}

func TestNew(t *testing.T) {
	v := New()
	assert.NotNil(t, v)
	assert.NotNil(t, v.structValidator)
}

func TestStruct_Valid(t *testing.T) {
	v := New()

	res := v.Struct(sampleInput{Name: "demo", PHPVersion: "8.2"})
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.NoError(t, res.Err())
}

func TestStruct_UsesJSONFieldNames(t *testing.T) {
	v := New()

	res := v.Struct(sampleInput{PHPVersion: "5.6"})
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 2)

	fields := map[string]string{}
	for _, e := range res.Errors {
		fields[e.Field] = e.Message
	}
	assert.Equal(t, "is required", fields["name"])
	assert.Equal(t, "must be one of: 7.4, 8.2", fields["php_version"])

	err := res.Err()
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "php_version")
}

func TestCustomConfig_Nil(t *testing.T) {
	assert.True(t, New().CustomConfig(nil).Valid)
}

func TestCustomConfig_Valid(t *testing.T) {
	res := New().CustomConfig(&models.CustomConfig{
		Ports:           []models.PortPair{{External: 3307, Internal: 3306, Protocol: "TCP"}},
		EnvironmentVars: []string{"MYSQL_DATABASE=app", "EMPTY="},
		VolumeBindings:  []models.VolumeBinding{{Volume: "damp_mysql_data", Target: "/var/lib/mysql"}},
	})
	assert.True(t, res.Valid, "%+v", res.Errors)
}

func TestCustomConfig_Invalid(t *testing.T) {
	res := New().CustomConfig(&models.CustomConfig{
		Ports:           []models.PortPair{{External: 70000, Internal: 0, Protocol: "http"}},
		EnvironmentVars: []string{"NOVALUE", "=x"},
		VolumeBindings:  []models.VolumeBinding{{Volume: "data", Target: "relative"}},
		HealthCheck:     &models.HealthCheck{},
	})
	require.False(t, res.Valid)

	fields := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"ports[0].external",
		"ports[0].internal",
		"ports[0].protocol",
		"environment_vars[0]",
		"environment_vars[1]",
		"volume_bindings[0]",
		"healthcheck.test",
	}, fields)
}
