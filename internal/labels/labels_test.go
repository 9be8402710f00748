package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiltersManagedFirst(t *testing.T) {
	f := ForBundledService("p1", "demo", "mysql").Filters()
	require.NotEmpty(t, f)
	assert.Equal(t, KeyManaged+"=true", f[0])
	assert.Contains(t, f, KeyServiceID+"=mysql")
	assert.Contains(t, f, KeyProjectID+"=p1")
	assert.Contains(t, f, KeyType+"=bundled-service-container")
}

func TestFiltersAlwaysIncludeManaged(t *testing.T) {
	f := Labels{ServiceID: "redis"}.Filters()
	assert.Equal(t, []string{KeyManaged + "=true", KeyServiceID + "=redis"}, f)
}

func TestToMapOmitsEmpty(t *testing.T) {
	m := ForServiceContainer("redis").ToMap()
	assert.Equal(t, map[string]string{
		KeyManaged:   "true",
		KeyType:      "service-container",
		KeyServiceID: "redis",
	}, m)
}

func TestParse(t *testing.T) {
	l := ForProjectContainer("id-1", "demo")
	assert.Equal(t, l, Parse(l.ToMap()))
	assert.False(t, Parse(map[string]string{"other": "x"}).Managed)
}

func TestMatchesRequiresSuperset(t *testing.T) {
	m := map[string]string{KeyManaged: "true", KeyType: "service-container", KeyServiceID: "mysql"}

	tests := []struct {
		name    string
		filters []string
		want    bool
	}{
		{"all match", []string{KeyManaged + "=true", KeyServiceID + "=mysql"}, true},
		{"value differs", []string{KeyManaged + "=true", KeyServiceID + "=redis"}, false},
		{"key missing", []string{KeyManaged + "=true", KeyProjectID + "=p1"}, false},
		{"key only", []string{KeyServiceID}, true},
		{"empty", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(m, tt.filters))
		})
	}
}

func TestArgs(t *testing.T) {
	args := ForServiceVolume("mysql").Args()
	assert.ElementsMatch(t, ForServiceVolume("mysql").Filters(), args.Get("label"))
}
