package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestString(t *testing.T) {
	s := Info{Version: "1.2.0", GitCommit: "abc123", BuildTime: "2026-01-01", Platform: "linux/amd64", GoVersion: "go1.25.0"}.String()
	assert.True(t, strings.HasPrefix(s, "DAMP 1.2.0 (abc123)"))
	assert.Contains(t, s, "linux/amd64")
}
