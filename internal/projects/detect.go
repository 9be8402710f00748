package projects

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"evalgo.org/damp/models"
)

// ErrUnsupportedVersion is returned by the runtime version gate.
var ErrUnsupportedVersion = errors.New("unsupported runtime version")

var (
	// SupportedPHPVersions lists the PHP versions a dev container can run.
	SupportedPHPVersions = []string{"7.4", "8.0", "8.1", "8.2", "8.3", "8.4"}
	// SupportedNodeVersions lists the Node.js major versions.
	SupportedNodeVersions = []string{"18", "20", "22", "24"}
)

// laravelMinPHP is the lowest PHP version current Laravel releases accept.
const laravelMinPHP = "8.2"

// CheckVersions gates runtime selections for a project type. It has no side
// effects and runs before anything touches disk or the daemon.
func CheckVersions(t models.ProjectType, php, node string) error {
	if !slices.Contains(SupportedPHPVersions, php) {
		return fmt.Errorf("%w: PHP %q (supported: %s)", ErrUnsupportedVersion, php, strings.Join(SupportedPHPVersions, ", "))
	}
	if node != "" && !slices.Contains(SupportedNodeVersions, node) {
		return fmt.Errorf("%w: Node.js %q (supported: %s)", ErrUnsupportedVersion, node, strings.Join(SupportedNodeVersions, ", "))
	}
	if t == models.ProjectTypeLaravel && compareVersions(php, laravelMinPHP) < 0 {
		return fmt.Errorf("%w: Laravel requires PHP %s or newer, got %s", ErrUnsupportedVersion, laravelMinPHP, php)
	}
	return nil
}

// compareVersions compares dotted numeric versions.
func compareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < max(len(pa), len(pb)); i++ {
		var x, y int
		if i < len(pa) {
			x, _ = strconv.Atoi(pa[i])
		}
		if i < len(pb) {
			y, _ = strconv.Atoi(pb[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

type composerManifest struct {
	Require    map[string]string `json:"require"`
	RequireDev map[string]string `json:"require-dev"`
}

// DetectType classifies an existing folder. A folder is Laravel only when
// composer.json requires laravel/framework and the artisan script exists;
// either alone is not enough.
func DetectType(dir string) models.ProjectType {
	if hasLaravelDependency(filepath.Join(dir, "composer.json")) && fileExists(filepath.Join(dir, "artisan")) {
		return models.ProjectTypeLaravel
	}
	return models.ProjectTypeBasicPHP
}

func hasLaravelDependency(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var m composerManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	_, ok := m.Require["laravel/framework"]
	return ok
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s exists and is not a directory", path)
	}
	return true, nil
}
