package projects

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/models"
)

const (
	workspaceDir = "/var/www/html"
	xdebugPort   = 9003
)

// GeneratedFiles lists the files written into a project folder, relative
// to its root.
var GeneratedFiles = []string{
	".devcontainer/devcontainer.json",
	".devcontainer/Dockerfile",
	".vscode/launch.json",
}

type devcontainer struct {
	Name            string            `json:"name"`
	Build           devcontainerBuild `json:"build"`
	WorkspaceMount  string            `json:"workspaceMount"`
	WorkspaceFolder string            `json:"workspaceFolder"`
	RunArgs         []string          `json:"runArgs"`
	ForwardPorts    []int             `json:"forwardPorts"`
	ContainerEnv    map[string]string `json:"containerEnv"`
	RemoteUser      string            `json:"remoteUser"`
	PostCreate      string            `json:"postCreateCommand,omitempty"`
	Customizations  map[string]any    `json:"customizations"`
}

type devcontainerBuild struct {
	Dockerfile string            `json:"dockerfile"`
	Args       map[string]string `json:"args"`
}

type launchConfig struct {
	Version        string         `json:"version"`
	Configurations []launchTarget `json:"configurations"`
}

type launchTarget struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Request      string            `json:"request"`
	Port         int               `json:"port"`
	PathMappings map[string]string `json:"pathMappings"`
}

// writeConfigFiles renders the dev container and debugger configuration
// into the project folder.
func writeConfigFiles(p *models.Project, network string) error {
	files := map[string][]byte{}

	dc, err := json.MarshalIndent(renderDevcontainer(p, network), "", "  ")
	if err != nil {
		return err
	}
	files[GeneratedFiles[0]] = append(dc, '\n')
	files[GeneratedFiles[1]] = []byte(renderDockerfile(p))

	launch, err := json.MarshalIndent(launchConfig{
		Version: "0.2.0",
		Configurations: []launchTarget{{
			Name:         "Listen for Xdebug",
			Type:         "php",
			Request:      "launch",
			Port:         xdebugPort,
			PathMappings: map[string]string{workspaceDir: "${workspaceFolder}"},
		}},
	}, "", "  ")
	if err != nil {
		return err
	}
	files[GeneratedFiles[2]] = append(launch, '\n')

	for _, rel := range GeneratedFiles {
		path := filepath.Join(p.Path, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, files[rel], 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}
	return nil
}

func renderDevcontainer(p *models.Project, network string) devcontainer {
	l := labels.ForProjectContainer(p.ID, p.Name).ToMap()
	runArgs := []string{"--network=" + network, "--name=" + p.ContainerName()}
	for _, k := range slices.Sorted(maps.Keys(l)) {
		runArgs = append(runArgs, fmt.Sprintf("--label=%s=%s", k, l[k]))
	}

	dc := devcontainer{
		Name: p.Name,
		Build: devcontainerBuild{
			Dockerfile: "Dockerfile",
			Args:       map[string]string{"PHP_VERSION": p.PHPVersion},
		},
		WorkspaceMount:  fmt.Sprintf("source=%s,target=%s,type=volume", p.VolumeName, workspaceDir),
		WorkspaceFolder: workspaceDir,
		RunArgs:         runArgs,
		ForwardPorts:    []int{p.ForwardedPort},
		ContainerEnv:    map[string]string{"XDEBUG_MODE": "debug", "XDEBUG_CONFIG": fmt.Sprintf("client_port=%d", xdebugPort)},
		RemoteUser:      "www-data",
		Customizations: map[string]any{
			"vscode": map[string]any{
				"extensions": []string{"xdebug.php-debug", "bmewburn.vscode-intelephense-client"},
			},
		},
	}
	if p.NodeVersion != "" {
		dc.Build.Args["NODE_VERSION"] = p.NodeVersion
	}
	if p.Type == models.ProjectTypeLaravel {
		dc.ContainerEnv["APACHE_DOCUMENT_ROOT"] = workspaceDir + "/public"
		dc.PostCreate = "composer install"
	}
	return dc
}

func renderDockerfile(p *models.Project) string {
	var b strings.Builder
	b.WriteString("ARG PHP_VERSION=" + p.PHPVersion + "\n")
	b.WriteString("FROM php:${PHP_VERSION}-apache\n\n")
	b.WriteString("RUN apt-get update && apt-get install -y --no-install-recommends git unzip libzip-dev \\\n")
	b.WriteString("    && rm -rf /var/lib/apt/lists/*\n")

	exts := append([]string{"pdo_mysql", "zip"}, p.PHPExtensions...)
	fmt.Fprintf(&b, "RUN docker-php-ext-install %s\n", strings.Join(dedup(exts), " "))
	b.WriteString("RUN pecl install xdebug && docker-php-ext-enable xdebug\n")
	b.WriteString("COPY --from=composer:2 /usr/bin/composer /usr/bin/composer\n")

	if p.NodeVersion != "" {
		fmt.Fprintf(&b, "\nRUN curl -fsSL https://deb.nodesource.com/setup_%s.x | bash - \\\n", p.NodeVersion)
		b.WriteString("    && apt-get install -y nodejs && rm -rf /var/lib/apt/lists/*\n")
	}
	if p.Type == models.ProjectTypeLaravel {
		b.WriteString("\nENV APACHE_DOCUMENT_ROOT=" + workspaceDir + "/public\n")
		b.WriteString("RUN sed -ri -e 's!/var/www/html!${APACHE_DOCUMENT_ROOT}!g' /etc/apache2/sites-available/*.conf \\\n")
		b.WriteString("    && a2enmod rewrite\n")
	}
	return b.String()
}

const indexPHP = `<?php

phpinfo();
`

// writeStarter seeds an empty basic project with an index page.
func writeStarter(dir string) error {
	path := filepath.Join(dir, "index.php")
	if fileExists(path) {
		return nil
	}
	return os.WriteFile(path, []byte(indexPHP), 0o644)
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
