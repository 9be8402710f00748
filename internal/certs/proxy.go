package certs

import (
	"context"
	"fmt"
	"strings"

	"evalgo.org/damp/internal/registry"
	"evalgo.org/damp/internal/services"
	"evalgo.org/damp/models"
)

const globalOptions = "{\n\tlocal_certs\n}\n"

// BootstrapCaddyfile forces the proxy to issue a certificate for domain so
// that its local CA gets created.
func BootstrapCaddyfile(domain string) string {
	return globalOptions + fmt.Sprintf("\n%s {\n\ttls internal\n\trespond \"DAMP\"\n}\n", domain)
}

// ProxyCaddyfile routes every project domain to its dev container and
// every bundled service subdomain to the bundled container.
func ProxyCaddyfile(projects []*models.Project) string {
	var b strings.Builder
	b.WriteString(globalOptions)

	site := func(host, upstream string, port int) {
		fmt.Fprintf(&b, "\n%s {\n\ttls internal\n\treverse_proxy %s:%d\n}\n", host, upstream, port)
	}

	for _, p := range projects {
		port := p.ForwardedPort
		if port == 0 {
			port = 80
		}
		site(p.Domain, p.ContainerName(), port)

		for _, bs := range p.BundledServices {
			def, ok := registry.Get(bs.ServiceID)
			if !ok || def.ProxySubdomain == "" || def.ProxyPort == 0 {
				continue
			}
			site(def.ProxySubdomain+"."+p.Domain, services.BundledContainerName(p.Name, def.ID), def.ProxyPort)
		}
	}
	return b.String()
}

// SyncProxy rewrites the proxy config for projects and reloads it. Without
// an installed proxy there is nothing to do.
func (b *Bootstrapper) SyncProxy(ctx context.Context, projects []*models.Project) error {
	ref, err := b.docker.FindServiceContainer(ctx, registry.Caddy)
	if err != nil {
		return err
	}
	if ref == nil {
		b.logger.Debug("proxy not installed, skipping sync")
		return nil
	}

	if err := b.docker.PutFile(ctx, ref.ID, b.opts.CaddyfilePath, []byte(ProxyCaddyfile(projects)), 0o644); err != nil {
		return fmt.Errorf("failed to write proxy config: %w", err)
	}
	if ref.State != "running" {
		b.logger.Info("proxy config written, proxy not running", "container", ref.Name)
		return nil
	}
	if err := b.reload(ctx, ref.ID); err != nil {
		return err
	}
	b.logger.Info("proxy config synced", "projects", len(projects))
	return nil
}
