// Package certs drives the reverse proxy through local certificate
// generation and hands the resulting root certificate to the operating
// system trust store.
package certs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/models"
)

// FlagCertificateInstalled is set once the root certificate was trusted.
const FlagCertificateInstalled = "certificate-installed"

// ErrCertTimeout means the proxy never produced its root certificate.
var ErrCertTimeout = errors.New("timed out waiting for root certificate")

// FlagStore persists the certificate installed flag.
type FlagStore interface {
	Flag(key string) bool
	SetFlag(key string, value bool) error
}

// Options configures the bootstrap sequence.
type Options struct {
	// Domain is the local domain the bootstrap config requests a cert for.
	Domain string
	// CaddyfilePath is the config path inside the proxy container.
	CaddyfilePath string
	// RootCertPath is where the proxy writes its local CA certificate.
	RootCertPath string
	// OutputDir receives the extracted certificate on the host.
	OutputDir    string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// DefaultOptions matches the stock caddy image layout.
func DefaultOptions() Options {
	return Options{
		Domain:        "damp.local",
		CaddyfilePath: "/etc/caddy/Caddyfile",
		RootCertPath:  "/data/caddy/pki/authorities/local/root.crt",
		OutputDir:     filepath.Join(os.TempDir(), "damp"),
		PollInterval:  time.Second,
		PollTimeout:   30 * time.Second,
	}
}

// Result reports how far the sequence got. Success with Installed false
// is a partial success: the proxy serves HTTPS but the system does not
// trust its certificates yet.
type Result struct {
	Success         bool   `json:"success"`
	ProxyConfigured bool   `json:"proxy_configured"`
	CertExtracted   bool   `json:"cert_extracted"`
	Installed       bool   `json:"installed"`
	InstallError    string `json:"install_error,omitempty"`
	CertPath        string `json:"cert_path,omitempty"`
}

// Bootstrapper runs the certificate sequence against the proxy container.
type Bootstrapper struct {
	docker    *docker.Manager
	installer Installer
	flags     FlagStore
	opts      Options
	logger    *slog.Logger
}

// NewBootstrapper creates a Bootstrapper. Zero option fields use defaults.
func NewBootstrapper(dm *docker.Manager, installer Installer, flags FlagStore, opts Options, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.Domain == "" {
		opts.Domain = def.Domain
	}
	if opts.CaddyfilePath == "" {
		opts.CaddyfilePath = def.CaddyfilePath
	}
	if opts.RootCertPath == "" {
		opts.RootCertPath = def.RootCertPath
	}
	if opts.OutputDir == "" {
		opts.OutputDir = def.OutputDir
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = def.PollTimeout
	}
	return &Bootstrapper{
		docker:    dm,
		installer: installer,
		flags:     flags,
		opts:      opts,
		logger:    logger.With("component", "certs"),
	}
}

// Installed reports whether the root certificate was trusted before.
func (b *Bootstrapper) Installed() bool {
	return b.flags != nil && b.flags.Flag(FlagCertificateInstalled)
}

// PostInstall runs the sequence as the proxy service's post-install hook.
func (b *Bootstrapper) PostInstall(ctx context.Context, def *models.ServiceDefinition, containerID string) error {
	res, err := b.Run(ctx, containerID)
	if err != nil {
		return err
	}
	if !res.Installed {
		b.logger.Warn("root certificate not trusted by the system", "cert", res.CertPath, "error", res.InstallError)
	}
	return nil
}

// Run executes write config, format, reload, wait for the root certificate,
// extract and install. Failures before extraction end the sequence with an
// error. An install failure after extraction is a partial success.
func (b *Bootstrapper) Run(ctx context.Context, ref string) (*Result, error) {
	res := &Result{}

	if err := b.docker.PutFile(ctx, ref, b.opts.CaddyfilePath, []byte(BootstrapCaddyfile(b.opts.Domain)), 0o644); err != nil {
		return res, fmt.Errorf("failed to write bootstrap config: %w", err)
	}
	if _, err := b.docker.ExecChecked(ctx, ref, []string{"caddy", "fmt", "--overwrite", b.opts.CaddyfilePath}, docker.ExecOptions{}); err != nil {
		return res, fmt.Errorf("failed to format proxy config: %w", err)
	}
	if err := b.reload(ctx, ref); err != nil {
		return res, err
	}
	res.ProxyConfigured = true

	cert, err := b.waitForCert(ctx, ref)
	if err != nil {
		return res, err
	}

	if err := os.MkdirAll(b.opts.OutputDir, 0o755); err != nil {
		return res, fmt.Errorf("failed to create %s: %w", b.opts.OutputDir, err)
	}
	certPath := filepath.Join(b.opts.OutputDir, "damp-root.crt")
	if err := os.WriteFile(certPath, cert, 0o644); err != nil {
		return res, fmt.Errorf("failed to save root certificate: %w", err)
	}
	res.CertExtracted = true
	res.CertPath = certPath
	res.Success = true

	if b.installer == nil {
		res.InstallError = ErrUnsupportedPlatform.Error()
		return res, nil
	}
	if err := b.installer.Install(ctx, certPath); err != nil {
		b.logger.Warn("failed to install root certificate", "cert", certPath, "error", err)
		res.InstallError = err.Error()
		return res, nil
	}
	res.Installed = true

	if b.flags != nil {
		if err := b.flags.SetFlag(FlagCertificateInstalled, true); err != nil {
			b.logger.Warn("failed to persist certificate flag", "error", err)
		}
	}
	b.logger.Info("root certificate installed", "cert", certPath)
	return res, nil
}

func (b *Bootstrapper) reload(ctx context.Context, ref string) error {
	cmd := []string{"caddy", "reload", "--config", b.opts.CaddyfilePath, "--adapter", "caddyfile"}
	if _, err := b.docker.ExecChecked(ctx, ref, cmd, docker.ExecOptions{}); err != nil {
		return fmt.Errorf("failed to reload proxy: %w", err)
	}
	return nil
}

// waitForCert polls at a fixed interval until the root certificate appears
// or the poll timeout elapses.
func (b *Bootstrapper) waitForCert(ctx context.Context, ref string) ([]byte, error) {
	deadline := time.NewTimer(b.opts.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		data, err := b.docker.GetFile(ctx, ref, b.opts.RootCertPath)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			if lastErr != nil {
				return nil, fmt.Errorf("%w after %s: %v", ErrCertTimeout, b.opts.PollTimeout, lastErr)
			}
			return nil, fmt.Errorf("%w after %s", ErrCertTimeout, b.opts.PollTimeout)
		case <-ticker.C:
		}
	}
}
