package certs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrUnsupportedPlatform is returned where no trust store installer exists.
var ErrUnsupportedPlatform = errors.New("certificate installation is not supported on this platform")

// Installer adds a certificate to the system trust store.
type Installer interface {
	Install(ctx context.Context, certPath string) error
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context, certPath string) error

// Install implements Installer.
func (f InstallerFunc) Install(ctx context.Context, certPath string) error { return f(ctx, certPath) }

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// PlatformInstaller returns the installer for the running OS.
func PlatformInstaller() Installer {
	return InstallerFor(runtime.GOOS, ExecRunner)
}

// InstallerFor returns the installer for goos using run.
func InstallerFor(goos string, run Runner) Installer {
	switch goos {
	case "windows":
		return &windowsInstaller{run: run}
	case "darwin":
		return &darwinInstaller{run: run}
	default:
		return InstallerFunc(func(context.Context, string) error { return ErrUnsupportedPlatform })
	}
}

type windowsInstaller struct {
	run Runner
}

// Install tries the user store first and retries elevated only when the
// first attempt was refused for lack of rights.
func (w *windowsInstaller) Install(ctx context.Context, certPath string) error {
	out, err := w.run(ctx, "certutil", "-user", "-addstore", "Root", certPath)
	if err == nil {
		return nil
	}
	if !accessDenied(out) {
		return fmt.Errorf("certutil failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	script := fmt.Sprintf("Start-Process certutil -ArgumentList '-addstore','Root','%s' -Verb RunAs -Wait", strings.ReplaceAll(certPath, "'", "''"))
	out, err = w.run(ctx, "powershell", "-NoProfile", "-Command", script)
	if err != nil {
		return fmt.Errorf("elevated certutil failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func accessDenied(out []byte) bool {
	s := strings.ToLower(string(out))
	return strings.Contains(s, "access is denied") || strings.Contains(s, "0x80070005")
}

type darwinInstaller struct {
	run Runner
}

// Install adds the certificate to the system keychain behind an
// administrator prompt.
func (d *darwinInstaller) Install(ctx context.Context, certPath string) error {
	shell := fmt.Sprintf("security add-trusted-cert -d -r trustRoot -k /Library/Keychains/System.keychain %q", certPath)
	script := fmt.Sprintf("do shell script %q with administrator privileges", shell)
	out, err := d.run(ctx, "osascript", "-e", script)
	if err != nil {
		return fmt.Errorf("security add-trusted-cert failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
