// Package hostsfile maintains project domains in a marked block of the
// system hosts file.
package hostsfile

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
)

const (
	beginMarker = "# BEGIN DAMP"
	endMarker   = "# END DAMP"
)

// DefaultPath returns the hosts file of the running platform.
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		return `C:\Windows\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

// Manager edits the DAMP block. Lines outside the block are never touched.
type Manager struct {
	path   string
	ip     string
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a Manager for path mapping domains to ip.
func New(path, ip string, logger *slog.Logger) *Manager {
	if path == "" {
		path = DefaultPath()
	}
	if ip == "" {
		ip = "127.0.0.1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{path: path, ip: ip, logger: logger.With("component", "hostsfile")}
}

// Add maps every domain to the configured IP.
func (m *Manager) Add(domains ...string) error {
	return m.update(func(current []string) []string {
		for _, d := range domains {
			d = strings.ToLower(strings.TrimSpace(d))
			if d != "" && !slices.Contains(current, d) {
				current = append(current, d)
			}
		}
		return current
	})
}

// Remove unmaps every domain.
func (m *Manager) Remove(domains ...string) error {
	return m.update(func(current []string) []string {
		return slices.DeleteFunc(current, func(d string) bool {
			return slices.Contains(domains, d)
		})
	})
}

// Domains returns the domains currently in the block.
func (m *Manager) Domains() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.read()
	if err != nil {
		return nil, err
	}
	_, domains, _ := split(data)
	return domains, nil
}

func (m *Manager) read() ([]byte, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read hosts file %s: %w", m.path, err)
	}
	return data, nil
}

func (m *Manager) update(fn func([]string) []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.read()
	if err != nil {
		return err
	}
	before, domains, after := split(data)
	domains = fn(domains)

	var buf bytes.Buffer
	for _, l := range before {
		buf.WriteString(l + "\n")
	}
	if len(domains) > 0 {
		buf.WriteString(beginMarker + "\n")
		for _, d := range domains {
			fmt.Fprintf(&buf, "%s\t%s\n", m.ip, d)
		}
		buf.WriteString(endMarker + "\n")
	}
	for _, l := range after {
		buf.WriteString(l + "\n")
	}

	if err := os.WriteFile(m.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write hosts file %s: %w", m.path, err)
	}
	m.logger.Debug("hosts file updated", "path", m.path, "domains", len(domains))
	return nil
}

// split separates the lines before the block, the block's domains and the
// lines after it.
func split(data []byte) (before, domains, after []string) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	state := 0
	for sc.Scan() {
		line := sc.Text()
		switch {
		case state == 0 && strings.TrimSpace(line) == beginMarker:
			state = 1
		case state == 1 && strings.TrimSpace(line) == endMarker:
			state = 2
		case state == 1:
			fields := strings.Fields(line)
			if len(fields) >= 2 && !strings.HasPrefix(fields[0], "#") {
				domains = append(domains, fields[1:]...)
			}
		case state == 0:
			before = append(before, line)
		default:
			after = append(after, line)
		}
	}
	return before, domains, after
}
