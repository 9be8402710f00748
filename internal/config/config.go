// Package config provides configuration management for DAMP.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with DAMP_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./damp.yaml, ./configs/damp.yaml, ~/.damp/damp.yaml)
//  3. .env files
//  4. Environment variables (DAMP_ prefix)
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("Network: %s\n", cfg.Docker.Network)
//
// # Environment Variables
//
// Use the DAMP_ prefix and underscores for nested keys:
//   - DAMP_SERVER_PORT=8095
//   - DAMP_DOCKER_NETWORK=damp-network
//   - DAMP_LOGGING_LEVEL=debug
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for DAMP.
type Config struct {
	Docker   DockerConfig   `mapstructure:"docker" yaml:"docker"`
	Ports    PortsConfig    `mapstructure:"ports" yaml:"ports"`
	Projects ProjectsConfig `mapstructure:"projects" yaml:"projects"`
	Hosts    HostsConfig    `mapstructure:"hosts" yaml:"hosts"`
	Certs    CertsConfig    `mapstructure:"certs" yaml:"certs"`
	Events   EventsConfig   `mapstructure:"events" yaml:"events"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// DockerConfig contains daemon connection and lifecycle settings.
type DockerConfig struct {
	// Host overrides DOCKER_HOST when set
	Host string `mapstructure:"host" yaml:"host"`

	// Network is the shared bridge network every managed container joins
	Network string `mapstructure:"network" yaml:"network"`

	StopTimeout  time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	WaitTimeout  time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	WaitInterval time.Duration `mapstructure:"wait_interval" yaml:"wait_interval"`

	// PullMaxAge is how old a floating tag may get before it is pulled again
	PullMaxAge time.Duration `mapstructure:"pull_max_age" yaml:"pull_max_age"`

	// MaxArchiveSize bounds single file copies out of containers, in bytes
	MaxArchiveSize int64 `mapstructure:"max_archive_size" yaml:"max_archive_size"`

	// HelperImage runs folder sync helpers
	HelperImage string `mapstructure:"helper_image" yaml:"helper_image"`
}

// PortsConfig controls host port resolution.
type PortsConfig struct {
	// Host is the interface probed for free ports
	Host string `mapstructure:"host" yaml:"host"`

	// ScanLimit is how many ports above the desired one are tried
	ScanLimit int `mapstructure:"scan_limit" yaml:"scan_limit"`

	DynamicStart int `mapstructure:"dynamic_start" yaml:"dynamic_start"`
	DynamicEnd   int `mapstructure:"dynamic_end" yaml:"dynamic_end"`
}

// ProjectsConfig controls project layout.
type ProjectsConfig struct {
	RootDir      string `mapstructure:"root_dir" yaml:"root_dir"`
	DomainSuffix string `mapstructure:"domain_suffix" yaml:"domain_suffix"`
	VolumePrefix string `mapstructure:"volume_prefix" yaml:"volume_prefix"`
	BaseImage    string `mapstructure:"base_image" yaml:"base_image"`
}

// HostsConfig locates the hosts file.
type HostsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
	IP   string `mapstructure:"ip" yaml:"ip"`
}

// CertsConfig tunes the certificate bootstrap.
type CertsConfig struct {
	BootstrapDomain string        `mapstructure:"bootstrap_domain" yaml:"bootstrap_domain"`
	RootCertPath    string        `mapstructure:"root_cert_path" yaml:"root_cert_path"`
	OutputDir       string        `mapstructure:"output_dir" yaml:"output_dir"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
}

// EventsConfig tunes the event monitor reconnect loop.
type EventsConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	BaseDelay    time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	StableAfter  time.Duration `mapstructure:"stable_after" yaml:"stable_after"`
	Jitter       float64       `mapstructure:"jitter" yaml:"jitter"`
}

// StorageConfig locates persisted state.
type StorageConfig struct {
	// StateFile holds projects, installed services, pull times and flags
	StateFile string `mapstructure:"state_file" yaml:"state_file"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 127.0.0.1)
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the server listen port (default: 8095)
	Port int `mapstructure:"port" yaml:"port"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format" yaml:"format"`

	// Output is stdout, stderr or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultDir is the per-user DAMP directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".damp"
	}
	return filepath.Join(home, ".damp")
}

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for damp.yaml in standard locations.
// A missing file is not an error; defaults apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("damp")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath(DefaultDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // .env is optional

	v.SetEnvPrefix("DAMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any source.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	dir := DefaultDir()
	home, _ := os.UserHomeDir()

	v.SetDefault("docker.host", "")
	v.SetDefault("docker.network", "damp-network")
	v.SetDefault("docker.stop_timeout", "10s")
	v.SetDefault("docker.ping_timeout", "5s")
	v.SetDefault("docker.wait_timeout", "60s")
	v.SetDefault("docker.wait_interval", "500ms")
	v.SetDefault("docker.pull_max_age", "168h") // 7 days
	v.SetDefault("docker.max_archive_size", 50<<20)
	v.SetDefault("docker.helper_image", "alpine:3.20")

	v.SetDefault("ports.host", "127.0.0.1")
	v.SetDefault("ports.scan_limit", 100)
	v.SetDefault("ports.dynamic_start", 49152)
	v.SetDefault("ports.dynamic_end", 65535)

	v.SetDefault("projects.root_dir", filepath.Join(home, "damp-projects"))
	v.SetDefault("projects.domain_suffix", ".local")
	v.SetDefault("projects.volume_prefix", "damp_project_")
	v.SetDefault("projects.base_image", "php:%s-apache")

	v.SetDefault("hosts.file", "")
	v.SetDefault("hosts.ip", "127.0.0.1")

	v.SetDefault("certs.bootstrap_domain", "damp.local")
	v.SetDefault("certs.root_cert_path", "/data/caddy/pki/authorities/local/root.crt")
	v.SetDefault("certs.output_dir", filepath.Join(dir, "certs"))
	v.SetDefault("certs.poll_interval", "1s")
	v.SetDefault("certs.poll_timeout", "30s")

	v.SetDefault("events.ping_interval", "30s")
	v.SetDefault("events.base_delay", "1s")
	v.SetDefault("events.max_delay", "64s")
	v.SetDefault("events.stable_after", "1s")
	v.SetDefault("events.jitter", 0.2)

	v.SetDefault("storage.state_file", filepath.Join(dir, "state.yaml"))

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.allowed_origins", []string{"http://localhost", "http://127.0.0.1"})
	v.SetDefault("server.debug", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Docker.Network == "" {
		return fmt.Errorf("docker network name is required")
	}

	if cfg.Ports.DynamicStart < 1 || cfg.Ports.DynamicEnd > 65535 || cfg.Ports.DynamicStart > cfg.Ports.DynamicEnd {
		return fmt.Errorf("invalid dynamic port range: %d-%d", cfg.Ports.DynamicStart, cfg.Ports.DynamicEnd)
	}

	if cfg.Ports.ScanLimit < 0 {
		return fmt.Errorf("invalid port scan limit: %d", cfg.Ports.ScanLimit)
	}

	if cfg.Events.Jitter < 0 || cfg.Events.Jitter >= 1 {
		return fmt.Errorf("events jitter must be in [0, 1): %v", cfg.Events.Jitter)
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	return nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
