// Package config loads server configuration from an optional YAML file
// and environment overrides, and resolves host aliases through the user's
// ssh_config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/hoistdev/hoist/internal/session"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30m" or "10s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds everything the server reads at startup.
type Config struct {
	// KeyDir overrides the directory scanned during key discovery.
	KeyDir string `yaml:"keyDir"`

	// StrictHostKeys switches host-key verification to strict mode.
	StrictHostKeys bool `yaml:"strictHostKeys"`

	// KnownHostsPath overrides the known-hosts file in strict mode.
	KnownHostsPath string `yaml:"knownHostsPath"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `yaml:"logLevel"`

	// MaxSessions caps the session table.
	MaxSessions int `yaml:"maxSessions"`

	// DefaultTTL is the session lifetime when the caller sets none.
	DefaultTTL Duration `yaml:"defaultTtl"`

	// ConnectTimeout is the default dial bound.
	ConnectTimeout Duration `yaml:"connectTimeout"`

	// SweepInterval is the expiry sweep period.
	SweepInterval Duration `yaml:"sweepInterval"`

	// SSHConfigPath points at an ssh_config file for host-alias
	// resolution. Empty uses the standard user and system files.
	SSHConfigPath string `yaml:"sshConfigPath"`
}

// Default returns the stock configuration.
func Default() Config {
	sc := session.DefaultConfig()
	return Config{
		LogLevel:       "info",
		MaxSessions:    sc.Capacity,
		DefaultTTL:     Duration(sc.DefaultTTL),
		ConnectTimeout: Duration(sc.DefaultConnectTimeout),
		SweepInterval:  Duration(sc.SweepInterval),
	}
}

// Load reads the YAML file at path (skipped when path is empty or the
// file does not exist) and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv layers HOIST_* environment variables over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("HOIST_KEY_DIR"); v != "" {
		c.KeyDir = v
	}
	if v := os.Getenv("HOIST_STRICT_HOST_KEYS"); v != "" {
		c.StrictHostKeys = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("HOIST_KNOWN_HOSTS"); v != "" {
		c.KnownHostsPath = v
	}
	if v := os.Getenv("HOIST_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("HOIST_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxSessions = n
		}
	}
	if v := os.Getenv("HOIST_DEFAULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DefaultTTL = Duration(d)
		}
	}
	if v := os.Getenv("HOIST_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ConnectTimeout = Duration(d)
		}
	}
	if v := os.Getenv("HOIST_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SweepInterval = Duration(d)
		}
	}
	if v := os.Getenv("HOIST_SSH_CONFIG"); v != "" {
		c.SSHConfigPath = v
	}
}

// SessionConfig converts to the manager's tuning.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Capacity:              c.MaxSessions,
		DefaultTTL:            time.Duration(c.DefaultTTL),
		DefaultConnectTimeout: time.Duration(c.ConnectTimeout),
		SweepInterval:         time.Duration(c.SweepInterval),
	}
}

// Logger builds the process logger at the configured level.
func (c Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// HostAlias is the resolved form of an ssh_config Host block.
type HostAlias struct {
	HostName string
	Port     int
	User     string
	KeyPath  string
}

// ResolveHost looks alias up in ssh_config. Unset fields stay zero so the
// caller's explicit values win.
func (c Config) ResolveHost(alias string) HostAlias {
	get := func(key string) string {
		return ssh_config.Get(alias, key)
	}

	if c.SSHConfigPath != "" {
		f, err := os.Open(c.SSHConfigPath)
		if err == nil {
			defer f.Close()
			if parsed, err := ssh_config.Decode(f); err == nil {
				get = func(key string) string {
					v, _ := parsed.Get(alias, key)
					return v
				}
			}
		}
	}

	resolved := HostAlias{
		HostName: get("HostName"),
		User:     get("User"),
		KeyPath:  get("IdentityFile"),
	}
	if p := get("Port"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			resolved.Port = n
		}
	}

	// ssh_config returns the alias itself as a default HostName and a
	// stock default IdentityFile; treat both as unset so explicit caller
	// values survive.
	if resolved.HostName == alias {
		resolved.HostName = ""
	}
	if resolved.KeyPath == ssh_config.Default("IdentityFile") {
		resolved.KeyPath = ""
	}
	if strings.HasPrefix(resolved.KeyPath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			resolved.KeyPath = filepath.Join(home, resolved.KeyPath[2:])
		}
	}
	return resolved
}
