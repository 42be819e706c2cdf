package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort = 47800
)

// Config holds the peerctl configuration.
type Config struct {
	// Port is the port to host or join on.
	Port int `yaml:"port"`

	// Name is the display name shown to other players.
	Name string `yaml:"name"`

	// Peers are the datagram destinations.
	Peers []string `yaml:"peers"`

	// LocalAddr pins this devices LAN address. If empty it is looked up
	// from the network interfaces.
	LocalAddr string `yaml:"local_addr"`

	KeepAlive    time.Duration `yaml:"keep_alive"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MetricsAddr is the address to serve Prometheus metrics on. Metrics
	// are not served if empty.
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel    string `yaml:"log_level"`
	LogWithTime bool   `yaml:"log_with_time"`
}

// DefaultPath returns the default config file path: ~/.peerlink/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".peerlink", "config.yaml")
	}
	return filepath.Join(home, ".peerlink", "config.yaml")
}

func Default() *Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "player"
	}
	return &Config{
		Port:         DefaultPort,
		Name:         name,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		LogLevel:     "info",
	}
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns the default Config with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 0xffff {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.KeepAlive < 0 {
		return fmt.Errorf("keep_alive must not be negative")
	}
	return nil
}
