package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"portguard/filter"
	"portguard/fwebpf"
)

const (
	DefaultInterface = "lo"
	DefaultCgroup    = "/sys/fs/cgroup"
	DefaultLogLevel  = "info"
)

// Default returns a configuration with both filters disabled.
func Default() *Config {
	return &Config{
		Packet: PacketConfig{
			Interface: DefaultInterface,
			XDPMode:   string(fwebpf.XDPGeneric),
		},
		Socket: SocketConfig{
			Cgroup: DefaultCgroup,
		},
		BPFFS:    fwebpf.DefaultBPFFS,
		LogLevel: DefaultLogLevel,
	}
}

// LoadConfig reads and parses the YAML configuration file. Missing fields
// take their defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if cfg.Packet.Interface == "" {
		cfg.Packet.Interface = DefaultInterface
	}
	if cfg.Packet.XDPMode == "" {
		cfg.Packet.XDPMode = string(fwebpf.XDPGeneric)
	}
	if cfg.Socket.Cgroup == "" {
		cfg.Socket.Cgroup = DefaultCgroup
	}
	if cfg.BPFFS == "" {
		cfg.BPFFS = fwebpf.DefaultBPFFS
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be expressed in the YAML types.
func (c *Config) Validate() error {
	if _, err := fwebpf.ParseXDPMode(c.Packet.XDPMode); err != nil {
		return fmt.Errorf("packet.xdp_mode: %w", err)
	}
	if _, err := c.ProcessRule(); err != nil {
		return fmt.Errorf("socket.process: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if !filepath.IsAbs(c.BPFFS) {
		return fmt.Errorf("bpffs: %q is not an absolute path", c.BPFFS)
	}
	return nil
}

// PinDir is the directory holding the pinned maps and links.
func (c *Config) PinDir() string {
	return filepath.Join(c.BPFFS, fwebpf.PinDirName)
}

// PortRule is the packet filter record for this configuration.
func (c *Config) PortRule() filter.PortRule {
	return filter.PortRule{Port: c.Packet.Port}
}

// ProcessRule is the socket filter record for this configuration.
func (c *Config) ProcessRule() (filter.ProcessPortRule, error) {
	return filter.NewProcessPortRule(c.Socket.Process, c.Socket.AllowedPort)
}
