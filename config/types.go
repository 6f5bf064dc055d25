package config

// PacketConfig configures the XDP port filter.
type PacketConfig struct {
	Interface string `yaml:"interface"`
	XDPMode   string `yaml:"xdp_mode"`
	// Port is dropped as TCP source or destination. 0 disables the filter.
	Port uint16 `yaml:"port"`
}

// SocketConfig configures the per-process connect/bind filter.
type SocketConfig struct {
	Cgroup string `yaml:"cgroup"`
	// Process is matched against the task command name. Empty disables the
	// filter.
	Process     string `yaml:"process"`
	AllowedPort uint16 `yaml:"allowed_port"`
}

// Config is the top-level configuration file.
type Config struct {
	Packet      PacketConfig `yaml:"packet"`
	Socket      SocketConfig `yaml:"socket"`
	BPFFS       string       `yaml:"bpffs"`
	LogLevel    string       `yaml:"log_level"`
	MetricsAddr string       `yaml:"metrics_addr,omitempty"`
}
