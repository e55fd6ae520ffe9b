// Package config holds the transport and CLI configuration types.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Role represents which side of the transport a process plays. The empty
// role leaves the choice to the user at startup.
type Role string

const (
	RoleServer Role = "server"
	RoleRemote Role = "remote"
	RoleBoth   Role = "both"
)

// Discovery selects how a remote finds a LAN server.
type Discovery string

const (
	DiscoveryBroadcast Discovery = "broadcast"
	DiscoveryMDNS      Discovery = "mdns"
)

// Defaults inherited from the engine's networking layer.
const (
	DefaultPort              = 8080
	DefaultDiscoveryPort     = 15000
	DefaultBroadcastInterval = time.Second
	DefaultDiscoveryTimeout  = 10 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultRecvBufferSize    = 1024 * 1024
	DefaultSendQueueSize     = 1024
	DefaultTickRate          = 20
)

// Config stores every tunable of a socket and the CLI host around it.
type Config struct {
	Role              Role          `yaml:"role"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	WebSocketPort     int           `yaml:"websocket_port"` // 0 disables the WebSocket listener
	Discovery         Discovery     `yaml:"discovery"`
	DiscoveryPort     int           `yaml:"discovery_port"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	RecvBufferSize    int           `yaml:"recv_buffer_size"`
	SendQueueSize     int           `yaml:"send_queue_size"`
	TickRate          int           `yaml:"tick_rate"` // host application frames per second
	Debug             bool          `yaml:"debug"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Host:              "127.0.0.1",
		Port:              DefaultPort,
		Discovery:         DiscoveryBroadcast,
		DiscoveryPort:     DefaultDiscoveryPort,
		BroadcastInterval: DefaultBroadcastInterval,
		DiscoveryTimeout:  DefaultDiscoveryTimeout,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		RecvBufferSize:    DefaultRecvBufferSize,
		SendQueueSize:     DefaultSendQueueSize,
		TickRate:          DefaultTickRate,
	}
}

// DefaultPath returns the default config file path: ~/.fluxnet/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".fluxnet", "config.yaml")
	}
	return filepath.Join(home, ".fluxnet", "config.yaml")
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns the defaults with no error.
// Fields missing from the file keep their default values.
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
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the transport cannot run with.
func (c *Config) Validate() error {
	switch c.Role {
	case "", RoleServer, RoleRemote, RoleBoth:
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}
	switch c.Discovery {
	case DiscoveryBroadcast, DiscoveryMDNS:
	default:
		return fmt.Errorf("unknown discovery method %q", c.Discovery)
	}
	for name, p := range map[string]int{
		"port":           c.Port,
		"websocket_port": c.WebSocketPort,
		"discovery_port": c.DiscoveryPort,
	} {
		if p < 0 || p > 65535 {
			return fmt.Errorf("%s must be 0~65535, got %d", name, p)
		}
	}
	if c.BroadcastInterval <= 0 || c.DiscoveryTimeout <= 0 || c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("intervals and timeouts must be positive")
	}
	if c.RecvBufferSize < 64*1024 {
		return fmt.Errorf("recv_buffer_size must be at least 65536, got %d", c.RecvBufferSize)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("send_queue_size must be positive, got %d", c.SendQueueSize)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("tick_rate must be positive, got %d", c.TickRate)
	}
	return nil
}
