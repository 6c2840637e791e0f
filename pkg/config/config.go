// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tsgd/tsgd/pkg/types"
)

// CurrentVersion is the only supported config version
const CurrentVersion = "1.0"

// Config is the daemon configuration
type Config struct {
	Version          string         `json:"version"`
	Platform         types.Platform `json:"platform"`
	PreemptTimeoutMs int            `json:"preemptTimeoutMs"`
	StateDir         string         `json:"stateDir"`
	HeartbeatMs      int            `json:"heartbeatMs"`
	Log              LogConfig      `json:"log"`
	Server           ServerConfig   `json:"server"`
	Remote           *RemoteConfig  `json:"remote,omitempty"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file,omitempty"`
}

// ServerConfig configures the HTTP control surface
type ServerConfig struct {
	Addr string `json:"addr"`
}

// RemoteConfig makes the daemon forward binds to a host scheduler. Guest
// names this daemon to the host; a random id is used when it is empty.
type RemoteConfig struct {
	Endpoint  string `json:"endpoint"`
	Guest     string `json:"guest,omitempty"`
	TimeoutMs int    `json:"timeoutMs"`
}

// PreemptTimeout returns the preemption timeout as a duration
func (c *Config) PreemptTimeout() time.Duration {
	return time.Duration(c.PreemptTimeoutMs) * time.Millisecond
}

// Heartbeat returns the state heartbeat interval
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMs) * time.Millisecond
}

// Timeout returns the remote request timeout
func (r *RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads configuration from a JSON or YAML file. Fields missing
// from the file keep their defaults.
func (m *Manager) LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := m.GetDefaultConfig()

	// Try JSON first
	if err := json.Unmarshal(data, cfg); err == nil {
		return m.validateConfig(cfg)
	}

	// YAML goes through JSON so both formats share one set of field names
	var yamlData map[string]interface{}
	if err := yaml.Unmarshal(data, &yamlData); err == nil && yamlData != nil {
		jsonData, err := json.Marshal(yamlData)
		if err == nil {
			if err := json.Unmarshal(jsonData, cfg); err == nil {
				return m.validateConfig(cfg)
			}
		}
	}

	return nil, fmt.Errorf("failed to parse config as JSON or YAML")
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *Config) error {
	if cfg.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}

	if err := validatePlatform(cfg.Platform); err != nil {
		return fmt.Errorf("platform: %w", err)
	}

	if cfg.PreemptTimeoutMs < 0 {
		return fmt.Errorf("preemptTimeoutMs must not be negative")
	}
	if cfg.HeartbeatMs < 0 {
		return fmt.Errorf("heartbeatMs must not be negative")
	}

	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if cfg.Server.Addr == "" {
		return fmt.Errorf("server: missing addr")
	}

	if cfg.Remote != nil {
		u, err := url.Parse(cfg.Remote.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("remote: invalid endpoint %q", cfg.Remote.Endpoint)
		}
		if cfg.Remote.TimeoutMs <= 0 {
			return fmt.Errorf("remote: timeoutMs must be positive")
		}
	}

	return nil
}

func validatePlatform(p types.Platform) error {
	switch {
	case p.NumTSGs == 0:
		return fmt.Errorf("numTsgs must be positive")
	case p.NumChannels == 0:
		return fmt.Errorf("numChannels must be positive")
	case p.NumRunlists == 0:
		return fmt.Errorf("numRunlists must be positive")
	case p.NumPBDMA == 0:
		return fmt.Errorf("numPbdma must be positive")
	case p.PageSize == 0 || p.PageSize&(p.PageSize-1) != 0:
		return fmt.Errorf("pageSize %d is not a power of two", p.PageSize)
	case p.MaxSubctxCount == 0:
		return fmt.Errorf("maxSubctxCount must be positive")
	case p.NumSM == 0:
		return fmt.Errorf("numSm must be positive")
	case p.FastCERunlistID >= p.NumRunlists:
		return fmt.Errorf("fastCeRunlistId %d out of range (%d runlists)", p.FastCERunlistID, p.NumRunlists)
	}
	return nil
}

// GetDefaultConfig returns a configuration modelled on a Volta-class GPU
func (m *Manager) GetDefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Platform: types.Platform{
			NumTSGs:         64,
			NumChannels:     512,
			NumRunlists:     4,
			NumPBDMA:        3,
			NumPCE:          2,
			PageSize:        4096,
			MaxSubctxCount:  64,
			MaxTPCCount:     4,
			NumSM:           8,
			FastCERunlistID: 2,
		},
		PreemptTimeoutMs: 3000,
		StateDir:         ".tsgd",
		HeartbeatMs:      10000,
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7070",
		},
	}
}

func (m *Manager) validateConfig(cfg *Config) (*Config, error) {
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
