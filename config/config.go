// Package config loads participant host configuration from a file and BENOR_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
	"github.com/VanDung-dev/BenOr-Engine/logging"
	"github.com/VanDung-dev/BenOr-Engine/network"
)

// EnvPrefix is the environment override prefix, e.g. BENOR_NODE_ID.
const EnvPrefix = "BENOR"

// Transport kinds.
const (
	TransportHTTP = "http"
	TransportZMQ  = "zmq"
	TransportGRPC = "grpc"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// NodeConfig is the participant identity and initial value.
type NodeConfig struct {
	ID           int  `mapstructure:"id"`
	N            int  `mapstructure:"n"`
	F            int  `mapstructure:"f"`
	InitialValue int  `mapstructure:"initial_value"`
	Faulty       bool `mapstructure:"faulty"`
}

// TransportConfig selects and tunes the peer transport.
type TransportConfig struct {
	Kind        string        `mapstructure:"kind"`
	Listen      string        `mapstructure:"listen"`
	QueueSize   int           `mapstructure:"queue_size"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// ControlConfig configures the control API.
type ControlConfig struct {
	Listen    string `mapstructure:"listen"`
	AuthToken string `mapstructure:"auth_token"`
}

// TimingConfig mirrors consensus.Timing.
type TimingConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	QuorumTimeout time.Duration `mapstructure:"quorum_timeout"`
	PacingDelay   time.Duration `mapstructure:"pacing_delay"`
}

// Config is the full participant host configuration.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Peers     []string        `mapstructure:"peers"`
	Transport TransportConfig `mapstructure:"transport"`
	Control   ControlConfig   `mapstructure:"control"`
	Timing    TimingConfig    `mapstructure:"timing"`
	Logging   logging.Config  `mapstructure:"logging"`
}

// Default returns a single-participant configuration with default timing.
func Default() *Config {
	timing := consensus.DefaultTiming()
	return &Config{
		Node: NodeConfig{N: 1},
		Transport: TransportConfig{
			Kind:        TransportHTTP,
			QueueSize:   1000,
			SendTimeout: time.Second,
		},
		Control: ControlConfig{
			Listen: "127.0.0.1:3000",
		},
		Timing: TimingConfig{
			PollInterval:  timing.PollInterval,
			QuorumTimeout: timing.QuorumTimeout,
			PacingDelay:   timing.PacingDelay,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("node.id", d.Node.ID)
	v.SetDefault("node.n", d.Node.N)
	v.SetDefault("node.f", d.Node.F)
	v.SetDefault("node.initial_value", d.Node.InitialValue)
	v.SetDefault("node.faulty", d.Node.Faulty)
	v.SetDefault("peers", []string{})
	v.SetDefault("transport.kind", d.Transport.Kind)
	v.SetDefault("transport.listen", d.Transport.Listen)
	v.SetDefault("transport.queue_size", d.Transport.QueueSize)
	v.SetDefault("transport.send_timeout", d.Transport.SendTimeout)
	v.SetDefault("control.listen", d.Control.Listen)
	v.SetDefault("control.auth_token", d.Control.AuthToken)
	v.SetDefault("timing.poll_interval", d.Timing.PollInterval)
	v.SetDefault("timing.quorum_timeout", d.Timing.QuorumTimeout)
	v.SetDefault("timing.pacing_delay", d.Timing.PacingDelay)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// New returns a viper instance with defaults and BENOR_* environment overrides.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (any format viper supports, may be empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent identities, peer tables and timings.
func (c *Config) Validate() error {
	if err := c.Identity().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !c.Node.Faulty && c.Node.InitialValue != 0 && c.Node.InitialValue != 1 {
		return fmt.Errorf("%w: node.initial_value must be 0 or 1, got %d", ErrInvalidConfig, c.Node.InitialValue)
	}
	if (c.Node.N > 1 || len(c.Peers) > 0) && len(c.Peers) != c.Node.N {
		return fmt.Errorf("%w: %d peers listed for n=%d", ErrInvalidConfig, len(c.Peers), c.Node.N)
	}
	for i, addr := range c.Peers {
		if i != c.Node.ID && addr == "" {
			return fmt.Errorf("%w: empty address for peer %d", ErrInvalidConfig, i)
		}
	}

	switch c.Transport.Kind {
	case TransportHTTP, TransportZMQ, TransportGRPC:
	default:
		return fmt.Errorf("%w: unknown transport kind %q", ErrInvalidConfig, c.Transport.Kind)
	}
	if c.Transport.QueueSize <= 0 {
		return fmt.Errorf("%w: transport.queue_size must be positive", ErrInvalidConfig)
	}
	if c.Transport.SendTimeout < 0 {
		return fmt.Errorf("%w: transport.send_timeout must not be negative", ErrInvalidConfig)
	}

	if c.Timing.PollInterval <= 0 {
		return fmt.Errorf("%w: timing.poll_interval must be positive", ErrInvalidConfig)
	}
	if c.Timing.QuorumTimeout < 0 || c.Timing.PacingDelay < 0 {
		return fmt.Errorf("%w: timing durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Identity returns the participant identity.
func (c *Config) Identity() consensus.Identity {
	return consensus.Identity{
		ID:     c.Node.ID,
		N:      c.Node.N,
		F:      c.Node.F,
		Faulty: c.Node.Faulty,
	}
}

// InitialValue returns the configured initial value, Unset for faulty participants.
func (c *Config) InitialValue() consensus.Value {
	if c.Node.Faulty {
		return consensus.Unset
	}
	v, err := consensus.BinaryValue(c.Node.InitialValue)
	if err != nil {
		return consensus.Unset
	}
	return v
}

// PeerTable returns the peer addresses indexed by participant id.
func (c *Config) PeerTable() network.PeerTable {
	if len(c.Peers) == 0 {
		return make(network.PeerTable, c.Node.N)
	}
	return network.PeerTable(c.Peers)
}

// ConsensusTiming returns the round timing.
func (c *Config) ConsensusTiming() consensus.Timing {
	return consensus.Timing{
		PollInterval:  c.Timing.PollInterval,
		QuorumTimeout: c.Timing.QuorumTimeout,
		PacingDelay:   c.Timing.PacingDelay,
	}
}
