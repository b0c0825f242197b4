// Package daemon manages the pubd daemon lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/easypub/pubd/internal/domain"
)

// Config holds all daemon configuration.
type Config struct {
	Node        NodeConfig        `toml:"node"`
	HTTP        HTTPConfig        `toml:"http"`
	Replication ReplicationConfig `toml:"replication"`
	Discovery   DiscoveryConfig   `toml:"discovery"`
	Logging     LoggingConfig     `toml:"logging"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
}

// NodeConfig identifies this pub on the network.
type NodeConfig struct {
	// Host other pubs reach us at. Empty means the first non-loopback IPv4.
	Host string `toml:"host"`
}

// HTTPConfig controls the web responder other pubs fetch invitations from.
type HTTPConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ReplicationConfig describes the replication endpoint written into
// issued invitations.
type ReplicationConfig struct {
	Port       int    `toml:"port"`
	InviteUses int    `toml:"invite_uses"`
	InviteTTL  string `toml:"invite_ttl"`
}

// DiscoveryConfig controls LAN discovery and automatic federation.
type DiscoveryConfig struct {
	Enabled           bool   `toml:"enabled"`
	Port              int    `toml:"port"`
	MaxFederatedPeers int    `toml:"max_federated_peers"`
	RequestTimeout    string `toml:"request_timeout"`
	MaxInFlight       int    `toml:"max_in_flight"`
	ProbeInterval     string `toml:"probe_interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns the configuration of a stock pub.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: domain.DefaultHTTPPort,
		},
		Replication: ReplicationConfig{
			Port:       domain.DefaultReplicationPort,
			InviteUses: 1,
			InviteTTL:  "24h",
		},
		Discovery: DiscoveryConfig{
			Enabled:           true,
			Port:              domain.DefaultSwarmPort,
			MaxFederatedPeers: domain.DefaultMaxFederatedPeers,
			RequestTimeout:    "10s",
			MaxInFlight:       16,
			ProbeInterval:     "30s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from $PUBD_HOME/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(filepath.Join(pubdHome(), "config.toml"))
}

// LoadConfigFrom reads config from path, falling back to defaults when the
// file does not exist.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $PUBD_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(pubdHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	checkPort := func(name string, port int) {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range 1..65535", name, port))
		}
	}
	checkPort("http.port", c.HTTP.Port)
	checkPort("replication.port", c.Replication.Port)
	checkPort("discovery.port", c.Discovery.Port)

	if c.Replication.InviteUses <= 0 {
		errs = append(errs, errors.New("replication.invite_uses must be positive"))
	}
	if c.Discovery.MaxFederatedPeers <= 0 {
		errs = append(errs, errors.New("discovery.max_federated_peers must be positive"))
	}
	if c.Discovery.MaxInFlight <= 0 {
		errs = append(errs, errors.New("discovery.max_in_flight must be positive"))
	}
	for name, s := range map[string]string{
		"discovery.request_timeout": c.Discovery.RequestTimeout,
		"discovery.probe_interval":  c.Discovery.ProbeInterval,
		"replication.invite_ttl":    c.Replication.InviteTTL,
	} {
		if s == "" {
			continue
		}
		if d, err := time.ParseDuration(s); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s %q is not a positive duration", name, s))
		}
	}
	return errors.Join(errs...)
}

// pubdHome returns the pubd data directory.
func pubdHome() string {
	if env := os.Getenv("PUBD_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pubd")
}

// PubdHome is exported for use by other packages.
func PubdHome() string {
	return pubdHome()
}

// resolveHost returns the configured host, or the first non-loopback IPv4
// address of this machine.
func resolveHost(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("list interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "127.0.0.1", nil
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
