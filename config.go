package slingshot

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/network/discovery"
	"github.com/linchenxuan/slingshot/network/session"
	"github.com/linchenxuan/slingshot/plugin"
)

// Config is the application config file.
// Each section maps to one TOML table; missing tables keep their defaults.
type Config struct {
	Log       log.LogCfg      `mapstructure:"log"`       // Logger level and appenders
	Player    PlayerConfig    `mapstructure:"player"`    // Local identity
	Session   session.Config  `mapstructure:"session"`   // Peer limits and transport tuning
	Discovery DiscoveryConfig `mapstructure:"discovery"` // Publishing and finding games
	// Plugin holds the raw [plugin.<type>.<name>] tables.
	Plugin map[string]any `mapstructure:"plugin"`
}

// PlayerConfig names the local participant. An empty ID generates a fresh identity.
type PlayerConfig struct {
	Name string `mapstructure:"name"` // Display name shown to other peers
	ID   string `mapstructure:"id"`   // UUID string; stable across runs when set
}

// DiscoveryConfig selects how games are published and found.
type DiscoveryConfig struct {
	// AppID must match between peers; other games are hidden and refused.
	AppID   string `mapstructure:"appID"`
	// Service is the directory service type, players or spectators.
	Service string `mapstructure:"service"`
	// Passcode protects hosted games and is presented when joining.
	Passcode string `mapstructure:"passcode"`
	// Transport and Directory are plugin instance tags. Empty tags fall back to tcp and an
	// in-process directory.
	Transport string `mapstructure:"transport"`
	Directory string `mapstructure:"directory"`
	// AdvertiseHost replaces the host part of the listening address in published records.
	AdvertiseHost string `mapstructure:"advertiseHost"`
	// Location is published with hosted games.
	Location int `mapstructure:"location"`
}

// DefaultConfig returns the configuration used for keys a file leaves out.
func DefaultConfig() *Config {
	return &Config{
		Log:     *log.DefaultCfg(),
		Session: *session.DefaultConfig(),
		Discovery: DiscoveryConfig{
			Service:   discovery.PlayerService,
			Transport: plugin.DefaultInsName,
			Directory: plugin.DefaultInsName,
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if c.Player.Name == "" {
		return errors.New("player: name is required")
	}
	if c.Discovery.AppID == "" {
		return errors.New("discovery: appID is required")
	}
	if c.Discovery.Service == "" {
		c.Discovery.Service = discovery.PlayerService
	}
	if c.Discovery.Transport == "" {
		c.Discovery.Transport = plugin.DefaultInsName
	}
	if c.Discovery.Directory == "" {
		c.Discovery.Directory = plugin.DefaultInsName
	}
	return nil
}

// ParseConfig decodes a TOML document on top of DefaultConfig.
func ParseConfig(data string) (*Config, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return decodeConfig(raw)
}

// LoadConfig reads and decodes the TOML file at path.
func LoadConfig(path string) (*Config, error) {
	raw := map[string]any{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return decodeConfig(raw)
}

func decodeConfig(raw map[string]any) (*Config, error) {
	cfg := DefaultConfig()
	if err := plugin.DecodeConfig(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
