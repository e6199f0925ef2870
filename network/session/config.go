package session

import (
	"errors"
	"time"

	"github.com/linchenxuan/slingshot/network/transport"
)

const (
	// DefaultMaxPeers is the transport cap of eight participants minus ourselves.
	DefaultMaxPeers = 7
	// DefaultLargePayload is the encoded size above which an action travels as a resource.
	DefaultLargePayload = 10_000

	_defaultMailboxSize      = 1024
	_defaultEventQueueSize   = 1024
	_defaultAdvertiseTimeout = 5 * time.Second
)

// Config tunes a session.
type Config struct {
	// MaxPeers caps the number of remote peers a host accepts.
	MaxPeers int `mapstructure:"maxPeers" toml:"maxPeers"`
	// LargePayload is the threshold in bytes between inline frames and resource transfers.
	LargePayload int `mapstructure:"largePayload" toml:"largePayload"`
	// MailboxSize bounds the queue of pending session work.
	MailboxSize int `mapstructure:"mailboxSize" toml:"mailboxSize"`
	// EventQueueSize bounds the application event channel. Events beyond it are dropped.
	EventQueueSize int `mapstructure:"eventQueueSize" toml:"eventQueueSize"`
	// AdvertiseTimeout bounds one directory update when advertising pauses or resumes.
	AdvertiseTimeout time.Duration `mapstructure:"advertiseTimeout" toml:"advertiseTimeout"`
	// Transport configures every connection of the session.
	Transport transport.Config `mapstructure:"transport" toml:"transport"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	c := &Config{}
	_ = c.Validate()
	return c
}

// Validate fills defaults and rejects negative sizes.
func (c *Config) Validate() error {
	if c.MaxPeers < 0 || c.LargePayload < 0 || c.MailboxSize < 0 || c.EventQueueSize < 0 || c.AdvertiseTimeout < 0 {
		return errors.New("session sizes and timeouts must not be negative")
	}
	if c.MaxPeers == 0 {
		c.MaxPeers = DefaultMaxPeers
	}
	if c.LargePayload == 0 {
		c.LargePayload = DefaultLargePayload
	}
	if c.MailboxSize == 0 {
		c.MailboxSize = _defaultMailboxSize
	}
	if c.EventQueueSize == 0 {
		c.EventQueueSize = _defaultEventQueueSize
	}
	if c.AdvertiseTimeout == 0 {
		c.AdvertiseTimeout = _defaultAdvertiseTimeout
	}
	return c.Transport.Validate()
}
