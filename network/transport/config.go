package transport

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/linchenxuan/slingshot/network/frame"
)

const (
	_defaultHandshakeTimeout = 10 * time.Second
	_defaultIdleTimeout      = 30 * time.Second
	_defaultSendQueueSize    = 256
	_defaultChunkSize        = 64 << 10
	_defaultMaxResource      = 64 << 20
	_defaultMaxIncoming      = 4
	_defaultRestartBackoff   = time.Second
	_defaultActionBurst      = 120
	_readBufferSize          = 32 << 10
)

// Config tunes connections and listeners. Zero values are replaced by defaults in Validate.
type Config struct {
	// HandshakeTimeout bounds the whole handshake.
	HandshakeTimeout time.Duration `mapstructure:"handshakeTimeout"`
	// IdleTimeout closes a connection that has received nothing for this long.
	IdleTimeout time.Duration `mapstructure:"idleTimeout"`
	// SendQueueSize is the number of inline frames a connection buffers before dropping.
	SendQueueSize int `mapstructure:"sendQueueSize"`
	// MaxPayload bounds one inbound frame.
	MaxPayload uint32 `mapstructure:"maxPayload"`
	// ChunkSize is the payload size of one resource chunk.
	ChunkSize int `mapstructure:"chunkSize"`
	// MaxResource bounds the announced size of one inbound resource. Larger transfers are refused
	// before anything is spooled.
	MaxResource int64 `mapstructure:"maxResource"`
	// MaxIncoming caps the inbound resource transfers a connection spools at the same time.
	MaxIncoming int `mapstructure:"maxIncoming"`
	// ActionRate limits inbound Action frames per second. Zero disables the limit.
	ActionRate  float64 `mapstructure:"actionRate"`
	ActionBurst int     `mapstructure:"actionBurst"` // Frames allowed above the rate in a burst
	// RestartBackoff is the wait before a listener restarts after a recoverable error.
	RestartBackoff time.Duration `mapstructure:"restartBackoff"`
	// TempDir receives resource spool files. Empty means os.TempDir().
	TempDir string `mapstructure:"tempDir"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	c := &Config{}
	_ = c.Validate()
	return c
}

// Validate fills defaults and rejects inconsistent values.
func (c *Config) Validate() error {
	if c.HandshakeTimeout < 0 || c.IdleTimeout < 0 || c.RestartBackoff < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.SendQueueSize < 0 || c.ChunkSize < 0 || c.ActionBurst < 0 || c.ActionRate < 0 ||
		c.MaxResource < 0 || c.MaxIncoming < 0 {
		return errors.New("sizes and rates must not be negative")
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = _defaultHandshakeTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = _defaultIdleTimeout
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = _defaultSendQueueSize
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = frame.DefaultMaxPayload
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = _defaultChunkSize
	}
	if uint64(c.ChunkSize)+_chunkIDSize > uint64(c.MaxPayload) {
		return fmt.Errorf("chunkSize %d does not fit maxPayload %d", c.ChunkSize, c.MaxPayload)
	}
	if c.MaxResource == 0 {
		c.MaxResource = _defaultMaxResource
	}
	if c.MaxIncoming == 0 {
		c.MaxIncoming = _defaultMaxIncoming
	}
	if c.ActionRate > 0 && c.ActionBurst == 0 {
		c.ActionBurst = _defaultActionBurst
	}
	if c.RestartBackoff == 0 {
		c.RestartBackoff = _defaultRestartBackoff
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	return nil
}
