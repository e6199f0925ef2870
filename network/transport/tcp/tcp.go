// Package tcp provides the TCP network for peer connections.
package tcp

import (
	"context"
	"errors"
	"net"
	"time"
)

const (
	_factoryName      = "tcp"
	_defaultKeepAlive = 2 * time.Second
)

// Config configures the TCP network.
type Config struct {
	Tag string `mapstructure:"tag"` // Plugin instance tag
	// KeepAlive is the TCP keep-alive period. Negative disables keep-alives.
	KeepAlive   time.Duration `mapstructure:"keepAlive"`
	ReadBuffer  int           `mapstructure:"readBuffer"`  // Socket receive buffer; 0 keeps the OS default
	WriteBuffer int           `mapstructure:"writeBuffer"` // Socket send buffer; 0 keeps the OS default
}

// Validate fills defaults and rejects negative buffer sizes.
func (c *Config) Validate() error {
	if c.ReadBuffer < 0 || c.WriteBuffer < 0 {
		return errors.New("buffer sizes must not be negative")
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = _defaultKeepAlive
	}
	return nil
}

// Network dials and listens over TCP with Nagle disabled.
type Network struct {
	cfg *Config
}

// New returns a TCP network. A nil cfg uses defaults.
func New(cfg *Config) (*Network, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Network{cfg: cfg}, nil
}

// FactoryName implements plugin.Plugin.
func (n *Network) FactoryName() string { return _factoryName }

// Name returns "tcp".
func (n *Network) Name() string { return _factoryName }

// Listen binds addr.
func (n *Network) Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: n.cfg.KeepAlive}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &listener{TCPListener: ln.(*net.TCPListener), network: n}, nil
}

// Dial connects to addr.
func (n *Network) Dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{KeepAlive: n.cfg.KeepAlive}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if err := n.tune(c.(*net.TCPConn)); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (n *Network) tune(c *net.TCPConn) error {
	if err := c.SetNoDelay(true); err != nil {
		return err
	}
	if n.cfg.ReadBuffer > 0 {
		if err := c.SetReadBuffer(n.cfg.ReadBuffer); err != nil {
			return err
		}
	}
	if n.cfg.WriteBuffer > 0 {
		if err := c.SetWriteBuffer(n.cfg.WriteBuffer); err != nil {
			return err
		}
	}
	return nil
}

// listener applies the socket options to accepted connections. The embedded TCPListener
// supplies SetDeadline for accept polling.
type listener struct {
	*net.TCPListener
	network *Network
}

// Accept skips connections that die before their options are set.
func (l *listener) Accept() (net.Conn, error) {
	for {
		c, err := l.AcceptTCP()
		if err != nil {
			return nil, err
		}
		if err := l.network.tune(c); err != nil {
			_ = c.Close()
			continue
		}
		return c, nil
	}
}
