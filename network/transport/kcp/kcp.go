// Package kcp provides a reliable-UDP network for peer connections, suited to lossy links
// where TCP retransmission stalls gameplay traffic.
package kcp

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"

	kcpgo "github.com/xtaci/kcp-go/v5"
	"golang.org/x/crypto/pbkdf2"
)

const (
	_factoryName      = "kcp"
	_pbkdf2Iterations = 4096
)

// Config configures the KCP network. Both ends must agree on shards and key.
type Config struct {
	Tag string `mapstructure:"tag"` // Plugin instance tag
	// DataShards and ParityShards configure forward error correction. Zero parity disables it.
	DataShards   int `mapstructure:"dataShards"`
	ParityShards int `mapstructure:"parityShards"`
	// Key enables AES packet encryption when set; the cipher key is derived with PBKDF2.
	Key  string `mapstructure:"key"`
	Salt string `mapstructure:"salt"` // PBKDF2 salt; defaults to "slingshot" when Key is set
	// NoDelay, Interval (ms), Resend and NoCongestion are the KCP protocol knobs.
	NoDelay      bool `mapstructure:"noDelay"`
	Interval     int  `mapstructure:"interval"`
	Resend       int  `mapstructure:"resend"`
	NoCongestion bool `mapstructure:"noCongestion"`
	SendWindow   int  `mapstructure:"sendWindow"` // Packets; defaults to 256
	RecvWindow   int  `mapstructure:"recvWindow"` // Packets; defaults to 256
	MTU          int  `mapstructure:"mtu"`        // Defaults to 1350
}

// Validate fills defaults and checks ranges.
func (c *Config) Validate() error {
	if c.DataShards < 0 || c.ParityShards < 0 || c.Interval < 0 || c.Resend < 0 ||
		c.SendWindow < 0 || c.RecvWindow < 0 || c.MTU < 0 {
		return errors.New("kcp settings must not be negative")
	}
	if c.ParityShards > 0 && c.DataShards == 0 {
		return errors.New("parityShards requires dataShards")
	}
	if c.Interval == 0 {
		c.Interval = 10
	}
	if c.SendWindow == 0 {
		c.SendWindow = 256
	}
	if c.RecvWindow == 0 {
		c.RecvWindow = 256
	}
	if c.MTU == 0 {
		c.MTU = 1350
	}
	if c.Key != "" && c.Salt == "" {
		c.Salt = "slingshot"
	}
	return nil
}

// Network dials and listens over KCP in stream mode.
type Network struct {
	cfg   *Config
	block kcpgo.BlockCrypt
}

// New returns a KCP network. A nil cfg uses defaults.
func New(cfg *Config) (*Network, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Network{cfg: cfg}
	if cfg.Key != "" {
		key := pbkdf2.Key([]byte(cfg.Key), []byte(cfg.Salt), _pbkdf2Iterations, 32, sha256.New)
		block, err := kcpgo.NewAESBlockCrypt(key)
		if err != nil {
			return nil, fmt.Errorf("kcp cipher: %w", err)
		}
		n.block = block
	}
	return n, nil
}

// FactoryName implements plugin.Plugin.
func (n *Network) FactoryName() string { return _factoryName }

// Name returns "kcp".
func (n *Network) Name() string { return _factoryName }

// Listen binds a UDP socket on addr.
func (n *Network) Listen(addr string) (net.Listener, error) {
	ln, err := kcpgo.ListenWithOptions(addr, n.block, n.cfg.DataShards, n.cfg.ParityShards)
	if err != nil {
		return nil, err
	}
	return &listener{ln: ln, network: n}, nil
}

// Dial opens a session to addr. KCP has no connection setup, so this returns at once; an
// unreachable peer shows up as a handshake timeout.
func (n *Network) Dial(ctx context.Context, addr string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := kcpgo.DialWithOptions(addr, n.block, n.cfg.DataShards, n.cfg.ParityShards)
	if err != nil {
		return nil, err
	}
	n.tune(sess)
	return sess, nil
}

func (n *Network) tune(s *kcpgo.UDPSession) {
	nodelay, nc := 0, 0
	if n.cfg.NoDelay {
		nodelay = 1
	}
	if n.cfg.NoCongestion {
		nc = 1
	}
	s.SetStreamMode(true)
	s.SetWriteDelay(false)
	s.SetACKNoDelay(true)
	s.SetNoDelay(nodelay, n.cfg.Interval, n.cfg.Resend, nc)
	s.SetWindowSize(n.cfg.SendWindow, n.cfg.RecvWindow)
	s.SetMtu(n.cfg.MTU)
}

// listener tunes accepted sessions. It does not expose SetDeadline: kcp reports accept timeouts
// with an error that is not a net.Error, and Close alone unblocks Accept.
type listener struct {
	ln      *kcpgo.Listener
	network *Network
}

// Accept waits for the next session and applies the protocol settings to it.
func (l *listener) Accept() (net.Conn, error) {
	s, err := l.ln.AcceptKCP()
	if err != nil {
		return nil, err
	}
	l.network.tune(s)
	return s, nil
}

func (l *listener) Close() error   { return l.ln.Close() }
func (l *listener) Addr() net.Addr { return l.ln.Addr() }
