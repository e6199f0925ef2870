package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/metrics"
)

const _acceptPollInterval = time.Second

// ListenerHandler receives the listener's output. Both callbacks run on the accept goroutine
// and none runs after Close returns.
type ListenerHandler struct {
	// OnConn receives every accepted connection before it is started.
	OnConn func(c *Conn)
	// OnFailed receives the error that stopped the listener for good.
	OnFailed func(err error)
}

// Listener accepts peer connections on a Network. A recoverable accept failure closes the
// socket and binds the same address again after Config.RestartBackoff; any other failure stops
// the listener and is reported to OnFailed.
type Listener struct {
	network Network
	opts    Options
	cfg     *Config
	handler ListenerHandler

	mu   sync.Mutex
	ln   net.Listener // Replaced on restart
	addr string       // Resolved after Start

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener prepares a listener on addr. Accepted connections use opts.
func NewListener(n Network, addr string, opts Options, h ListenerHandler) *Listener {
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		network: n,
		opts:    opts,
		cfg:     opts.Config,
		handler: h,
		addr:    addr,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the address and starts accepting.
func (l *Listener) Start() error {
	ln, err := l.network.Listen(l.addr)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", l.network.Name(), l.addr, err)
	}
	l.mu.Lock()
	l.ln = ln
	// Rebinds reuse the resolved address so an ephemeral port stays stable.
	l.addr = ln.Addr().String()
	l.mu.Unlock()

	log.Info().Str("network", l.network.Name()).Str("addr", l.addr).Msg("listener started")
	l.wg.Add(1)
	go l.serve()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Close stops accepting. Connections already accepted are not affected.
func (l *Listener) Close() {
	l.cancel()
	l.mu.Lock()
	if l.ln != nil {
		_ = l.ln.Close()
	}
	l.mu.Unlock()
	l.wg.Wait()
}

// current returns the socket in use; restart may swap it.
func (l *Listener) current() net.Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ln
}

// serve is the accept loop. Networks whose listeners support deadlines are polled so the
// loop notices Close even if the close does not interrupt Accept.
func (l *Listener) serve() {
	defer l.wg.Done()
	for {
		if l.ctx.Err() != nil {
			return
		}
		ln := l.current()
		if d, ok := ln.(deadliner); ok {
			_ = d.SetDeadline(time.Now().Add(_acceptPollInterval))
		}
		nc, err := ln.Accept()
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue // poll deadline
			}
			if IsRecoverable(err) {
				log.Warn().Err(err).Str("addr", l.addr).Dur("backoff", l.cfg.RestartBackoff).Msg("accept failed, restarting listener")
				metrics.IncrCounterWithDimGroup(metrics.NameListenerRestartTotal, metrics.GroupSlingshot, 1,
					networkDim(l.network.Name()))
				if err = l.restart(); err == nil {
					continue
				}
				if l.ctx.Err() != nil {
					return
				}
			}
			log.Error().Err(err).Str("addr", l.addr).Msg("listener failed")
			if l.handler.OnFailed != nil {
				l.handler.OnFailed(err)
			}
			return
		}

		// OnConn runs before Start so the caller can track c before it publishes events.
		c := newServer(l.network.Name(), nc, l.opts)
		if l.handler.OnConn != nil {
			l.handler.OnConn(c)
		}
		c.Start()
	}
}

// restart closes the socket and binds again, retrying recoverable bind errors.
func (l *Listener) restart() error {
	l.mu.Lock()
	_ = l.ln.Close()
	l.mu.Unlock()

	for {
		select {
		case <-l.ctx.Done():
			return l.ctx.Err()
		case <-time.After(l.cfg.RestartBackoff):
		}
		ln, err := l.network.Listen(l.addr)
		if err == nil {
			l.mu.Lock()
			if l.ctx.Err() != nil {
				l.mu.Unlock()
				_ = ln.Close()
				return l.ctx.Err()
			}
			l.ln = ln
			l.mu.Unlock()
			log.Info().Str("addr", l.addr).Msg("listener restarted")
			return nil
		}
		if !IsRecoverable(err) {
			return fmt.Errorf("rebind %s: %w", l.addr, err)
		}
		log.Warn().Err(err).Str("addr", l.addr).Msg("rebind failed, retrying")
	}
}
