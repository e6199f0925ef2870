// Package slingshot wires the configured logger, metrics, transports and discovery directory
// into an App that hosts, browses and joins multiplayer games.
package slingshot

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/metrics/prometheus"
	"github.com/linchenxuan/slingshot/network/discovery"
	"github.com/linchenxuan/slingshot/network/peer"
	"github.com/linchenxuan/slingshot/network/session"
	"github.com/linchenxuan/slingshot/network/transport"
	"github.com/linchenxuan/slingshot/network/transport/kcp"
	"github.com/linchenxuan/slingshot/network/transport/tcp"
	"github.com/linchenxuan/slingshot/plugin"
)

// ErrUnknownGame is returned when joining a game the browser does not list.
var ErrUnknownGame = errors.New("slingshot: unknown game")

// App is one local participant.
type App struct {
	cfg     *Config
	local   peer.Player         // Identity used for every session
	plugins *plugin.Manager     // Owns the configured plugin instances
	network transport.Network   // Selected by Discovery.Transport
	dir     discovery.Directory // Selected by Discovery.Directory
}

// New initialises logging and plugins from cfg. Without a configured transport the App uses TCP,
// without a configured directory an in-process one.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := log.Initialize(&cfg.Log); err != nil {
		return nil, fmt.Errorf("init log: %w", err)
	}

	local := peer.New(cfg.Player.Name)
	if cfg.Player.ID != "" {
		id, err := peer.ParseID(cfg.Player.ID)
		if err != nil {
			return nil, fmt.Errorf("player id: %w", err)
		}
		local.ID = id
	}

	// Every factory is registered; only those with a [plugin] table are instantiated.
	m := plugin.NewManager()
	m.RegisterFactory(prometheus.NewFactory())
	m.RegisterFactory(tcp.NewFactory())
	m.RegisterFactory(kcp.NewFactory())
	m.RegisterFactory(discovery.NewMemoryFactory())
	m.RegisterFactory(discovery.NewEtcdFactory())
	if err := m.SetupPlugins(cfg.Plugin); err != nil {
		m.DestroyPlugins()
		return nil, fmt.Errorf("setup plugins: %w", err)
	}

	a := &App{cfg: cfg, local: local, plugins: m}
	var err error
	if a.network, err = a.resolveNetwork(); err != nil {
		m.DestroyPlugins()
		return nil, err
	}
	if a.dir, err = a.resolveDirectory(); err != nil {
		m.DestroyPlugins()
		return nil, err
	}
	log.Info().Stringer("local", local).Str("network", a.network.Name()).Str("directory", a.dir.FactoryName()).
		Msg("slingshot initialised")
	return a, nil
}

// resolveNetwork picks the transport instance named by the config. TCP is the fallback only
// when no transport plugin is configured at all; a wrong tag is an error.
func (a *App) resolveNetwork() (transport.Network, error) {
	p, err := a.plugins.GetPlugin(plugin.Transport, a.cfg.Discovery.Transport)
	if errors.Is(err, plugin.ErrPluginNotFound) && len(a.plugins.Plugins(plugin.Transport)) == 0 {
		return tcp.New(nil)
	}
	if err != nil {
		return nil, err
	}
	n, ok := p.(transport.Network)
	if !ok {
		return nil, fmt.Errorf("transport plugin %q is not a network", p.FactoryName())
	}
	return n, nil
}

// resolveDirectory is resolveNetwork for the directory, falling back to an in-process one.
func (a *App) resolveDirectory() (discovery.Directory, error) {
	p, err := a.plugins.GetPlugin(plugin.Directory, a.cfg.Discovery.Directory)
	if errors.Is(err, plugin.ErrPluginNotFound) && len(a.plugins.Plugins(plugin.Directory)) == 0 {
		return discovery.NewMemoryDirectory(), nil
	}
	if err != nil {
		return nil, err
	}
	d, ok := p.(discovery.Directory)
	if !ok {
		return nil, fmt.Errorf("directory plugin %q is not a directory", p.FactoryName())
	}
	return d, nil
}

// Local returns the local participant.
func (a *App) Local() peer.Player { return a.local }

// Network returns the transport used to host and join.
func (a *App) Network() transport.Network { return a.network }

// Directory returns the directory games are published to and browsed from.
func (a *App) Directory() discovery.Directory { return a.dir }

// Plugins returns the plugin manager holding every configured instance.
func (a *App) Plugins() *plugin.Manager { return a.plugins }

// sessionOptions gives each session its own copy of the session config.
func (a *App) sessionOptions() session.Options {
	cfg := a.cfg.Session
	return session.Options{
		Config:   &cfg,
		Local:    a.local,
		AppID:    a.cfg.Discovery.AppID,
		Service:  a.cfg.Discovery.Service,
		Passcode: a.cfg.Discovery.Passcode,
		Network:  a.network,
	}
}

// Host starts a game called name on addr and publishes it while it has free slots.
func (a *App) Host(name, addr string) (*session.Session, error) {
	s, err := session.Host(a.sessionOptions(), addr)
	if err != nil {
		return nil, err
	}
	rec := discovery.Record{
		Service: a.cfg.Discovery.Service,
		Host:    a.local,
		Info: map[string]string{
			discovery.AttrAppID:    a.cfg.Discovery.AppID,
			discovery.AttrGameName: name,
			discovery.AttrLocation: strconv.Itoa(a.cfg.Discovery.Location),
			discovery.AttrAddress:  a.advertisedAddr(s.Addr()),
			discovery.AttrNetwork:  a.network.Name(),
		},
	}
	if err := s.SetAdvertiser(discovery.NewAdvertiser(a.dir, rec)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// advertisedAddr is the address other machines dial. A wildcard listen address is useless to
// them, so AdvertiseHost can replace the host part.
func (a *App) advertisedAddr(addr net.Addr) string {
	if a.cfg.Discovery.AdvertiseHost == "" {
		return addr.String()
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return net.JoinHostPort(a.cfg.Discovery.AdvertiseHost, port)
}

// Browse starts a browser over the configured directory. onGames receives every new list.
func (a *App) Browse(onGames func([]discovery.NetworkGame), onFailed func(error)) *discovery.Browser {
	b := discovery.NewBrowser(a.dir, discovery.BrowserOptions{
		Local:    a.local,
		AppID:    a.cfg.Discovery.AppID,
		Service:  a.cfg.Discovery.Service,
		OnGames:  onGames,
		OnFailed: onFailed,
	})
	b.Start()
	return b
}

// Join connects to the game hosted by id as listed by b.
func (a *App) Join(b *discovery.Browser, id peer.ID) (*session.Session, error) {
	game, ok := b.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGame, id)
	}
	return a.JoinGame(game)
}

// JoinGame connects to game directly.
func (a *App) JoinGame(game discovery.NetworkGame) (*session.Session, error) {
	if game.Network != "" && game.Network != a.network.Name() {
		return nil, fmt.Errorf("game %q uses network %s, configured %s", game.Name, game.Network, a.network.Name())
	}
	if game.Address == "" {
		return nil, fmt.Errorf("game %q has no address", game.Name)
	}
	log.Info().Stringer("host", game.Host).Str("game", game.Name).Str("addr", game.Address).Msg("joining")
	return session.Join(a.sessionOptions(), game.Address)
}

// Close releases every plugin. Sessions and browsers created by the App must be closed first.
func (a *App) Close() {
	a.plugins.DestroyPlugins()
	log.Info().Stringer("local", a.local).Msg("slingshot stopped")
}
