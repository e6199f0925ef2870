// Package session runs one multi-peer game session: the host accepts up to MaxPeers players and
// advertises itself while a slot is free, players join a host, and both sides exchange encoded
// actions.
//
// All bookkeeping happens on a single goroutine. Transport events, application sends and
// advertiser changes are serialized through its mailbox, so concurrent joins and leaves of
// different peers never race. The application observes the session through Events.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/linchenxuan/slingshot/action"
	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/metrics"
	"github.com/linchenxuan/slingshot/network/peer"
	"github.com/linchenxuan/slingshot/network/transport"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session: closed")
	// ErrUnknownPeer is returned when sending to a player that is not connected.
	ErrUnknownPeer = errors.New("session: unknown peer")
	// ErrSessionFull is the reason given to players refused because the game is full.
	ErrSessionFull = errors.New("session: game full")
)

// EventKind discriminates Event.
type EventKind uint8

const (
	// PeerJoined reports a newly connected peer.
	PeerJoined EventKind = iota + 1
	// PeerLeft reports a peer that disconnected. Err holds the cause when there was one.
	PeerLeft
	// Command carries a decoded action.
	Command
	// ConnectionFailed reports a join attempt that never became ready.
	ConnectionFailed
	// SessionEnded is the last event of a session that can no longer continue: a player lost its
	// host or a host's listener failed.
	SessionEnded
)

// String returns the lower camel-case kind name.
func (k EventKind) String() string {
	switch k {
	case PeerJoined:
		return "peerJoined"
	case PeerLeft:
		return "peerLeft"
	case Command:
		return "command"
	case ConnectionFailed:
		return "connectionFailed"
	case SessionEnded:
		return "sessionEnded"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// GameCommand pairs a received action with the peer that sent it.
type GameCommand struct {
	Player peer.Player   // Sender
	Action action.Action // Decoded action
}

// Event is delivered to the application.
type Event struct {
	Kind    EventKind   // Selects which fields are set
	Player  peer.Player // Peer concerned; zero for SessionEnded
	Command GameCommand // Set for Command only
	Err     error       // Cause of PeerLeft, ConnectionFailed or SessionEnded, if any
}

// Link is one connection as seen by the session. *transport.Conn implements it.
type Link interface {
	// Remote is the authenticated peer. It is the zero Player until the handshake finishes.
	Remote() peer.Player
	// SendAction queues one encoded action. It fails when the link is not ready or its
	// queue is full.
	SendAction(payload []byte) error
	// SendResource streams the file at path. done runs exactly once.
	SendResource(path, name string, done func(error))
	// Cancel closes the link without publishing further events.
	Cancel()
}

// Advertiser makes a hosted session discoverable. *discovery.Advertiser implements it.
// Both calls are idempotent.
type Advertiser interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options describe the local participant.
type Options struct {
	Config  *Config     // Nil uses DefaultConfig
	Local   peer.Player // Must have an ID
	AppID   string      // Peers with another AppID are refused
	Service string      // Mixed into the passcode key
	// Passcode protects the session when set; players must know it to join.
	Passcode string
	Network  transport.Network // Listens for Host and dials for Join
}

// member is a connected peer and the link that currently carries it.
type member struct {
	player peer.Player
	link   Link
}

// Session is one hosted or joined game. Create it with Host or Join and release it with Close.
type Session struct {
	cfg    *Config
	opts   Options
	server bool

	mailbox    chan func()          // Work posted by API calls
	connEvents chan transport.Event // Events of every tracked link
	events     chan Event           // Delivered to the application
	admission  *admission           // Slots, reserved during handshakes
	listener   *transport.Listener  // Nil for a player

	// links holds every connection not yet torn down, ready or not. The listener adds to it from
	// its accept goroutine.
	linksMu sync.Mutex
	links   map[Link]struct{}

	// owned by the session goroutine
	peers       map[peer.ID]*member
	advertiser  Advertiser
	advertising bool
	ended       bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// newSession validates opts and starts the session goroutine.
func newSession(opts Options, server bool) (*Session, error) {
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	} else if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	if opts.Local.IsZero() {
		return nil, errors.New("session: local player has no identity")
	}
	cfg := opts.Config
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		opts:       opts,
		server:     server,
		mailbox:    make(chan func(), cfg.MailboxSize),
		connEvents: make(chan transport.Event, cfg.MailboxSize),
		events:     make(chan Event, cfg.EventQueueSize),
		admission:  newAdmission(cfg.MaxPeers),
		links:      make(map[Link]struct{}),
		peers:      make(map[peer.ID]*member),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Host starts a session that accepts players on addr.
func Host(opts Options, addr string) (*Session, error) {
	if opts.Network == nil {
		return nil, errors.New("session: no network")
	}
	s, err := newSession(opts, true)
	if err != nil {
		return nil, err
	}
	topts := s.transportOptions()
	topts.Admit = s.admit
	s.listener = transport.NewListener(opts.Network, addr, topts, transport.ListenerHandler{
		OnConn: func(c *transport.Conn) { s.track(c) },
		OnFailed: func(err error) {
			_ = s.post(func() { s.end(fmt.Errorf("listener: %w", err)) })
		},
	})
	if err := s.listener.Start(); err != nil {
		s.Close()
		return nil, err
	}
	log.Info().Stringer("local", opts.Local).Str("addr", s.listener.Addr().String()).Int("maxPeers", s.cfg.MaxPeers).
		Msg("hosting game")
	return s, nil
}

// Join connects to the host listening on addr. The host shows up as a PeerJoined event, or the
// attempt ends with ConnectionFailed and SessionEnded.
func Join(opts Options, addr string) (*Session, error) {
	if opts.Network == nil {
		return nil, errors.New("session: no network")
	}
	s, err := newSession(opts, false)
	if err != nil {
		return nil, err
	}
	c := transport.NewClient(opts.Network, addr, s.transportOptions())
	s.track(c)
	c.Start()
	log.Info().Stringer("local", opts.Local).Str("addr", addr).Msg("joining game")
	return s, nil
}

// transportOptions builds the options shared by every connection of the session. All of
// them publish on the session's connEvents.
func (s *Session) transportOptions() transport.Options {
	return transport.Options{
		Config:   &s.cfg.Transport,
		Local:    s.opts.Local,
		AppID:    s.opts.AppID,
		Service:  s.opts.Service,
		Passcode: s.opts.Passcode,
		Events:   s.connEvents,
	}
}

// IsServer reports whether the session was created by Host.
func (s *Session) IsServer() bool { return s.server }

// Local returns the local participant.
func (s *Session) Local() peer.Player { return s.opts.Local }

// Events delivers session events. It is closed by Close.
func (s *Session) Events() <-chan Event { return s.events }

// Addr returns the listening address of a host, or nil for a player.
func (s *Session) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Peers returns the connected peers ordered by name.
func (s *Session) Peers() []peer.Player {
	var out []peer.Player
	err := s.call(func() error {
		out = make([]peer.Player, 0, len(s.peers))
		for _, m := range s.peers {
			out = append(out, m.player)
		}
		return nil
	})
	if err != nil {
		return nil
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// SetAdvertiser hands the session the advertiser of a hosted game. The session starts it while a
// slot is free and stops it while the game is full.
func (s *Session) SetAdvertiser(a Advertiser) error {
	return s.call(func() error {
		if s.advertiser != nil && s.advertising {
			s.stopAdvertising()
		}
		s.advertiser = a
		s.advertising = false
		s.updateAdvertising()
		return nil
	})
}

// Close leaves the game: the listener stops, every connection is cancelled, advertising stops and
// Events is closed. Pending resource transfers are abandoned and their files removed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.listener != nil {
			s.listener.Close()
		}
		s.cancel()
		s.wg.Wait()
	})
}

// run is the session goroutine. It owns peers and the advertising state.
func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return
		case f := <-s.mailbox:
			f()
		case ev := <-s.connEvents:
			s.onConnEvent(ev)
		}
	}
}

// post queues f for the session goroutine. It blocks while the mailbox is full.
func (s *Session) post(f func()) error {
	select {
	case <-s.ctx.Done():
		return ErrClosed
	case s.mailbox <- f:
		return nil
	}
}

// call runs f on the session goroutine and waits for its result.
func (s *Session) call(f func() error) error {
	res := make(chan error, 1)
	if err := s.post(func() { res <- f() }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// shutdown tears every link down and closes Events. Peers are dropped without PeerLeft events.
func (s *Session) shutdown() {
	s.linksMu.Lock()
	links := make([]Link, 0, len(s.links))
	for l := range s.links {
		links = append(links, l)
	}
	s.linksMu.Unlock()
	for _, l := range links {
		s.dropLink(l)
	}
	clear(s.peers)
	metrics.UpdateGaugeWithGroup(metrics.NameConnectedPeers, metrics.GroupSlingshot, 0)
	if s.advertising {
		s.stopAdvertising()
	}
	close(s.events)
	log.Info().Stringer("local", s.opts.Local).Bool("server", s.server).Msg("session closed")
}

// onConnEvent dispatches one transport event. Connecting states carry no information for the
// session and are ignored.
func (s *Session) onConnEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventState:
		switch ev.State {
		case transport.StateReady:
			s.linkUp(ev.Conn)
		case transport.StateFailed:
			s.linkDown(ev.Conn, ev.Err)
		}
	case transport.EventAction:
		s.receive(ev.Conn, ev.Payload)
	case transport.EventResource:
		s.receiveResource(ev.Conn, ev.Resource)
	}
}

// track registers l so Close can cancel it even before its handshake finishes.
func (s *Session) track(l Link) {
	s.linksMu.Lock()
	s.links[l] = struct{}{}
	s.linksMu.Unlock()
}

// forget stops tracking l and frees its admission slot. Only the first call for a link counts.
func (s *Session) forget(l Link) {
	s.linksMu.Lock()
	_, ok := s.links[l]
	delete(s.links, l)
	s.linksMu.Unlock()
	if !ok || !s.server {
		return
	}
	if p := l.Remote(); !p.IsZero() {
		s.admission.release(p.ID)
	}
}

// dropLink cancels l. Cancelled links publish nothing more, so the session forgets l itself.
func (s *Session) dropLink(l Link) {
	l.Cancel()
	s.forget(l)
}

// admit runs on a handshake goroutine of the listener.
func (s *Session) admit(p peer.Player) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	// forget releases by the remote id, which is never the nil id.
	if p.IsZero() {
		return errors.New("session: player without an id")
	}
	if err := s.admission.reserve(p.ID); err != nil {
		log.Warn().Stringer("peer", p).Int("maxPeers", s.cfg.MaxPeers).Msg("game full, refusing connection")
		metrics.IncrCounterWithGroup(metrics.NameAdmissionRejectTotal, metrics.GroupSlingshot, 1)
		return err
	}
	log.Info().Stringer("peer", p).Msg("accepting connection")
	return nil
}

// linkUp handles a link whose handshake finished. A known player on a new link is a reconnect:
// the old link is dropped and no PeerJoined is emitted.
func (s *Session) linkUp(l Link) {
	p := l.Remote()
	if m, ok := s.peers[p.ID]; ok {
		if m.link == l {
			return
		}
		log.Info().Stringer("peer", p).Msg("peer reconnected, replacing its connection")
		old := m.link
		m.link = l
		m.player = p
		s.dropLink(old)
		return
	}
	s.peers[p.ID] = &member{player: p, link: l}
	log.Info().Stringer("peer", p).Int("peers", len(s.peers)).Msg("peer joined")
	s.emit(Event{Kind: PeerJoined, Player: p})
	s.peersChanged()
}

// linkDown handles a failed link. For a player, losing the host or never reaching it ends the
// session.
func (s *Session) linkDown(l Link, err error) {
	s.forget(l)
	p := l.Remote()
	m, ok := s.peers[p.ID]
	if !ok || m.link != l {
		// Never became a peer, or was already replaced by a reconnect.
		if !s.server && !s.ended {
			log.Warn().Err(err).Msg("could not join game")
			s.emit(Event{Kind: ConnectionFailed, Err: err})
			s.end(err)
		}
		return
	}
	delete(s.peers, p.ID)
	log.Info().Err(err).Stringer("peer", m.player).Int("peers", len(s.peers)).Msg("peer left")
	s.emit(Event{Kind: PeerLeft, Player: m.player, Err: err})
	s.peersChanged()
	if !s.server {
		s.end(err)
	}
}

// end reports that the session cannot continue. The session stays open until Close.
func (s *Session) end(err error) {
	if s.ended {
		return
	}
	s.ended = true
	if s.server {
		log.Error().Err(err).Msg("session ended")
	}
	s.emit(Event{Kind: SessionEnded, Err: err})
}

// peersChanged refreshes the peer gauge and the advertising state.
func (s *Session) peersChanged() {
	metrics.UpdateGaugeWithGroup(metrics.NameConnectedPeers, metrics.GroupSlingshot, metrics.Value(len(s.peers)))
	s.updateAdvertising()
}

// updateAdvertising keeps a host discoverable exactly while it has a free slot.
func (s *Session) updateAdvertising() {
	if !s.server || s.advertiser == nil {
		return
	}
	full := len(s.peers) >= s.cfg.MaxPeers
	if full && s.advertising {
		s.stopAdvertising()
	} else if !full && !s.advertising && !s.ended {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.AdvertiseTimeout)
		defer cancel()
		if err := s.advertiser.Start(ctx); err != nil {
			log.Error().Err(err).Msg("start advertising")
			return
		}
		s.advertising = true
	}
}

// stopAdvertising withdraws the game. On failure advertising stays marked active so the next
// change retries the stop.
func (s *Session) stopAdvertising() {
	// s.ctx may already be done during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AdvertiseTimeout)
	defer cancel()
	if err := s.advertiser.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("stop advertising")
		return
	}
	s.advertising = false
}

// emit never blocks the session goroutine: a full event queue drops the event.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Warn().Stringer("event", ev.Kind).Stringer("peer", ev.Player).Msg("event queue full, dropping event")
		metrics.IncrCounterWithGroup(metrics.NameEventDropTotal, metrics.GroupSlingshot, 1)
	}
}
