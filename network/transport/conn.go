package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/metrics"
	"github.com/linchenxuan/slingshot/network/frame"
	"github.com/linchenxuan/slingshot/network/peer"
	"github.com/linchenxuan/slingshot/utils/pool"
	"golang.org/x/time/rate"
)

// State is the lifecycle position of a Conn.
type State int32

const (
	StateIdle       State = iota // Created, not started
	StateConnecting              // Dialing or handshaking
	StateReady                   // Handshake done; actions flow
	// StateFailed follows any error; the connection has been torn down.
	StateFailed
	// StateCancelled follows a local Cancel and is never published.
	StateCancelled
)

// String returns the lower-case state name used in logs and metric labels.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Role says which side of the handshake a Conn plays.
type Role uint8

const (
	RoleClient Role = iota + 1 // Dials the host
	RoleServer                 // Accepted by a Listener
)

// String returns "client" or "server".
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// EventKind discriminates Event.
type EventKind uint8

const (
	// EventState reports a state change; Err is set for StateFailed.
	EventState EventKind = iota + 1
	// EventAction carries the payload of one inbound Action frame.
	EventAction
	// EventResource carries a completed inbound resource transfer.
	EventResource
)

// Event is published by a Conn on Options.Events.
type Event struct {
	Kind     EventKind
	Conn     *Conn     // Source connection
	State    State     // New state, for EventState
	Err      error     // Cause, for StateFailed
	Payload  []byte    // Owned by the receiver, for EventAction
	Resource *Resource // Completed transfer, for EventResource
}

// Resource is a received transfer spooled to disk. The receiver of the event owns Path and
// must remove it.
type Resource struct {
	Name string // Name given by the sender
	Path string // Spool file
	Size int64  // Bytes received
}

// AdmitFunc decides whether a host accepts a connecting player. A non-nil error rejects the
// connection and its text is sent to the client.
type AdmitFunc func(p peer.Player) error

// Options describe the local end of a connection.
type Options struct {
	Config *Config     // Nil uses DefaultConfig
	Local  peer.Player // Identity sent in Hello
	// AppID must match on both ends.
	AppID string
	// Service is the discovery service type, mixed into the passcode key.
	Service string
	// Passcode enables the authenticated handshake when set. Both ends must agree.
	Passcode string
	// Events receives every event of the connection.
	Events chan<- Event
	// Admit is consulted by server connections before they accept. Nil admits everyone.
	Admit AdmitFunc
}

// outFrame is a frame queued for the writer.
type outFrame struct {
	typ     frame.MessageType
	payload []byte
	buf     *[]byte    // Pooled backing of payload, returned after the write
	written chan error // Receives the write result when set
}

// inFrame is a parsed frame waiting in the inbox.
type inFrame struct {
	typ     frame.MessageType
	payload []byte
}

var _chunkBuffers = pool.NewBuffers("resource_chunk", _chunkIDSize+_defaultChunkSize, 1<<20)

// Conn is one peer connection. Its handshake and I/O run on goroutines of its own; state changes
// and inbound traffic are reported as Events. After Cancel returns no further event is published.
type Conn struct {
	opts    Options
	cfg     *Config
	role    Role
	network string
	addr    string
	dialFn  func(ctx context.Context) (net.Conn, error)

	state  atomic.Int32                // State, read without locks
	remote atomic.Pointer[peer.Player] // Set once the handshake admits the peer

	ncMu sync.Mutex
	nc   net.Conn

	ctx       context.Context
	cancel    context.CancelFunc
	pubMu     sync.Mutex // Orders publish against Cancel
	cancelled bool
	closeOnce sync.Once

	sendCh    chan outFrame // Inline frames, dropped when full
	resCh     chan outFrame // Resource frames, unbuffered
	nextResID atomic.Uint32
	limiter   *rate.Limiter // Nil when ActionRate is zero

	// owned by the receive goroutine
	parser   *frame.Parser
	inbox    []inFrame
	incoming map[uint32]*incomingResource
}

// newConn builds the parts shared by clients and servers.
func newConn(role Role, network string, opts Options) *Conn {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		opts:     opts,
		cfg:      cfg,
		role:     role,
		network:  network,
		ctx:      ctx,
		cancel:   cancel,
		sendCh:   make(chan outFrame, cfg.SendQueueSize),
		resCh:    make(chan outFrame),
		incoming: make(map[uint32]*incomingResource),
	}
	if cfg.ActionRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.ActionRate), cfg.ActionBurst)
	}
	c.parser = frame.NewParser(c.onFrame, frame.WithMaxPayload(cfg.MaxPayload))
	return c
}

// NewClient prepares a connection to addr over n. It stays idle until Start.
func NewClient(n Network, addr string, opts Options) *Conn {
	c := newConn(RoleClient, n.Name(), opts)
	c.addr = addr
	c.dialFn = func(ctx context.Context) (net.Conn, error) {
		return n.Dial(ctx, addr)
	}
	return c
}

// newServer wraps an accepted connection.
func newServer(network string, nc net.Conn, opts Options) *Conn {
	c := newConn(RoleServer, network, opts)
	c.nc = nc
	c.addr = nc.RemoteAddr().String()
	return c
}

// Start moves an idle connection to connecting and runs it. Later calls do nothing.
func (c *Conn) Start() {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return
	}
	c.noteState(StateConnecting)
	go c.run()
}

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Role returns which side of the handshake c plays.
func (c *Conn) Role() Role { return c.role }

// Network returns the name of the Network that carries c.
func (c *Conn) Network() string { return c.network }

// RemoteAddr returns the dialed address, or the accepted peer address on a server.
func (c *Conn) RemoteAddr() string { return c.addr }

// Remote returns the peer identity learned in the handshake, or the zero Player before that.
func (c *Conn) Remote() peer.Player {
	if p := c.remote.Load(); p != nil {
		return *p
	}
	return peer.Player{}
}

// Cancel tears the connection down without publishing anything. In-flight resource sends
// complete with ErrConnClosed and partially received resources are removed.
func (c *Conn) Cancel() {
	c.cancel()
	c.pubMu.Lock()
	c.cancelled = true
	c.pubMu.Unlock()
	c.closeOnce.Do(c.teardown)
	if c.state.Swap(int32(StateCancelled)) != int32(StateCancelled) {
		c.noteState(StateCancelled)
	}
}

// SendAction queues an encoded Action for delivery. It never blocks: a full queue drops the
// frame and returns ErrSendQueueFull.
func (c *Conn) SendAction(payload []byte) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	select {
	case c.sendCh <- outFrame{typ: frame.Action, payload: payload}:
		return nil
	default:
		log.Warn().Str("peer", c.Remote().String()).Int("queue", cap(c.sendCh)).Msg("send queue full, dropping action")
		metrics.IncrCounterWithGroup(metrics.NameSendQueueFullTotal, metrics.GroupSlingshot, 1)
		return ErrSendQueueFull
	}
}

// checkReady maps the state to the error a send should return.
func (c *Conn) checkReady() error {
	if c.ctx.Err() != nil {
		return ErrConnClosed
	}
	switch c.State() {
	case StateReady:
		return nil
	case StateIdle, StateConnecting:
		return ErrNotReady
	}
	return ErrConnClosed
}

// run dials when needed, performs the handshake and then serves the connection until it fails.
// The receive loop runs on this goroutine; the writer gets its own.
func (c *Conn) run() {
	c.publish(Event{Kind: EventState, State: StateConnecting})
	if c.role == RoleClient {
		dctx, cancel := context.WithTimeout(c.ctx, c.cfg.HandshakeTimeout)
		nc, err := c.dialFn(dctx)
		cancel()
		if err != nil {
			c.fail(fmt.Errorf("dial %s: %w", c.addr, err))
			return
		}
		if !c.setNetConn(nc) {
			return
		}
	}

	start := time.Now()
	if err := c.handshake(); err != nil {
		metrics.IncrCounterWithDimGroup(metrics.NameHandshakeFailTotal, metrics.GroupSlingshot, 1,
			metrics.Dimension{metrics.DimReason: handshakeReason(err)})
		log.Info().Err(err).Str("addr", c.addr).Stringer("role", c.role).Msg("handshake failed")
		c.fail(err)
		return
	}
	metrics.RecordStopwatchWithGroup(metrics.NameHandshakeDuration, metrics.GroupSlingshot, start)

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateReady)) {
		return
	}
	c.noteState(StateReady)
	log.Info().Str("peer", c.Remote().String()).Str("addr", c.addr).Str("network", c.network).
		Stringer("role", c.role).Msg("connection ready")
	c.publish(Event{Kind: EventState, State: StateReady})

	go c.serveSend()
	c.serveRecv()
}

// setNetConn installs a dialed connection, or closes it when Cancel won the race.
func (c *Conn) setNetConn(nc net.Conn) bool {
	c.ncMu.Lock()
	defer c.ncMu.Unlock()
	if c.ctx.Err() != nil {
		_ = nc.Close()
		return false
	}
	c.nc = nc
	return true
}

func (c *Conn) netConn() net.Conn {
	c.ncMu.Lock()
	defer c.ncMu.Unlock()
	return c.nc
}

// fail publishes StateFailed with err and tears the connection down. Only the first failure counts.
func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		for {
			cur := c.state.Load()
			if cur == int32(StateCancelled) {
				c.teardown()
				return
			}
			if c.state.CompareAndSwap(cur, int32(StateFailed)) {
				break
			}
		}
		c.noteState(StateFailed)
		c.publish(Event{Kind: EventState, State: StateFailed, Err: err})
		c.teardown()
	})
}

// teardown stops every goroutine of c by cancelling its context and closing the socket.
func (c *Conn) teardown() {
	c.cancel()
	c.ncMu.Lock()
	if c.nc != nil {
		_ = c.nc.Close()
	}
	c.ncMu.Unlock()
}

// noteState counts a state transition.
func (c *Conn) noteState(s State) {
	metrics.IncrCounterWithDimGroup(metrics.NameConnStateTotal, metrics.GroupSlingshot, 1,
		metrics.Dimension{metrics.DimState: s.String()})
}

// publish delivers ev unless the connection was cancelled. It blocks while the consumer is
// busy, which throttles the receive loop.
func (c *Conn) publish(ev Event) bool {
	ev.Conn = c
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if c.cancelled || c.opts.Events == nil {
		return false
	}
	select {
	case c.opts.Events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// serveSend is the writer. Inline frames always go first; resource frames and heartbeats are
// only considered when no inline frame is queued. A heartbeat is sent only after a full tick
// without other traffic.
func (c *Conn) serveSend() {
	var heartbeat <-chan time.Time
	if c.cfg.IdleTimeout > 0 {
		t := time.NewTicker(c.cfg.IdleTimeout / 3)
		defer t.Stop()
		heartbeat = t.C
	}
	idle := true
	for {
		var f outFrame
		select {
		case f = <-c.sendCh:
		default:
			select {
			case <-c.ctx.Done():
				return
			case f = <-c.sendCh:
			case f = <-c.resCh:
			case <-heartbeat:
				if !idle {
					idle = true
					continue
				}
				f = outFrame{typ: frame.Heartbeat}
			}
		}
		idle = f.typ == frame.Heartbeat
		err := c.write(f)
		if f.written != nil {
			f.written <- err
		}
		if f.buf != nil {
			_chunkBuffers.Put(f.buf)
		}
		if err != nil {
			if c.ctx.Err() == nil {
				log.Warn().Err(err).Str("peer", c.Remote().String()).Msg("write failed")
			}
			c.fail(err)
			return
		}
	}
}

// write sends one frame under the idle write deadline and counts it.
func (c *Conn) write(f outFrame) error {
	nc := c.netConn()
	if nc == nil {
		return ErrConnClosed
	}
	if c.cfg.IdleTimeout > 0 {
		_ = nc.SetWriteDeadline(time.Now().Add(c.cfg.IdleTimeout))
	}
	n, err := frame.WriteFrame(nc, f.typ, f.payload)
	StatSendFrame(f.typ, c.network, int(n))
	return err
}

// writeNow writes a frame from the handshake goroutine, before serveSend runs.
func (c *Conn) writeNow(typ frame.MessageType, payload []byte) error {
	return c.write(outFrame{typ: typ, payload: payload})
}

// onFrame is the parser callback. Frames are queued so readFrame can return them one by one.
func (c *Conn) onFrame(typ frame.MessageType, payload []byte) error {
	StatRecvFrame(typ, c.network, len(payload))
	c.inbox = append(c.inbox, inFrame{typ: typ, payload: payload})
	return nil
}

// readFrame returns the next complete frame. With idle set every read is bounded by the idle
// timeout; otherwise the deadline already on the connection applies.
func (c *Conn) readFrame(idle bool) (inFrame, error) {
	nc := c.netConn()
	if nc == nil {
		return inFrame{}, ErrConnClosed
	}
	var buf *[]byte
	for len(c.inbox) == 0 {
		if buf == nil {
			buf = _readBuffers.Get(_readBufferSize)
			defer _readBuffers.Put(buf)
		}
		if idle && c.cfg.IdleTimeout > 0 {
			_ = nc.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}
		n, err := nc.Read(*buf)
		if n > 0 {
			if _, perr := c.parser.Feed((*buf)[:n]); perr != nil {
				return inFrame{}, perr
			}
			continue
		}
		if err != nil {
			return inFrame{}, err
		}
	}
	f := c.inbox[0]
	c.inbox[0] = inFrame{} // release the payload for the GC
	c.inbox = c.inbox[1:]
	return f, nil
}

var _readBuffers = pool.NewBuffers("conn_read", _readBufferSize, _readBufferSize)

// serveRecv reads until the connection fails. Partially received resources are removed on exit.
func (c *Conn) serveRecv() {
	defer c.dropIncoming()
	for {
		f, err := c.readFrame(true)
		if err != nil {
			if c.ctx.Err() == nil {
				if !isClosedErr(err) {
					log.Warn().Err(err).Str("peer", c.Remote().String()).Msg("read failed")
				}
				c.fail(err)
			}
			return
		}
		c.handle(f)
	}
}

// handle dispatches one frame received after the handshake.
func (c *Conn) handle(f inFrame) {
	switch f.typ {
	case frame.Action:
		if c.limiter != nil && !c.limiter.Allow() {
			log.Warn().Str("peer", c.Remote().String()).Int("bytes", len(f.payload)).Msg("action rate limited, dropping")
			metrics.IncrCounterWithGroup(metrics.NameActionRateLimitedTotal, metrics.GroupSlingshot, 1)
			return
		}
		c.publish(Event{Kind: EventAction, Payload: f.payload})
	case frame.ResourceStart:
		c.onResourceStart(f.payload)
	case frame.ResourceChunk:
		c.onResourceChunk(f.payload)
	case frame.ResourceEnd:
		c.onResourceEnd(f.payload)
	case frame.Heartbeat:
		// Reading it already pushed the idle deadline.
	case frame.Invalid:
		log.Warn().Str("peer", c.Remote().String()).Int("bytes", len(f.payload)).Msg("invalid frame type, dropping")
		metrics.IncrCounterWithGroup(metrics.NameInvalidFrameTotal, metrics.GroupSlingshot, 1)
	default:
		log.Warn().Str("peer", c.Remote().String()).Stringer("type", f.typ).Msg("handshake frame after handshake, dropping")
	}
}

// handshakeReason labels a handshake failure for metrics.
func handshakeReason(err error) string {
	switch {
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrAuthFailed):
		return "auth"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	}
	return "io"
}
