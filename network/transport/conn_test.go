package transport

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linchenxuan/slingshot/metrics"
	"github.com/linchenxuan/slingshot/network/frame"
	"github.com/linchenxuan/slingshot/network/peer"
	"github.com/linchenxuan/slingshot/network/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const _waitTimeout = 5 * time.Second

type endpoint struct {
	player peer.Player
	events chan Event
	opts   Options
}

func newEndpoint(t *testing.T, name string, cfg *Config) *endpoint {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	require.NoError(t, cfg.Validate())
	e := &endpoint{player: peer.New(name), events: make(chan Event, 64)}
	e.opts = Options{Config: cfg, Local: e.player, AppID: "slingshot-test", Service: "slingshot-p", Events: e.events}
	return e
}

func tcpNetwork(t *testing.T) Network {
	t.Helper()
	n, err := tcp.New(nil)
	require.NoError(t, err)
	return n
}

// listen starts a listener for host on a loopback port.
func listen(t *testing.T, host *endpoint) *Listener {
	t.Helper()
	l := NewListener(tcpNetwork(t), "127.0.0.1:0", host.opts, ListenerHandler{})
	require.NoError(t, l.Start())
	t.Cleanup(l.Close)
	return l
}

func dial(t *testing.T, l *Listener, client *endpoint) *Conn {
	t.Helper()
	c := NewClient(tcpNetwork(t), l.Addr().String(), client.opts)
	t.Cleanup(c.Cancel)
	c.Start()
	return c
}

func waitFor(t *testing.T, ch <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(_waitTimeout)
	for {
		select {
		case ev := <-ch:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func waitState(t *testing.T, ch <-chan Event, s State) Event {
	t.Helper()
	return waitFor(t, ch, func(ev Event) bool { return ev.Kind == EventState && ev.State == s })
}

func connectPair(t *testing.T, host, client *endpoint) (*Conn, *Conn) {
	t.Helper()
	l := listen(t, host)
	c := dial(t, l, client)
	waitState(t, client.events, StateReady)
	s := waitState(t, host.events, StateReady).Conn
	t.Cleanup(s.Cancel)
	return c, s
}

func TestHandshakeExchangesIdentity(t *testing.T) {
	host := newEndpoint(t, "host", nil)
	client := newEndpoint(t, "guest", nil)
	c, s := connectPair(t, host, client)

	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, RoleClient, c.Role())
	assert.Equal(t, RoleServer, s.Role())
	assert.Equal(t, "tcp", c.Network())
	assert.True(t, c.Remote().Equal(host.player))
	assert.Equal(t, "host", c.Remote().Username)
	assert.True(t, s.Remote().Equal(client.player))
}

func TestActionsFlowBothWays(t *testing.T) {
	host := newEndpoint(t, "host", nil)
	client := newEndpoint(t, "guest", nil)
	c, s := connectPair(t, host, client)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.SendAction([]byte{byte(i)}))
	}
	for i := 0; i < 10; i++ {
		ev := waitFor(t, host.events, func(ev Event) bool { return ev.Kind == EventAction })
		assert.Equal(t, []byte{byte(i)}, ev.Payload)
		assert.Same(t, s, ev.Conn)
	}

	require.NoError(t, s.SendAction([]byte("pong")))
	ev := waitFor(t, client.events, func(ev Event) bool { return ev.Kind == EventAction })
	assert.Equal(t, []byte("pong"), ev.Payload)
}

func TestAppIDMismatchFailsBothEnds(t *testing.T) {
	host := newEndpoint(t, "host", nil)
	client := newEndpoint(t, "guest", nil)
	client.opts.AppID = "another-game"
	l := listen(t, host)
	dial(t, l, client)

	ev := waitState(t, client.events, StateFailed)
	assert.ErrorIs(t, ev.Err, ErrRejected)
	ev = waitState(t, host.events, StateFailed)
	assert.ErrorIs(t, ev.Err, ErrAuthFailed)
}

func TestNilPlayerIDIsRefused(t *testing.T) {
	host := newEndpoint(t, "host", nil)
	client := newEndpoint(t, "nobody", nil)
	client.opts.Local = peer.Player{Username: "nobody"}
	admitted := false
	host.opts.Admit = func(peer.Player) error {
		admitted = true
		return nil
	}
	l := listen(t, host)
	dial(t, l, client)

	ev := waitState(t, client.events, StateFailed)
	assert.ErrorIs(t, ev.Err, ErrRejected)
	ev = waitState(t, host.events, StateFailed)
	assert.ErrorIs(t, ev.Err, ErrProtocol)
	assert.True(t, ev.Conn.Remote().IsZero())
	assert.False(t, admitted)
}

func TestPasscode(t *testing.T) {
	t.Run("shared", func(t *testing.T) {
		host := newEndpoint(t, "host", nil)
		client := newEndpoint(t, "guest", nil)
		host.opts.Passcode = "hunter2"
		client.opts.Passcode = "hunter2"
		c, _ := connectPair(t, host, client)
		assert.Equal(t, StateReady, c.State())
	})

	t.Run("wrong", func(t *testing.T) {
		host := newEndpoint(t, "host", nil)
		client := newEndpoint(t, "guest", nil)
		host.opts.Passcode = "hunter2"
		client.opts.Passcode = "hunter3"
		l := listen(t, host)
		dial(t, l, client)

		ev := waitState(t, client.events, StateFailed)
		assert.ErrorIs(t, ev.Err, ErrRejected)
		ev = waitState(t, host.events, StateFailed)
		assert.ErrorIs(t, ev.Err, ErrAuthFailed)
	})

	t.Run("one sided", func(t *testing.T) {
		host := newEndpoint(t, "host", nil)
		client := newEndpoint(t, "guest", nil)
		host.opts.Passcode = "hunter2"
		l := listen(t, host)
		dial(t, l, client)

		ev := waitState(t, client.events, StateFailed)
		assert.ErrorIs(t, ev.Err, ErrRejected)
	})
}

func TestSessionKeyBindsServiceAndNonces(t *testing.T) {
	var a, b [_nonceSize]byte
	b[0] = 1
	k1, err := sessionKey("pw", "slingshot-p", a, b)
	require.NoError(t, err)
	k2, err := sessionKey("pw", "slingshot-p", a, b)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := sessionKey("pw", "slingshot-s", a, b)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
	k4, err := sessionKey("pw", "slingshot-p", b, a)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
	assert.NotEqual(t, proof(k1, RoleClient), proof(k1, RoleServer))
}

func TestAdmitRejects(t *testing.T) {
	host := newEndpoint(t, "host", nil)
	client := newEndpoint(t, "guest", nil)
	host.opts.Admit = func(p peer.Player) error {
		assert.Equal(t, "guest", p.Username)
		return assert.AnError
	}
	l := listen(t, host)
	c := dial(t, l, client)

	ev := waitState(t, client.events, StateFailed)
	assert.ErrorIs(t, ev.Err, ErrRejected)
	assert.Contains(t, ev.Err.Error(), assert.AnError.Error())
	assert.Equal(t, StateFailed, c.State())
	assert.ErrorIs(t, c.SendAction([]byte("late")), ErrConnClosed)
}

func TestDialFailurePublishesFailed(t *testing.T) {
	l := NewListener(tcpNetwork(t), "127.0.0.1:0", Options{}, ListenerHandler{})
	require.NoError(t, l.Start())
	addr := l.Addr().String()
	l.Close()

	client := newEndpoint(t, "guest", &Config{HandshakeTimeout: time.Second})
	c := NewClient(tcpNetwork(t), addr, client.opts)
	c.Start()
	waitState(t, client.events, StateConnecting)
	ev := waitState(t, client.events, StateFailed)
	assert.Error(t, ev.Err)
}

func TestCancelPublishesNothing(t *testing.T) {
	host := newEndpoint(t, "host", nil)
	client := newEndpoint(t, "guest", nil)
	c, _ := connectPair(t, host, client)

	c.Cancel()
	c.Cancel()
	assert.Equal(t, StateCancelled, c.State())
	assert.ErrorIs(t, c.SendAction([]byte("x")), ErrConnClosed)

	// The host notices the closed stream.
	waitState(t, host.events, StateFailed)
	select {
	case ev := <-client.events:
		t.Fatalf("unexpected event after cancel: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHeartbeatKeepsIdleLinkOpen(t *testing.T) {
	host := newEndpoint(t, "host", &Config{IdleTimeout: 300 * time.Millisecond})
	client := newEndpoint(t, "guest", &Config{IdleTimeout: 300 * time.Millisecond})
	c, s := connectPair(t, host, client)

	time.Sleep(time.Second)
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, StateReady, s.State())
}

func TestSendQueueFull(t *testing.T) {
	cfg := &Config{SendQueueSize: 1}
	require.NoError(t, cfg.Validate())
	c := newConn(RoleClient, "test", Options{Config: cfg})
	assert.ErrorIs(t, c.SendAction([]byte("early")), ErrNotReady)

	c.state.Store(int32(StateReady))
	require.NoError(t, c.SendAction([]byte("a")))
	assert.ErrorIs(t, c.SendAction([]byte("b")), ErrSendQueueFull)
}

func TestInboundRateLimit(t *testing.T) {
	events := make(chan Event, 8)
	cfg := &Config{ActionRate: 1, ActionBurst: 2}
	require.NoError(t, cfg.Validate())
	c := newConn(RoleServer, "test", Options{Config: cfg, Events: events})

	for i := 0; i < 5; i++ {
		c.handle(inFrame{typ: frame.Action, payload: []byte("x")})
	}
	assert.Len(t, events, 2)
}

func TestResourceTransfer(t *testing.T) {
	host := newEndpoint(t, "host", &Config{ChunkSize: 4096})
	client := newEndpoint(t, "guest", &Config{ChunkSize: 4096})
	c, _ := connectPair(t, host, client)

	content := make([]byte, 50_000)
	_, err := rand.Read(content)
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(src, content, 0o600))

	done := make(chan error, 2)
	c.SendResource(src, "Action", func(err error) { done <- err })
	// Actions sent during the transfer still arrive.
	require.NoError(t, c.SendAction([]byte("inline")))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(_waitTimeout):
		t.Fatal("resource send did not complete")
	}

	ev := waitFor(t, host.events, func(ev Event) bool { return ev.Kind == EventResource })
	require.NotNil(t, ev.Resource)
	assert.Equal(t, "Action", ev.Resource.Name)
	assert.Equal(t, int64(len(content)), ev.Resource.Size)
	got, err := os.ReadFile(ev.Resource.Path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
	require.NoError(t, os.Remove(ev.Resource.Path))

	_, err = os.Stat(src)
	assert.NoError(t, err, "sender keeps its file")
	assert.Empty(t, done, "done runs once")
}

func TestResourceSendMissingFile(t *testing.T) {
	host := newEndpoint(t, "host", nil)
	client := newEndpoint(t, "guest", nil)
	c, _ := connectPair(t, host, client)

	done := make(chan error, 1)
	c.SendResource(filepath.Join(t.TempDir(), "missing"), "Action", func(err error) { done <- err })
	select {
	case err := <-done:
		assert.ErrorIs(t, err, os.ErrNotExist)
	case <-time.After(_waitTimeout):
		t.Fatal("done not called")
	}
}

func TestPartialResourcesAreRemoved(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{TempDir: dir}
	require.NoError(t, cfg.Validate())
	events := make(chan Event, 8)
	c := newConn(RoleServer, "test", Options{Config: cfg, Events: events})

	start := func(id uint32, size int64) {
		payload, err := (&resourceStart{ID: id, Name: "Action", Size: size}).marshal()
		require.NoError(t, err)
		c.onResourceStart(payload)
	}
	chunk := func(id uint32, data string) {
		payload := make([]byte, _chunkIDSize+len(data))
		putChunkID(payload, id)
		copy(payload[_chunkIDSize:], data)
		c.onResourceChunk(payload)
	}
	spooled := func() int {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		return len(entries)
	}

	// aborted by the sender
	start(1, 10)
	chunk(1, "abc")
	assert.Equal(t, 1, spooled())
	c.onResourceEnd(marshalEnd(1, endAborted))
	assert.Equal(t, 0, spooled())

	// longer than announced
	start(2, 2)
	chunk(2, "abc")
	assert.Equal(t, 0, spooled())

	// shorter than announced
	start(3, 10)
	chunk(3, "abc")
	c.onResourceEnd(marshalEnd(3, endOK))
	assert.Equal(t, 0, spooled())

	// connection lost mid transfer
	start(4, 10)
	start(5, 10)
	chunk(4, "abc")
	assert.Equal(t, 2, spooled())
	c.dropIncoming()
	assert.Equal(t, 0, spooled())

	assert.Empty(t, events)
}

func TestOversizedResourceIsRefused(t *testing.T) {
	rep := metrics.NewMemoryReporter()
	metrics.SetMetricsReporters([]metrics.Reporter{rep})
	defer metrics.SetMetricsReporters(nil)

	host := newEndpoint(t, "host", &Config{ChunkSize: 4096, MaxResource: 8192})
	client := newEndpoint(t, "guest", &Config{ChunkSize: 4096})
	c, _ := connectPair(t, host, client)

	src := filepath.Join(t.TempDir(), "huge.bin")
	require.NoError(t, os.WriteFile(src, make([]byte, 50_000), 0o600))
	done := make(chan error, 1)
	c.SendResource(src, "Action", func(err error) { done <- err })
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(_waitTimeout):
		t.Fatal("done not called")
	}

	// The action is written after the resource end, so the host has handled the whole transfer.
	require.NoError(t, c.SendAction([]byte("after")))
	ev := waitFor(t, host.events, func(ev Event) bool { return ev.Kind == EventAction || ev.Kind == EventResource })
	require.Equal(t, EventAction, ev.Kind)
	assert.Equal(t, []byte("after"), ev.Payload)

	entries, err := os.ReadDir(host.opts.Config.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	v, ok := rep.Value(metrics.GroupSlingshot, metrics.NameResourceRecvTotal, metrics.Dimension{metrics.DimResult: resultRefused})
	require.True(t, ok)
	assert.Equal(t, metrics.Value(1), v)
}

func TestIncomingResourceLimits(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{TempDir: dir, MaxResource: 100, MaxIncoming: 1}
	require.NoError(t, cfg.Validate())
	events := make(chan Event, 8)
	c := newConn(RoleServer, "test", Options{Config: cfg, Events: events})

	start := func(id uint32, size int64) {
		payload, err := (&resourceStart{ID: id, Name: "Action", Size: size}).marshal()
		require.NoError(t, err)
		c.onResourceStart(payload)
	}
	chunk := func(id uint32, data string) {
		payload := make([]byte, _chunkIDSize+len(data))
		putChunkID(payload, id)
		copy(payload[_chunkIDSize:], data)
		c.onResourceChunk(payload)
	}
	spooled := func() int {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		return len(entries)
	}

	start(1, 101)
	assert.Equal(t, 0, spooled())
	assert.Empty(t, c.incoming)

	start(2, 3)
	start(3, 3)
	assert.Equal(t, 1, spooled())
	assert.Len(t, c.incoming, 1)
	chunk(3, "abc")
	c.onResourceEnd(marshalEnd(3, endOK))
	assert.Empty(t, events)

	chunk(2, "abc")
	c.onResourceEnd(marshalEnd(2, endOK))
	require.Len(t, events, 1)
	ev := <-events
	assert.Equal(t, EventResource, ev.Kind)
	assert.Equal(t, int64(3), ev.Resource.Size)
	require.NoError(t, os.Remove(ev.Resource.Path))
}

func TestCompletedResourceRemovedWhenUndeliverable(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{TempDir: dir}
	require.NoError(t, cfg.Validate())
	c := newConn(RoleServer, "test", Options{Config: cfg})

	payload, err := (&resourceStart{ID: 1, Name: "Action", Size: 3}).marshal()
	require.NoError(t, err)
	c.onResourceStart(payload)
	chunk := make([]byte, _chunkIDSize+3)
	putChunkID(chunk, 1)
	c.onResourceChunk(chunk)
	c.onResourceEnd(marshalEnd(1, endOK))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
