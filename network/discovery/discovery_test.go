package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/linchenxuan/slingshot/metrics"
	"github.com/linchenxuan/slingshot/network/peer"
	"github.com/linchenxuan/slingshot/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	_appID       = "com.example.slingshot"
	_waitTimeout = 5 * time.Second
)

func hostRecord(name string) Record {
	return Record{
		Service: PlayerService,
		Host:    peer.New(name),
		Info: map[string]string{
			AttrAppID:    _appID,
			AttrGameName: name + "'s table",
			AttrLocation: "3",
			AttrAddress:  "127.0.0.1:7000",
			AttrNetwork:  "tcp",
		},
	}
}

// gameLog records OnGames posts.
type gameLog struct {
	mu    sync.Mutex
	posts [][]NetworkGame
}

func (l *gameLog) onGames(games []NetworkGame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.posts = append(l.posts, games)
}

func (l *gameLog) last() ([]NetworkGame, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.posts) == 0 {
		return nil, 0
	}
	return l.posts[len(l.posts)-1], len(l.posts)
}

func (l *gameLog) waitLen(t *testing.T, n int) []NetworkGame {
	t.Helper()
	var games []NetworkGame
	require.Eventually(t, func() bool {
		var posts int
		games, posts = l.last()
		return posts > 0 && len(games) == n
	}, _waitTimeout, 5*time.Millisecond)
	return games
}

func TestGameFromRecord(t *testing.T) {
	rec := hostRecord("alice")
	g := gameFromRecord(rec)
	assert.True(t, g.Host.Equal(rec.Host))
	assert.Equal(t, "alice's table", g.Name)
	assert.Equal(t, 3, g.Location)
	assert.Equal(t, "127.0.0.1:7000", g.Address)
	assert.Equal(t, "tcp", g.Network)

	rec.Info[AttrLocation] = "nowhere"
	assert.Zero(t, gameFromRecord(rec).Location)
}

func TestRecordValidation(t *testing.T) {
	d := NewMemoryDirectory()
	err := d.Register(context.Background(), Record{Host: peer.New("x")})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	err = d.Register(context.Background(), Record{Service: PlayerService})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestMemoryDirectoryBrowse(t *testing.T) {
	d := NewMemoryDirectory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	alice := hostRecord("alice")
	require.NoError(t, d.Register(ctx, alice))

	out := make(chan Update, 16)
	done := make(chan error, 1)
	go func() { done <- d.Browse(ctx, PlayerService, out) }()

	u := <-out
	assert.Equal(t, Found, u.Kind)
	assert.True(t, u.Record.Host.Equal(alice.Host))
	assert.Equal(t, Synced, (<-out).Kind)

	bob := hostRecord("bob")
	require.NoError(t, d.Register(ctx, bob))
	u = <-out
	assert.Equal(t, Found, u.Kind)
	assert.Equal(t, "bob", u.Record.Host.Username)

	spectators := hostRecord("carol")
	spectators.Service = SpectatorService
	require.NoError(t, d.Register(ctx, spectators))

	require.NoError(t, d.Deregister(ctx, PlayerService, alice.Host.ID))
	require.NoError(t, d.Deregister(ctx, PlayerService, alice.Host.ID))
	u = <-out
	assert.Equal(t, Lost, u.Kind)
	assert.True(t, u.Record.Host.Equal(alice.Host))

	d.Disconnect()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDefunctConnection)
	case <-time.After(_waitTimeout):
		t.Fatal("browse did not end")
	}
	assert.Empty(t, out)
}

func TestMemoryDirectoryCopiesRecords(t *testing.T) {
	d := NewMemoryDirectory()
	rec := hostRecord("alice")
	require.NoError(t, d.Register(context.Background(), rec))
	rec.Info[AttrGameName] = "changed"

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Update, 4)
	go func() { _ = d.Browse(ctx, PlayerService, out) }()
	u := <-out
	cancel()
	assert.Equal(t, "alice's table", u.Record.Info[AttrGameName])
}

func TestAdvertiserIsIdempotent(t *testing.T) {
	rep := metrics.NewMemoryReporter()
	metrics.SetMetricsReporters([]metrics.Reporter{rep})
	defer metrics.SetMetricsReporters(nil)

	d := NewMemoryDirectory()
	ctx := context.Background()
	rec := hostRecord("alice")
	a := NewAdvertiser(d, rec)

	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Start(ctx))
	assert.True(t, a.Active())
	assert.Len(t, d.records[PlayerService], 1)
	v, ok := rep.Value(metrics.GroupSlingshot, metrics.NameAdvertisingActive, nil)
	require.True(t, ok)
	assert.Equal(t, metrics.Value(1), v)

	require.NoError(t, a.SetInfo(ctx, AttrLocation, "5"))
	assert.Equal(t, "5", d.records[PlayerService][rec.Host.ID].Info[AttrLocation])

	require.NoError(t, a.Stop(ctx))
	require.NoError(t, a.Stop(ctx))
	assert.False(t, a.Active())
	assert.Empty(t, d.records[PlayerService])

	require.NoError(t, a.SetInfo(ctx, AttrLocation, "6"))
	assert.Empty(t, d.records[PlayerService])
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, "6", d.records[PlayerService][rec.Host.ID].Info[AttrLocation])
}

func TestBrowserListsMatchingGames(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	me := peer.New("me")
	var games gameLog

	alice := hostRecord("alice")
	require.NoError(t, d.Register(ctx, alice))
	other := hostRecord("mallory")
	other.Info[AttrAppID] = "com.example.other"
	require.NoError(t, d.Register(ctx, other))
	self := hostRecord("me")
	self.Host = me
	require.NoError(t, d.Register(ctx, self))

	b := NewBrowser(d, BrowserOptions{Local: me, AppID: _appID, OnGames: games.onGames})
	b.Start()
	b.Start()

	list := games.waitLen(t, 1)
	assert.Equal(t, "alice", list[0].Host.Username)
	g, ok := b.Lookup(alice.Host.ID)
	require.True(t, ok)
	assert.Equal(t, 3, g.Location)
	_, ok = b.Lookup(other.Host.ID)
	assert.False(t, ok)

	bob := hostRecord("bob")
	require.NoError(t, d.Register(ctx, bob))
	list = games.waitLen(t, 2)
	assert.Equal(t, "alice", list[0].Host.Username)
	assert.Equal(t, "bob", list[1].Host.Username)

	require.NoError(t, d.Deregister(ctx, PlayerService, alice.Host.ID))
	list = games.waitLen(t, 1)
	assert.Equal(t, "bob", list[0].Host.Username)
	assert.Len(t, b.Games(), 1)

	b.Stop()
	list, _ = games.last()
	assert.Empty(t, list)
	assert.Empty(t, b.Games())
	_, ok = b.Lookup(bob.Host.ID)
	assert.False(t, ok)
}

func TestBrowserPostsEmptyListWhenReady(t *testing.T) {
	var games gameLog
	b := NewBrowser(NewMemoryDirectory(), BrowserOptions{AppID: _appID, OnGames: games.onGames})
	b.Start()
	defer b.Stop()
	games.waitLen(t, 0)
}

func TestBrowserRestartsAfterDefunctConnection(t *testing.T) {
	rep := metrics.NewMemoryReporter()
	metrics.SetMetricsReporters([]metrics.Reporter{rep})
	defer metrics.SetMetricsReporters(nil)

	d := NewMemoryDirectory()
	ctx := context.Background()
	var games gameLog
	b := NewBrowser(d, BrowserOptions{AppID: _appID, RestartBackoff: 10 * time.Millisecond, OnGames: games.onGames})
	b.Start()
	defer b.Stop()
	games.waitLen(t, 0)

	d.Disconnect()
	require.Eventually(t, func() bool {
		return rep.Sum(metrics.GroupSlingshot, metrics.NameBrowseRestartTotal) >= 1
	}, _waitTimeout, 5*time.Millisecond)

	// Records registered after the restart are still seen.
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.watchers) == 1
	}, _waitTimeout, 5*time.Millisecond)
	require.NoError(t, d.Register(ctx, hostRecord("alice")))
	games.waitLen(t, 1)
}

type failingDirectory struct {
	*MemoryDirectory
	err error
}

func (d failingDirectory) Browse(context.Context, string, chan<- Update) error { return d.err }

func TestBrowserStopsOnTerminalError(t *testing.T) {
	failed := make(chan error, 1)
	boom := assert.AnError
	b := NewBrowser(failingDirectory{NewMemoryDirectory(), boom}, BrowserOptions{
		AppID:    _appID,
		OnFailed: func(err error) { failed <- err },
	})
	b.Start()
	defer b.Stop()
	select {
	case err := <-failed:
		assert.ErrorIs(t, err, boom)
	case <-time.After(_waitTimeout):
		t.Fatal("OnFailed not called")
	}
}

func TestEtcdRecordEncoding(t *testing.T) {
	rec := hostRecord("alice")
	value, err := encodeRecord(rec)
	require.NoError(t, err)

	key := recordKey(PlayerService, rec.Host.ID)
	got, err := decodeRecord(PlayerService, key, value)
	require.NoError(t, err)
	assert.True(t, got.Host.Equal(rec.Host))
	assert.Equal(t, "alice", got.Host.Username)
	assert.Equal(t, rec.Info, got.Info)

	st := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(value, st))
	assert.Equal(t, "alice", st.GetFields()[_fieldUsername].GetStringValue())

	_, err = decodeRecord(SpectatorService, key, value)
	assert.Error(t, err)
	_, err = decodeRecord(PlayerService, PlayerService+"/not-an-id", value)
	assert.Error(t, err)
	_, err = decodeRecord(PlayerService, key, []byte{0xff, 0xff})
	assert.Error(t, err)
}

func TestEtcdConfigValidate(t *testing.T) {
	assert.Error(t, (&EtcdConfig{}).Validate())
	c := &EtcdConfig{Endpoints: []string{"127.0.0.1:2379"}, Prefix: "games"}
	require.NoError(t, c.Validate())
	assert.Equal(t, "games/", c.Prefix)
	assert.Equal(t, int64(10), c.LeaseTTL)
	assert.Equal(t, 2*time.Second, c.DialTimeout)
}

func TestDirectoryFactories(t *testing.T) {
	m := plugin.NewManager()
	m.RegisterFactory(NewMemoryFactory())
	m.RegisterFactory(NewEtcdFactory())
	require.NoError(t, m.SetupPlugins(map[string]any{
		"directory": map[string]any{
			"memory": map[string]any{},
			"etcd": map[string]any{
				"tag":         "shared",
				"endpoints":   []any{"127.0.0.1:2379"},
				"dialTimeout": "500ms",
				"leaseTTL":    5,
			},
		},
	}))
	defer m.DestroyPlugins()

	p, err := m.GetDefaultPlugin(plugin.Directory)
	require.NoError(t, err)
	_, ok := p.(*MemoryDirectory)
	assert.True(t, ok)

	p, err = m.GetPlugin(plugin.Directory, "shared")
	require.NoError(t, err)
	e, ok := p.(*EtcdDirectory)
	require.True(t, ok)
	assert.Equal(t, int64(5), e.cfg.LeaseTTL)
	assert.Equal(t, 500*time.Millisecond, e.cfg.DialTimeout)
}
