package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/metrics"
	"github.com/linchenxuan/slingshot/network/peer"
)

const (
	_defaultBrowseBackoff = time.Second
	_browseBuffer         = 16 // Updates queued between the directory and the browser
)

// BrowserOptions configure a Browser.
type BrowserOptions struct {
	// Local is skipped when it shows up in the directory.
	Local peer.Player
	// AppID filters out games of other applications and versions.
	AppID string
	// Service selects players or spectators. Empty means PlayerService.
	Service string
	// RestartBackoff is the wait before browsing again after ErrDefunctConnection.
	RestartBackoff time.Duration
	// OnGames receives the full list of games after every change. It runs on the browse goroutine.
	OnGames func(games []NetworkGame)
	// OnFailed receives the error that stopped browsing for good.
	OnFailed func(err error)
}

// Browser keeps the list of joinable games of one service.
type Browser struct {
	dir  Directory
	opts BrowserOptions

	mu    sync.Mutex
	games map[peer.ID]NetworkGame // Current list, keyed by host

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
	stop   sync.Once
}

// NewBrowser prepares a browser over dir. It does nothing until Start.
func NewBrowser(dir Directory, opts BrowserOptions) *Browser {
	if opts.Service == "" {
		opts.Service = PlayerService
	}
	if opts.RestartBackoff <= 0 {
		opts.RestartBackoff = _defaultBrowseBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Browser{dir: dir, opts: opts, games: make(map[peer.ID]NetworkGame), ctx: ctx, cancel: cancel}
}

// Start begins browsing. Later calls do nothing.
func (b *Browser) Start() {
	b.start.Do(func() {
		log.Info().Str("service", b.opts.Service).Msg("looking for games")
		b.wg.Add(1)
		go b.run()
	})
}

// Stop ends browsing, clears the list and posts it empty. No callback runs after Stop returns.
func (b *Browser) Stop() {
	b.stop.Do(func() {
		b.cancel()
		b.wg.Wait()
		b.mu.Lock()
		clear(b.games)
		b.mu.Unlock()
		log.Info().Str("service", b.opts.Service).Msg("stopped looking for games")
		if b.opts.OnGames != nil {
			b.opts.OnGames(nil)
		}
	})
}

// Games returns the current list ordered by host name.
func (b *Browser) Games() []NetworkGame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Lookup returns the game hosted by id, if it is currently listed.
func (b *Browser) Lookup(id peer.ID) (NetworkGame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.games[id]
	return g, ok
}

// snapshotLocked copies the list sorted by host name, then host id for equal names.
func (b *Browser) snapshotLocked() []NetworkGame {
	out := make([]NetworkGame, 0, len(b.games))
	for _, g := range b.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host.Username != out[j].Host.Username {
			return out[i].Host.Username < out[j].Host.Username
		}
		return out[i].Host.ID.String() < out[j].Host.ID.String()
	})
	return out
}

// run browses until Stop, restarting after ErrDefunctConnection. Any other end of a browse,
// including a clean return, is terminal and clears the list.
func (b *Browser) run() {
	defer b.wg.Done()
	for {
		err := b.browseOnce()
		if b.ctx.Err() != nil {
			return
		}
		if !errors.Is(err, ErrDefunctConnection) {
			if err == nil {
				err = errors.New("discovery: browse ended")
			}
			log.Error().Err(err).Str("service", b.opts.Service).Msg("browse failed")
			b.replace(nil)
			if b.opts.OnFailed != nil {
				b.opts.OnFailed(err)
			}
			return
		}
		log.Warn().Err(err).Dur("backoff", b.opts.RestartBackoff).Msg("browse interrupted, restarting")
		metrics.IncrCounterWithGroup(metrics.NameBrowseRestartTotal, metrics.GroupSlingshot, 1)
		select {
		case <-b.ctx.Done():
			return
		case <-time.After(b.opts.RestartBackoff):
		}
	}
}

// browseOnce runs one directory browse and applies its updates until it returns.
func (b *Browser) browseOnce() error {
	ctx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	updates := make(chan Update, _browseBuffer)
	done := make(chan error, 1)
	go func() { done <- b.dir.Browse(ctx, b.opts.Service, updates) }()

	// The initial listing is collected and replaces the list at once on Synced.
	pending := make(map[peer.ID]NetworkGame)
	apply := func(u Update) {
		switch u.Kind {
		case Synced:
			b.replace(pending)
			pending = nil
		case Found:
			if !b.accept(u.Record) {
				return
			}
			g := gameFromRecord(u.Record)
			if pending != nil {
				pending[g.Host.ID] = g
				return
			}
			b.update(func(games map[peer.ID]NetworkGame) bool {
				games[g.Host.ID] = g
				return true
			})
		case Lost:
			if pending != nil {
				delete(pending, u.Record.Host.ID)
				return
			}
			b.update(func(games map[peer.ID]NetworkGame) bool {
				if _, ok := games[u.Record.Host.ID]; !ok {
					return false
				}
				delete(games, u.Record.Host.ID)
				return true
			})
		}
	}

	for {
		select {
		case u := <-updates:
			apply(u)
		case err := <-done:
			// Drain what the browse queued before it returned.
			for {
				select {
				case u := <-updates:
					apply(u)
				default:
					return err
				}
			}
		}
	}
}

// accept filters out the local player and games of another application.
func (b *Browser) accept(rec Record) bool {
	if rec.Host.Equal(b.opts.Local) {
		log.Debug().Msg("found myself, ignoring")
		return false
	}
	if appID := rec.Info[AttrAppID]; appID != b.opts.AppID {
		log.Info().Str("appID", appID).Stringer("host", rec.Host).Msg("app identifier does not match, ignoring")
		return false
	}
	return true
}

// replace swaps the whole list. An empty listing still posts once so the application learns
// that the directory answered.
func (b *Browser) replace(games map[peer.ID]NetworkGame) {
	b.update(func(cur map[peer.ID]NetworkGame) bool {
		if len(cur) == 0 && len(games) == 0 {
			return games != nil
		}
		clear(cur)
		for id, g := range games {
			cur[id] = g
		}
		return true
	})
}

// update applies fn to the list and posts the result when fn reports a change.
func (b *Browser) update(fn func(games map[peer.ID]NetworkGame) bool) {
	b.mu.Lock()
	changed := fn(b.games)
	snapshot := b.snapshotLocked()
	b.mu.Unlock()
	if !changed {
		return
	}
	metrics.UpdateGaugeWithGroup(metrics.NameBrowseGames, metrics.GroupSlingshot, metrics.Value(len(snapshot)))
	if b.opts.OnGames != nil && b.ctx.Err() == nil {
		b.opts.OnGames(snapshot)
	}
}
