package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/linchenxuan/slingshot/network/peer"
)

const _memoryWatchBuffer = 64

// MemoryDirectory keeps records in process. A browse that falls more than a buffer behind is
// dropped with ErrDefunctConnection, like a directory connection that timed out.
type MemoryDirectory struct {
	mu       sync.Mutex
	records  map[string]map[peer.ID]Record // service -> host -> record
	watchers map[*memoryWatch]struct{}
}

// memoryWatch is one running Browse.
type memoryWatch struct {
	service string
	updates chan Update // Buffered; overflowing it kills the watch
	dead    chan error  // Receives the error that ended the watch
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		records:  make(map[string]map[peer.ID]Record),
		watchers: make(map[*memoryWatch]struct{}),
	}
}

// FactoryName implements plugin.Plugin.
func (d *MemoryDirectory) FactoryName() string { return _memoryFactoryName }

// Register stores a copy of rec and notifies every browse of its service.
func (d *MemoryDirectory) Register(_ context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	rec = rec.clone()
	d.mu.Lock()
	defer d.mu.Unlock()
	byHost, ok := d.records[rec.Service]
	if !ok {
		byHost = make(map[peer.ID]Record)
		d.records[rec.Service] = byHost
	}
	byHost[rec.Host.ID] = rec
	d.notify(Update{Kind: Found, Record: rec})
	return nil
}

// Deregister removes the record and notifies browses with the removed record.
func (d *MemoryDirectory) Deregister(_ context.Context, service string, id peer.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[service][id]
	if !ok {
		return nil
	}
	delete(d.records[service], id)
	d.notify(Update{Kind: Lost, Record: rec})
	return nil
}

// Browse implements Directory.
func (d *MemoryDirectory) Browse(ctx context.Context, service string, out chan<- Update) error {
	w := &memoryWatch{
		service: service,
		updates: make(chan Update, _memoryWatchBuffer),
		dead:    make(chan error, 1),
	}
	d.mu.Lock()
	snapshot := make([]Record, 0, len(d.records[service]))
	for _, rec := range d.records[service] {
		snapshot = append(snapshot, rec.clone())
	}
	// Registered under the same lock as the snapshot, so no update falls between the two.
	d.watchers[w] = struct{}{}
	d.mu.Unlock()
	defer d.unwatch(w)

	for _, rec := range snapshot {
		if !send(ctx, out, Update{Kind: Found, Record: rec}) {
			return nil
		}
	}
	if !send(ctx, out, Update{Kind: Synced}) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-w.dead:
			return err
		case u := <-w.updates:
			if !send(ctx, out, u) {
				return nil
			}
		}
	}
}

// Disconnect fails every running browse with ErrDefunctConnection.
func (d *MemoryDirectory) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for w := range d.watchers {
		d.kill(w, fmt.Errorf("%w: directory disconnected", ErrDefunctConnection))
	}
}

// notify must be called with mu held.
func (d *MemoryDirectory) notify(u Update) {
	for w := range d.watchers {
		if w.service != u.Record.Service {
			continue
		}
		select {
		case w.updates <- u:
		default:
			d.kill(w, fmt.Errorf("%w: browse fell behind", ErrDefunctConnection))
		}
	}
}

// kill ends a watch with err. mu must be held.
func (d *MemoryDirectory) kill(w *memoryWatch, err error) {
	delete(d.watchers, w)
	w.dead <- err
}

func (d *MemoryDirectory) unwatch(w *memoryWatch) {
	d.mu.Lock()
	delete(d.watchers, w)
	d.mu.Unlock()
}
