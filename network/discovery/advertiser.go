package discovery

import (
	"context"
	"sync"

	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/metrics"
)

// Advertiser makes one host discoverable. Start and Stop are idempotent.
type Advertiser struct {
	dir Directory

	mu     sync.Mutex
	rec    Record // Private copy; SetInfo edits it
	active bool   // Registered in dir
}

// NewAdvertiser prepares the advertisement of rec in dir.
func NewAdvertiser(dir Directory, rec Record) *Advertiser {
	return &Advertiser{dir: dir, rec: rec.clone()}
}

// Start registers the record unless it is already advertised.
func (a *Advertiser) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return nil
	}
	if err := a.dir.Register(ctx, a.rec); err != nil {
		return err
	}
	a.active = true
	log.Info().Stringer("host", a.rec.Host).Str("service", a.rec.Service).Msg("advertising")
	metrics.UpdateGaugeWithGroup(metrics.NameAdvertisingActive, metrics.GroupSlingshot, 1)
	return nil
}

// Stop removes the record if it is advertised.
func (a *Advertiser) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return nil
	}
	if err := a.dir.Deregister(ctx, a.rec.Service, a.rec.Host.ID); err != nil {
		return err
	}
	a.active = false
	log.Info().Stringer("host", a.rec.Host).Msg("stop advertising")
	metrics.UpdateGaugeWithGroup(metrics.NameAdvertisingActive, metrics.GroupSlingshot, 0)
	return nil
}

// Active reports whether the record is currently registered.
func (a *Advertiser) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// SetInfo changes one discovery-info entry. An active advertisement is updated at once,
// otherwise the value is used by the next Start.
func (a *Advertiser) SetInfo(ctx context.Context, key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.Info[key] = value
	if !a.active {
		return nil
	}
	return a.dir.Register(ctx, a.rec)
}
