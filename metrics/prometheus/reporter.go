// Package prometheus exports metrics records through a Prometheus registry, served over HTTP and
// optionally pushed to a push gateway.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const _defaultChanSize = 65536

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	Tag          string            `mapstructure:"tag"`          // Plugin instance tag
	ListenAddr   string            `mapstructure:"listenAddr"`   // HTTP address serving MetricPath; empty serves nothing
	MetricPath   string            `mapstructure:"metricPath"`   // Defaults to "/metrics"
	UsePush      bool              `mapstructure:"usePush"`      // Also push to a push gateway
	PushAddr     string            `mapstructure:"pushAddr"`     // Push gateway URL
	PushJobName  string            `mapstructure:"pushJobName"`  // Job label used when pushing
	PushInterval time.Duration     `mapstructure:"pushInterval"` // Time between pushes
	ChanSize     int               `mapstructure:"chanSize"`     // Record queue length; full queues drop records
	ExtLabels    map[string]string `mapstructure:"extLabels"`    // Constant labels added to every series
}

// Validate fills defaults and checks the push settings.
func (c *ReporterConfig) Validate() error {
	if c.MetricPath == "" {
		c.MetricPath = "/metrics"
	}
	if c.ChanSize <= 0 {
		c.ChanSize = _defaultChanSize
	}
	if c.UsePush {
		if c.PushAddr == "" || c.PushJobName == "" {
			return errors.New("pushAddr and pushJobName are required when usePush is set")
		}
		if c.PushInterval <= 0 {
			return errors.New("pushInterval must be positive")
		}
	}
	return nil
}

// series is the Prometheus collector behind one metric name and label set. Sum policies map to
// counters and every other policy to a gauge.
type series struct {
	counter prometheus.Counter
	gauge   prometheus.Gauge
	// running totals for averaged policies; max and min keep the extreme in sum
	sum float64
	cnt int
}

// Reporter implements metrics.Reporter. Records are queued and merged on one goroutine.
type Reporter struct {
	cfg      *ReporterConfig
	registry *prometheus.Registry
	factory  promauto.Factory
	ch       chan metrics.Record // Queue drained by aggregate
	flushCh  chan chan struct{}  // Flush requests, answered after a drain
	series   map[string]*series  // Keyed by metrics.RecordKey; owned by aggregate
	server   *http.Server        // Nil when ListenAddr is empty
	addr     net.Addr
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewReporter builds a reporter and starts its aggregation loop. The HTTP endpoint and the
// pusher start only when configured.
func NewReporter(cfg *ReporterConfig) (*Reporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		cfg:      cfg,
		registry: reg,
		factory:  promauto.With(reg),
		ch:       make(chan metrics.Record, cfg.ChanSize),
		flushCh:  make(chan chan struct{}),
		series:   make(map[string]*series),
		ctx:      ctx,
		cancel:   cancel,
	}

	if cfg.ListenAddr != "" {
		if err := r.startHTTP(); err != nil {
			cancel()
			return nil, err
		}
	}
	r.wg.Add(1)
	go r.aggregate()
	if cfg.UsePush {
		r.wg.Add(1)
		go r.pushLoop()
	}
	return r, nil
}

// FactoryName implements plugin.Plugin.
func (r *Reporter) FactoryName() string {
	return _factoryName
}

// Report queues a record. Records are dropped when the queue is full.
func (r *Reporter) Report(rc metrics.Record) {
	select {
	case r.ch <- rc:
	default:
		log.Error().Str("metric", rc.Metrics().Name()).Msg("prometheus reporter queue full")
	}
}

// Addr returns the HTTP listen address, or nil when no endpoint is served.
func (r *Reporter) Addr() net.Addr {
	return r.addr
}

// Gatherer exposes the underlying registry.
func (r *Reporter) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Flush blocks until every record reported before the call has been merged or ctx expires.
func (r *Reporter) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case r.flushCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the endpoint and goroutines down.
func (r *Reporter) Stop() {
	r.cancel()
	if r.server != nil {
		if err := r.server.Close(); err != nil {
			log.Error().Err(err).Msg("prometheus http server close")
		}
	}
	r.wg.Wait()
}

// startHTTP binds ListenAddr synchronously so bind errors fail NewReporter, then serves
// the registry in the background.
func (r *Reporter) startHTTP() error {
	l, err := net.Listen("tcp", r.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("prometheus listen %s: %w", r.cfg.ListenAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle(r.cfg.MetricPath, promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	r.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	r.addr = l.Addr()
	go func() {
		if err := r.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("prometheus http server")
		}
	}()
	log.Info().Str("addr", l.Addr().String()).Str("path", r.cfg.MetricPath).Msg("prometheus endpoint listening")
	return nil
}

// aggregate is the only goroutine touching series.
func (r *Reporter) aggregate() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case rc := <-r.ch:
			r.merge(&rc)
		case done := <-r.flushCh:
			r.drain()
			close(done)
		}
	}
}

// drain merges whatever is queued right now without waiting for more.
func (r *Reporter) drain() {
	for {
		select {
		case rc := <-r.ch:
			r.merge(&rc)
		default:
			return
		}
	}
}

// pushLoop pushes the registry every PushInterval. Failed pushes are logged and retried on the
// next tick.
func (r *Reporter) pushLoop() {
	defer r.wg.Done()
	pusher := push.New(r.cfg.PushAddr, r.cfg.PushJobName).Gatherer(r.registry)
	t := time.NewTicker(r.cfg.PushInterval)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
			if err := pusher.PushContext(ctx); err != nil {
				log.Warn().Err(err).Str("gateway", r.cfg.PushAddr).Msg("prometheus push")
			}
			cancel()
		}
	}
}

// merge folds one record into its series, creating the series on first sight.
func (r *Reporter) merge(rc *metrics.Record) {
	key := metrics.RecordKey(rc)
	s, ok := r.series[key]
	if !ok {
		s = r.newSeries(rc)
		r.series[key] = s
	}

	m := rc.Metrics()
	switch m.Policy() {
	case metrics.PolicySum:
		v := float64(rc.Value())
		if v >= 0 { // Prometheus counters panic on negative increments
			s.counter.Add(v)
		}
	case metrics.PolicyAvg, metrics.PolicyStopwatch:
		v, c := rc.RawData()
		s.sum += float64(v)
		s.cnt += c
		if s.cnt > 0 {
			s.gauge.Set(s.sum / float64(s.cnt))
		}
	case metrics.PolicyMax:
		if !ok || float64(rc.Value()) > s.sum {
			s.sum = float64(rc.Value())
			s.gauge.Set(s.sum)
		}
	case metrics.PolicyMin:
		if !ok || float64(rc.Value()) < s.sum {
			s.sum = float64(rc.Value())
			s.gauge.Set(s.sum)
		}
	default:
		s.gauge.Set(float64(rc.Value()))
	}
}

func (r *Reporter) newSeries(rc *metrics.Record) *series {
	m := rc.Metrics()
	labels := make(prometheus.Labels, len(rc.Dimensions())+len(r.cfg.ExtLabels))
	for k, v := range r.cfg.ExtLabels {
		labels[k] = v
	}
	for k, v := range rc.Dimensions() {
		labels[k] = v
	}
	subsystem := sanitize(m.Group())
	name := sanitize(m.Name())

	if m.Policy() == metrics.PolicySum {
		return &series{counter: r.factory.NewCounter(prometheus.CounterOpts{
			Subsystem:   subsystem,
			Name:        name,
			Help:        name,
			ConstLabels: labels,
		})}
	}
	return &series{gauge: r.factory.NewGauge(prometheus.GaugeOpts{
		Subsystem:   subsystem,
		Name:        name,
		Help:        name,
		ConstLabels: labels,
	})}
}

// sanitize maps characters Prometheus rejects in metric names to underscores.
func sanitize(s string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(s)
}
