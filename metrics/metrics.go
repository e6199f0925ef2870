package metrics

import (
	"sync"
	"time"
)

// Metrics is implemented by every instrument.
// Reporters identify a series by group, name and dimensions.
type Metrics interface {
	// Name is the metric name within its group, e.g. "frame_send_total".
	Name() string
	// Group namespaces related metrics; reporters use it as a prefix.
	Group() string
	// Policy tells reporters how to combine successive values.
	Policy() Policy
}

// Counter accumulates values.
type Counter interface {
	Metrics
	// Incr adds delta to the series without dimensions.
	Incr(delta Value)
	// IncrWithDim adds delta to the series labelled by dimensions.
	IncrWithDim(delta Value, dimensions Dimension)
}

// Gauge reports a point-in-time value. Average, max and min gauges share this interface.
type Gauge interface {
	Metrics
	// Update reports value for the series without dimensions.
	Update(value Value)
	// UpdateWithDim reports value for the series labelled by dimensions.
	UpdateWithDim(value Value, dimensions Dimension)
}

// StopWatch reports elapsed time in milliseconds.
type StopWatch interface {
	Metrics
	// RecordWithDim reports the time elapsed since startTime and returns it.
	RecordWithDim(dimensions Dimension, startTime time.Time) time.Duration
}

// instrument is the single implementation behind every interface above; only the policy differs.
type instrument struct {
	name   string
	group  string
	policy Policy
}

func (m *instrument) Name() string   { return m.name }
func (m *instrument) Group() string  { return m.group }
func (m *instrument) Policy() Policy { return m.policy }

func (m *instrument) Incr(delta Value)   { m.report(delta, nil) }
func (m *instrument) Update(value Value) { m.report(value, nil) }

func (m *instrument) IncrWithDim(delta Value, dimensions Dimension) {
	m.report(delta, dimensions)
}

func (m *instrument) UpdateWithDim(value Value, dimensions Dimension) {
	m.report(value, dimensions)
}

func (m *instrument) RecordWithDim(dimensions Dimension, startTime time.Time) time.Duration {
	d := time.Since(startTime)
	m.report(Value(float64(d.Microseconds())/1000), dimensions)
	return d
}

func (m *instrument) report(v Value, dimensions Dimension) {
	r := Record{metrics: m, value: v, dimensions: dimensions}
	if m.policy == PolicyAvg || m.policy == PolicyStopwatch {
		r.cnt = 1
	}
	for _, reporter := range reporters() {
		reporter.Report(r)
	}
}

// registry lazily creates one instrument per name and policy.
type registry struct {
	policy Policy
	lock   sync.RWMutex
	byName map[string]*instrument
}

func newRegistry(p Policy) *registry {
	return &registry{policy: p, byName: make(map[string]*instrument)}
}

func (r *registry) get(name, group string) *instrument {
	r.lock.RLock()
	m, ok := r.byName[name]
	r.lock.RUnlock()
	if ok {
		return m
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if m, ok = r.byName[name]; ok {
		return m
	}
	m = &instrument{name: name, group: group, policy: r.policy}
	r.byName[name] = m
	return m
}

var (
	_counters   = newRegistry(PolicySum)
	_gauges     = newRegistry(PolicySet)
	_avgGauges  = newRegistry(PolicyAvg)
	_maxGauges  = newRegistry(PolicyMax)
	_minGauges  = newRegistry(PolicyMin)
	_stopwatchs = newRegistry(PolicyStopwatch)
)

// IncrCounterWithGroup increases a counter.
func IncrCounterWithGroup(key string, group string, value Value) {
	_counters.get(key, group).Incr(value)
}

// IncrCounterWithDimGroup increases a counter with dimensions.
func IncrCounterWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_counters.get(key, group).IncrWithDim(value, dimensions)
}

// UpdateGaugeWithGroup sets a gauge.
func UpdateGaugeWithGroup(key string, group string, value Value) {
	_gauges.get(key, group).Update(value)
}

// UpdateGaugeWithDimGroup sets a gauge with dimensions.
func UpdateGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_gauges.get(key, group).UpdateWithDim(value, dimensions)
}

// UpdateAvgGaugeWithGroup adds an observation to an average gauge.
func UpdateAvgGaugeWithGroup(key string, group string, value Value) {
	_avgGauges.get(key, group).Update(value)
}

// UpdateMaxGaugeWithDimGroup offers a value to a max gauge.
func UpdateMaxGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_maxGauges.get(key, group).UpdateWithDim(value, dimensions)
}

// UpdateMinGaugeWithGroup offers a value to a min gauge.
func UpdateMinGaugeWithGroup(key string, group string, value Value) {
	_minGauges.get(key, group).Update(value)
}

// RecordStopwatchWithGroup records the time elapsed since startTime.
func RecordStopwatchWithGroup(key string, group string, startTime time.Time) time.Duration {
	return _stopwatchs.get(key, group).RecordWithDim(nil, startTime)
}

// RecordStopwatchWithDimGroup records the time elapsed since startTime with dimensions.
func RecordStopwatchWithDimGroup(key string, group string, startTime time.Time, dimensions Dimension) time.Duration {
	return _stopwatchs.get(key, group).RecordWithDim(dimensions, startTime)
}
