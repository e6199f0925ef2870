package metrics

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Reporter receives every metric update.
// Report is called synchronously on the goroutine that updated the metric, so
// implementations must be safe for concurrent use and must not block.
type Reporter interface {
	Report(r Record)
}

var _reporters atomic.Pointer[[]Reporter]

// SetMetricsReporters replaces the reporters that receive metric updates.
func SetMetricsReporters(rs []Reporter) {
	cp := append([]Reporter(nil), rs...)
	_reporters.Store(&cp)
}

// AddReporter appends a reporter to the current list.
func AddReporter(r Reporter) {
	for {
		old := _reporters.Load()
		var next []Reporter
		if old != nil {
			next = append(next, *old...)
		}
		next = append(next, r)
		if _reporters.CompareAndSwap(old, &next) {
			return
		}
	}
}

func reporters() []Reporter {
	if p := _reporters.Load(); p != nil {
		return *p
	}
	return nil
}

// MemoryReporter merges records in memory by metric and dimensions.
// It backs tests and local diagnostics.
type MemoryReporter struct {
	lock    sync.Mutex
	records map[string]*Record
}

// NewMemoryReporter returns an empty MemoryReporter.
func NewMemoryReporter() *MemoryReporter {
	return &MemoryReporter{records: make(map[string]*Record)}
}

// Report merges r into the stored aggregate.
func (m *MemoryReporter) Report(r Record) {
	key := RecordKey(&r)
	m.lock.Lock()
	defer m.lock.Unlock()
	if cur, ok := m.records[key]; ok {
		_ = cur.Merge(r)
		return
	}
	m.records[key] = r.Clone()
}

// Value returns the aggregated value of name with exactly the given dimensions.
func (m *MemoryReporter) Value(group, name string, dimensions Dimension) (Value, bool) {
	key := recordKey(group, name, dimensions)
	m.lock.Lock()
	defer m.lock.Unlock()
	r, ok := m.records[key]
	if !ok {
		return 0, false
	}
	return r.Value(), true
}

// Sum adds up every series of name regardless of dimensions.
func (m *MemoryReporter) Sum(group, name string) Value {
	m.lock.Lock()
	defer m.lock.Unlock()
	var total Value
	for _, r := range m.records {
		if r.metrics.Group() == group && r.metrics.Name() == name {
			total += r.Value()
		}
	}
	return total
}

// RecordKey identifies the series a record belongs to.
func RecordKey(r *Record) string {
	return recordKey(r.metrics.Group(), r.metrics.Name(), r.dimensions)
}

func recordKey(group, name string, dimensions Dimension) string {
	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(group)
	sb.WriteString("*")
	sb.WriteString(name)
	sb.WriteString("*")
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(":")
		sb.WriteString(dimensions[k])
		sb.WriteString(",")
	}
	return sb.String()
}
