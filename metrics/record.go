package metrics

import "fmt"

// Record represents a single metric measurement with its metadata.
// It carries the instrument that produced it, the measured value, an observation count
// used by averaged policies, and the dimensions used as labels.
type Record struct {
	metrics    Metrics   // The instrument being recorded
	value      Value     // The measured value, summed for averaged policies
	cnt        int       // Number of observations folded into value
	dimensions Dimension // Key-value pairs for metric labeling
}

// NewRecord builds a record outside of the instrument helpers.
// Reporters receive records from instruments; this constructor exists for code that
// replays or synthesizes measurements, such as reporter tests.
func NewRecord(m Metrics, v Value, cnt int, dimensions Dimension) Record {
	return Record{metrics: m, value: v, cnt: cnt, dimensions: dimensions}
}

// Clone creates a deep copy of the Record, including its dimensions.
// Reporters that keep records beyond the Report call must clone them first.
func (r *Record) Clone() *Record {
	cp := &Record{metrics: r.metrics, value: r.value, cnt: r.cnt}
	cp.dimensions = make(Dimension, len(r.dimensions))
	for k, v := range r.dimensions {
		cp.dimensions[k] = v
	}
	return cp
}

// Metrics returns the metric definition associated with this record.
func (r *Record) Metrics() Metrics {
	return r.metrics
}

// Value returns the processed value based on the metric's aggregation policy.
// For PolicyAvg and PolicyStopwatch it returns the average value (value/count).
// For other policies it returns the raw value.
func (r *Record) Value() Value {
	switch r.metrics.Policy() {
	case PolicyAvg, PolicyStopwatch:
		if r.cnt != 0 {
			return r.value / Value(r.cnt)
		}
	}
	return r.value
}

// RawData returns the unprocessed value and observation count.
// Aggregating reporters use it to merge averages without losing precision.
func (r *Record) RawData() (Value, int) {
	return r.value, r.cnt
}

// Dimensions returns the key-value labels attached to this record.
func (r *Record) Dimensions() Dimension {
	return r.dimensions
}

// Merge folds other into r according to the metric's policy.
// Both records must belong to the same series: same group, name, policy and dimensions.
// Set keeps the newer value, Sum adds, Max and Min keep the extreme, and the averaged
// policies add both the values and the counts.
func (r *Record) Merge(other Record) error {
	if r.metrics.Name() != other.metrics.Name() || r.metrics.Group() != other.metrics.Group() {
		return fmt.Errorf("merge %s.%s with %s.%s", r.metrics.Group(), r.metrics.Name(),
			other.metrics.Group(), other.metrics.Name())
	}
	if r.metrics.Policy() != other.metrics.Policy() {
		return fmt.Errorf("merge %s: policy %s with %s", r.metrics.Name(), r.metrics.Policy(), other.metrics.Policy())
	}
	if len(r.dimensions) != len(other.dimensions) {
		return fmt.Errorf("merge %s: %d dimensions with %d", r.metrics.Name(), len(r.dimensions), len(other.dimensions))
	}
	for k, v := range r.dimensions {
		if v2, ok := other.dimensions[k]; !ok || v != v2 {
			return fmt.Errorf("merge %s: dimension %s differs", r.metrics.Name(), k)
		}
	}

	switch r.metrics.Policy() {
	case PolicySet:
		r.value = other.value
	case PolicySum:
		r.value += other.value
	case PolicyMax:
		if other.value > r.value {
			r.value = other.value
		}
	case PolicyMin:
		if other.value < r.value {
			r.value = other.value
		}
	case PolicyAvg, PolicyStopwatch:
		r.value += other.value
		r.cnt += other.cnt
	default:
		return fmt.Errorf("merge %s: unsupported policy %s", r.metrics.Name(), r.metrics.Policy())
	}
	return nil
}
