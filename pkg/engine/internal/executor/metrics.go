package executor

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Metric names reported by operators.
const (
	MetricOutputRows    = "output_rows"
	MetricOutputBatches = "output_batches"
	// MetricElapsed is the wall time spent in Read in nanoseconds, including
	// the time spent in inputs.
	MetricElapsed = "elapsed_compute"

	MetricRowGroupsTotal   = "row_groups_total"
	MetricRowGroupsPruned  = "row_groups_pruned"
	MetricPagesTotal       = "pages_total"
	MetricPagesPruned      = "pages_pruned"
	MetricRowsScanned      = "rows_scanned"
	MetricRowsPrunedByPred = "rows_pruned_by_predicate"
)

// OperatorMetrics holds the counters of a single operator. Counters are
// safe for concurrent use since prefetching scans update them from their
// own goroutine. Counters are listed in the order they were first added.
type OperatorMetrics struct {
	mtx      sync.Mutex
	names    []string
	counters map[string]*atomic.Int64
}

func newOperatorMetrics() *OperatorMetrics {
	return &OperatorMetrics{counters: make(map[string]*atomic.Int64)}
}

func (m *OperatorMetrics) counter(name string) *atomic.Int64 {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = atomic.NewInt64(0)
		m.counters[name] = c
		m.names = append(m.names, name)
	}
	return c
}

// Add adds delta to the named counter.
func (m *OperatorMetrics) Add(name string, delta int64) {
	m.counter(name).Add(delta)
}

// Get returns the value of the named counter, or zero if it was never set.
func (m *OperatorMetrics) Get(name string) int64 {
	m.mtx.Lock()
	c, ok := m.counters[name]
	m.mtx.Unlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// Elapsed returns the elapsed_compute counter as a duration.
func (m *OperatorMetrics) Elapsed() time.Duration {
	return time.Duration(m.Get(MetricElapsed))
}

// Value is a single named counter value.
type Value struct {
	Name  string
	Value int64
}

// Values returns all counters. output_rows comes first and elapsed_compute
// last; all others follow in the order they were first added.
func (m *OperatorMetrics) Values() []Value {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	values := make([]Value, 0, len(m.names))
	appendValue := func(name string) {
		if c, ok := m.counters[name]; ok {
			values = append(values, Value{Name: name, Value: c.Load()})
		}
	}
	appendValue(MetricOutputRows)
	for _, name := range m.names {
		if name != MetricOutputRows && name != MetricElapsed {
			appendValue(name)
		}
	}
	appendValue(MetricElapsed)
	return values
}

// MetricsSet collects the metrics of all operators of a plan, keyed by node
// ID.
type MetricsSet struct {
	mtx       sync.Mutex
	operators map[string]*OperatorMetrics
}

// NewMetricsSet creates an empty metrics set.
func NewMetricsSet() *MetricsSet {
	return &MetricsSet{operators: make(map[string]*OperatorMetrics)}
}

// Operator returns the metrics of the node with the given ID, creating them
// on first use.
func (s *MetricsSet) Operator(id string) *OperatorMetrics {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	m, ok := s.operators[id]
	if !ok {
		m = newOperatorMetrics()
		s.operators[id] = m
	}
	return m
}

// Lookup returns the metrics of the node with the given ID if any were
// recorded.
func (s *MetricsSet) Lookup(id string) (*OperatorMetrics, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	m, ok := s.operators[id]
	return m, ok
}
