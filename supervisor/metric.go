package supervisor

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains atomic counters of the supervisor loop.
// They are read by the health endpoint and exported as Prometheus collectors.
type Metrics struct {
	// GenerationCount indicates the number of sessions created.
	GenerationCount atomic.Uint64
	// RecoveryCount indicates the number of failed generations.
	RecoveryCount atomic.Uint64
	// CycleCount indicates the number of completed sample cycles.
	CycleCount atomic.Uint64
	// OverrunCount indicates the number of ticks that started late.
	OverrunCount atomic.Uint64
	// LastCycle is the completion time of the last cycle in Unix nanoseconds.
	LastCycle atomic.Int64
}

func (m *Metrics) incGeneration() { m.GenerationCount.Add(1) }

func (m *Metrics) incRecovery() { m.RecoveryCount.Add(1) }

func (m *Metrics) incOverrun() { m.OverrunCount.Add(1) }

func (m *Metrics) cycleDone(t time.Time) {
	m.CycleCount.Add(1)
	m.LastCycle.Store(t.UnixNano())
}

// LastCycleTime returns the completion time of the last cycle, zero if none.
func (m *Metrics) LastCycleTime() time.Time {
	ns := m.LastCycle.Load()
	if ns == 0 {
		return time.Time{}
	}

	return time.Unix(0, ns)
}

// Collectors exposes the metrics and the supervisor state as Prometheus collectors.
func (s *Supervisor) Collectors(namespace string) []prometheus.Collector {
	m := s.metrics
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      name,
			Help:      help,
		}, f)
	}

	return []prometheus.Collector{
		counter("generations_total", "Acquisition sessions created.", &m.GenerationCount),
		counter("recoveries_total", "Acquisition sessions that failed.", &m.RecoveryCount),
		counter("cycles_total", "Completed sample cycles.", &m.CycleCount),
		counter("overruns_total", "Sample cycles that started late.", &m.OverrunCount),
		gauge("last_cycle_timestamp_seconds", "Completion time of the last sample cycle.", func() float64 {
			return float64(m.LastCycle.Load()) / 1e9
		}),
		gauge("state", "Supervisor state: 0 running, 1 recovering, 2 stopped.", func() float64 {
			return float64(s.state.Get())
		}),
	}
}
