package instrument

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains atomic counters shared by the Handles of a process.
type Metrics struct {
	// WriteCount indicates the number of commands written.
	WriteCount atomic.Uint64
	// ReadCount indicates the number of replies received.
	ReadCount atomic.Uint64
	// TimeoutCount indicates the number of operations that failed with KindTimeout.
	TimeoutCount atomic.Uint64
	// ErrCount indicates the number of failed operations of any kind.
	ErrCount atomic.Uint64
	// OpenGauge indicates the number of currently open handles.
	OpenGauge atomic.Int64
}

func (m *Metrics) incWriteCount() {
	if m != nil {
		m.WriteCount.Add(1)
	}
}

func (m *Metrics) incReadCount() {
	if m != nil {
		m.ReadCount.Add(1)
	}
}

func (m *Metrics) incErr(kind Kind) {
	if m == nil {
		return
	}
	m.ErrCount.Add(1)
	if kind == KindTimeout {
		m.TimeoutCount.Add(1)
	}
}

func (m *Metrics) addOpen(delta int64) {
	if m != nil {
		m.OpenGauge.Add(delta)
	}
}

// Collectors exposes the counters as Prometheus CounterFunc and GaugeFunc collectors.
func (m *Metrics) Collectors(namespace string) []prometheus.Collector {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "instrument",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	return []prometheus.Collector{
		counter("writes_total", "Commands written to instruments.", &m.WriteCount),
		counter("reads_total", "Replies read from instruments.", &m.ReadCount),
		counter("timeouts_total", "Instrument operations that timed out.", &m.TimeoutCount),
		counter("errors_total", "Instrument operations that failed.", &m.ErrCount),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "instrument",
			Name:      "open_handles",
			Help:      "Currently open instrument handles.",
		}, func() float64 { return float64(m.OpenGauge.Load()) }),
	}
}
