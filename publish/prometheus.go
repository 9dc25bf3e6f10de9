package publish

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exposes published values as gauges: scalars as
// <namespace>_value{name}, reading sequences as <namespace>_reading{name,index}.
type Prometheus struct {
	reg      prometheus.Registerer
	scalars  *prometheus.GaugeVec
	readings *prometheus.GaugeVec
}

var _ Sink = (*Prometheus)(nil)

// NewPrometheus registers the gauges with reg.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	p := &Prometheus{
		reg: reg,
		scalars: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "value",
			Help:      "Last published scalar value.",
		}, []string{"name"}),
		readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading",
			Help:      "Last published instrument reading, by position in the address list.",
		}, []string{"name", "index"}),
	}

	if err := reg.Register(p.scalars); err != nil {
		return nil, err
	}
	if err := reg.Register(p.readings); err != nil {
		reg.Unregister(p.scalars)
		return nil, err
	}

	return p, nil
}

// Put sets the gauges for v. Readings that do not parse as numbers are rejected
// and leave the gauges unchanged.
func (p *Prometheus) Put(name string, v Value) error {
	if !v.IsSequence() {
		p.scalars.WithLabelValues(name).Set(v.Float())
		return nil
	}

	fs, err := v.Floats()
	if err != nil {
		return err
	}
	for i, f := range fs {
		p.readings.WithLabelValues(name, strconv.Itoa(i)).Set(f)
	}

	return nil
}

// Close unregisters the gauges.
func (p *Prometheus) Close() error {
	p.reg.Unregister(p.scalars)
	p.reg.Unregister(p.readings)

	return nil
}
