// Package metrics abstracts over Prometheus style metrics so provisioning
// code can record them without knowing how they leave the process.
//
// The daemon uses a ScrapeRegistry served on /metrics. The one-shot CLI uses
// a PushRegistry that buffers samples and writes them to a remote write
// endpoint with Flush before it exits.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge is a value that can go up and down.
type Gauge interface {
	Set(float64)
}

// Counter only increases.
type Counter interface {
	Inc()
	// Add panics if v is negative.
	Add(v float64)
}

// GaugeVec is a Gauge partitioned by labels.
type GaugeVec interface {
	With(prometheus.Labels) Gauge
}

// CounterVec is a Counter partitioned by labels.
type CounterVec interface {
	With(prometheus.Labels) Counter
}

// Registry creates and registers metrics.
type Registry interface {
	NewGauge(opts prometheus.GaugeOpts) (Gauge, error)
	NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error)
	NewCounter(opts prometheus.CounterOpts) (Counter, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
}

// NopRegistry hands out metrics that record nothing.
type NopRegistry struct{}

type nop struct{}

func (nop) Set(float64) {}
func (nop) Inc()        {}
func (nop) Add(float64) {}

type nopGaugeVec struct{}

func (nopGaugeVec) With(prometheus.Labels) Gauge { return nop{} }

type nopCounterVec struct{}

func (nopCounterVec) With(prometheus.Labels) Counter { return nop{} }

// NewGauge implements Registry.
func (NopRegistry) NewGauge(prometheus.GaugeOpts) (Gauge, error) { return nop{}, nil }

// NewGaugeVec implements Registry.
func (NopRegistry) NewGaugeVec(prometheus.GaugeOpts, []string) (GaugeVec, error) {
	return nopGaugeVec{}, nil
}

// NewCounter implements Registry.
func (NopRegistry) NewCounter(prometheus.CounterOpts) (Counter, error) { return nop{}, nil }

// NewCounterVec implements Registry.
func (NopRegistry) NewCounterVec(prometheus.CounterOpts, []string) (CounterVec, error) {
	return nopCounterVec{}, nil
}
