// Package monitor tracks per-pipeline throughput counters and exposes them
// as Prometheus gauges, the Go-native equivalent of ape-dts's
// dt_common::monitor module (StatisticCounter for TPS, plain Counter for
// cumulative totals) referenced from spec.md §4.1's log_monitor call
// sites.
package monitor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a cumulative, thread-safe count (rows sunk, bytes written,
// DDLs applied, ...).
type Counter struct {
	mu    sync.Mutex
	total int64
	gauge prometheus.Gauge
}

func NewCounter(name, help string) *Counter {
	g := registerGauge(prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}))
	return &Counter{gauge: g}
}

// registerGauge registers g, or returns the gauge already registered under
// the same name, so constructing several counters with one name is safe.
func registerGauge(g prometheus.Gauge) prometheus.Gauge {
	if err := prometheus.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Gauge)
		}
		panic(err)
	}
	return g
}

func (c *Counter) Add(n int64) {
	c.mu.Lock()
	c.total += n
	c.gauge.Set(float64(c.total))
	c.mu.Unlock()
}

func (c *Counter) Get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// StatisticCounter computes a rolling transactions-per-second rate over a
// fixed window, mirroring ape-dts's StatisticCounter used for the
// "rows/sec" monitor lines.
type StatisticCounter struct {
	mu         sync.Mutex
	window     time.Duration
	windowFrom time.Time
	windowN    int64
	lastTPS    float64
	gauge      prometheus.Gauge
}

func NewStatisticCounter(name, help string, window time.Duration) *StatisticCounter {
	g := registerGauge(prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}))
	return &StatisticCounter{window: window, windowFrom: time.Now(), gauge: g}
}

func (s *StatisticCounter) Add(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowN += n
	elapsed := time.Since(s.windowFrom)
	if elapsed >= s.window {
		s.lastTPS = float64(s.windowN) / elapsed.Seconds()
		s.gauge.Set(s.lastTPS)
		s.windowN = 0
		s.windowFrom = time.Now()
	}
}

func (s *StatisticCounter) TPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTPS
}
