// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package telemetry provides the prometheus-backed counters, gauges and
// averagers the agreement engine uses for its point-in-time metrics
// snapshot (spec §4.1 `metrics()` and §6 "query metrics"). Metrics
// export itself (an HTTP scrape endpoint) is an out-of-scope external
// collaborator; this package only registers collectors against a
// prometheus.Registerer the host process supplies.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Averager tracks a running average of observed values (used for
// finalization latency histograms in spec §4.1's metrics snapshot).
type Averager interface {
	Observe(value float64)
	Read() float64
}

type averager struct {
	mu    sync.RWMutex
	sum   float64
	count float64

	promCount prometheus.Counter
	promSum   prometheus.Counter
}

// NewAverager registers a count/sum pair of prometheus collectors under
// name and returns an Averager backed by them.
func NewAverager(name, help string, reg prometheus.Registerer) (Averager, error) {
	count := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name + "_count",
		Help: "Total number of observations of " + help,
	})
	sum := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name + "_sum",
		Help: "Sum of observed values of " + help,
	})
	if err := reg.Register(count); err != nil {
		return nil, err
	}
	if err := reg.Register(sum); err != nil {
		return nil, err
	}
	return &averager{promCount: count, promSum: sum}, nil
}

func (a *averager) Observe(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sum += value
	a.count++
	if a.promCount != nil {
		a.promCount.Inc()
	}
	if a.promSum != nil {
		a.promSum.Add(value)
	}
}

func (a *averager) Read() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.count == 0 {
		return 0
	}
	return a.sum / a.count
}

// Counter is a monotonic counter, local mirror kept alongside the
// prometheus collector so in-process readers (e.g. tests) don't need a
// registry scrape round-trip.
type Counter struct {
	mu   sync.RWMutex
	val  int64
	prom prometheus.Counter
}

func newCounter(name, help string, reg prometheus.Registerer) *Counter {
	c := &Counter{}
	pc := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	if reg != nil {
		if err := reg.Register(pc); err == nil {
			c.prom = pc
		}
	}
	return c
}

func (c *Counter) Inc() { c.Add(1) }

func (c *Counter) Add(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val += delta
	if c.prom != nil {
		c.prom.Add(float64(delta))
	}
}

func (c *Counter) Read() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

// Gauge is a value that can move up or down.
type Gauge struct {
	mu   sync.RWMutex
	val  float64
	prom prometheus.Gauge
}

func newGauge(name, help string, reg prometheus.Registerer) *Gauge {
	g := &Gauge{}
	pg := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	if reg != nil {
		if err := reg.Register(pg); err == nil {
			g.prom = pg
		}
	}
	return g
}

func (g *Gauge) Set(value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.val = value
	if g.prom != nil {
		g.prom.Set(value)
	}
}

func (g *Gauge) Add(delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.val += delta
	if g.prom != nil {
		g.prom.Add(delta)
	}
}

func (g *Gauge) Read() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.val
}
