// Package telemetry aggregates the metrics of one chaindeploy invocation and
// exports them once, when the command finishes.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind is how observations of a series combine.
type Kind string

const (
	// KindSum adds observations up.
	KindSum Kind = "sum"
	// KindGauge keeps the last observation.
	KindGauge Kind = "gauge"
	// KindHistogram keeps count, sum, min and max.
	KindHistogram Kind = "histogram"
)

// Series is one metric name and label set, aggregated over the run.
type Series struct {
	Name   string
	Kind   Kind
	Unit   string
	Labels map[string]string
	Count  int64
	// Sum is the running total for sums and histograms and the last value
	// for gauges.
	Sum      float64
	Min, Max float64
	Updated  time.Time
}

// Value is the total of a sum, the reading of a gauge or the mean of a
// histogram.
func (s Series) Value() float64 {
	if s.Kind == KindHistogram && s.Count > 0 {
		return s.Sum / float64(s.Count)
	}
	return s.Sum
}

// Collector aggregates series in memory until Flush.
type Collector struct {
	enabled  bool
	exporter *OTLPExporter

	mu      sync.Mutex
	started time.Time
	series  map[string]*Series
	order   []string
}

// NewCollector returns a collector. A disabled collector drops everything;
// without an endpoint, flushed series are logged at debug level.
func NewCollector(enabled bool, endpoint string) *Collector {
	c := &Collector{enabled: enabled, started: time.Now(), series: map[string]*Series{}}
	if endpoint != "" {
		c.exporter = NewOTLPExporter(endpoint)
	}
	return c
}

// Add increases a counter.
func (c *Collector) Add(name string, value float64, labels map[string]string) {
	c.observe(name, KindSum, "", value, labels)
}

// Set records the current value of a gauge.
func (c *Collector) Set(name string, value float64, labels map[string]string) {
	c.observe(name, KindGauge, "", value, labels)
}

// Observe adds one sample to a histogram.
func (c *Collector) Observe(name, unit string, value float64, labels map[string]string) {
	c.observe(name, KindHistogram, unit, value, labels)
}

// Time adds a duration, in milliseconds, to a histogram.
func (c *Collector) Time(name string, d time.Duration, labels map[string]string) {
	c.Observe(name, "ms", float64(d.Milliseconds()), labels)
}

func (c *Collector) observe(name string, kind Kind, unit string, value float64, labels map[string]string) {
	if c == nil || !c.enabled {
		return
	}
	key := seriesKey(name, labels)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.series == nil {
		c.series = map[string]*Series{}
	}
	s, ok := c.series[key]
	if !ok {
		s = &Series{Name: name, Kind: kind, Unit: unit, Labels: labels, Min: value, Max: value}
		c.series[key] = s
		c.order = append(c.order, key)
	}
	s.Count++
	s.Updated = time.Now()
	switch kind {
	case KindGauge:
		s.Sum = value
	default:
		s.Sum += value
	}
	if value < s.Min {
		s.Min = value
	}
	if value > s.Max {
		s.Max = value
	}
}

func seriesKey(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|" + k + "=" + labels[k])
	}
	return b.String()
}

// Snapshot returns the series in the order they were first seen.
func (c *Collector) Snapshot() []Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Series, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, *c.series[k])
	}
	return out
}

// Flush exports the aggregated series and starts a new window.
func (c *Collector) Flush() error {
	c.mu.Lock()
	started := c.started
	out := make([]Series, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, *c.series[k])
	}
	c.series = map[string]*Series{}
	c.order = nil
	c.started = time.Now()
	c.mu.Unlock()

	if len(out) == 0 {
		return nil
	}
	if c.exporter != nil {
		return c.exporter.Export(started, out)
	}
	for _, s := range out {
		log.Debug().
			Str("name", s.Name).
			Str("kind", string(s.Kind)).
			Float64("value", s.Value()).
			Int64("count", s.Count).
			Interface("labels", s.Labels).
			Msg("metric")
	}
	return nil
}

var globalCollector *Collector

// InitGlobal replaces the process-wide collector.
func InitGlobal(enabled bool, endpoint string) {
	globalCollector = NewCollector(enabled, endpoint)
}

// GetGlobal returns the process-wide collector, a disabled one if InitGlobal
// was never called.
func GetGlobal() *Collector {
	if globalCollector == nil {
		globalCollector = NewCollector(false, "")
	}
	return globalCollector
}

func AddGlobal(name string, value float64, labels map[string]string) {
	GetGlobal().Add(name, value, labels)
}

// Shutdown flushes the process-wide collector.
func Shutdown() error {
	if globalCollector == nil {
		return nil
	}
	return globalCollector.Flush()
}
