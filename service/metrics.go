package service

import "time"

// Metrics is the subset of runtime metrics calls the core makes.
type Metrics interface {
	CounterAdd(name string, tags map[string]string, delta int64)
	GaugeSet(name string, tags map[string]string, value float64)
	TimerRecord(name string, tags map[string]string, value time.Duration)
}

var _ Metrics = NoopMetrics{}

type NoopMetrics struct{}

func (NoopMetrics) CounterAdd(string, map[string]string, int64)         {}
func (NoopMetrics) GaugeSet(string, map[string]string, float64)         {}
func (NoopMetrics) TimerRecord(string, map[string]string, time.Duration) {}
