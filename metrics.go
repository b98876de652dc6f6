package sqstore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordAddRead is called after each committed read with its length.
	RecordAddRead(bases int, duration time.Duration, err error)

	// RecordLoad is called after each payload load with the bytes returned.
	RecordLoad(bytes int, duration time.Duration, err error)

	// RecordFlush is called after each catalog flush.
	RecordFlush(duration time.Duration, err error)

	// RecordPartitionBuild is called after a partition build.
	RecordPartitionBuild(partitions int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAddRead(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordLoad(int, time.Duration, error)           {}
func (NoopMetricsCollector) RecordFlush(time.Duration, error)               {}
func (NoopMetricsCollector) RecordPartitionBuild(int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	AddReadCount    atomic.Int64
	AddReadErrors   atomic.Int64
	AddReadBases    atomic.Int64
	LoadCount       atomic.Int64
	LoadErrors      atomic.Int64
	LoadBytes       atomic.Int64
	LoadTotalNanos  atomic.Int64
	FlushCount      atomic.Int64
	FlushErrors     atomic.Int64
	PartitionBuilds atomic.Int64
	PartitionErrors atomic.Int64
}

// RecordAddRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAddRead(bases int, _ time.Duration, err error) {
	b.AddReadCount.Add(1)
	if err != nil {
		b.AddReadErrors.Add(1)
		return
	}
	b.AddReadBases.Add(int64(bases))
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(bytes int, duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
		return
	}
	b.LoadBytes.Add(int64(bytes))
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(_ time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordPartitionBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPartitionBuild(_ int, _ time.Duration, err error) {
	b.PartitionBuilds.Add(1)
	if err != nil {
		b.PartitionErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		AddReadCount:    b.AddReadCount.Load(),
		AddReadErrors:   b.AddReadErrors.Load(),
		AddReadBases:    b.AddReadBases.Load(),
		LoadCount:       b.LoadCount.Load(),
		LoadErrors:      b.LoadErrors.Load(),
		LoadBytes:       b.LoadBytes.Load(),
		FlushCount:      b.FlushCount.Load(),
		FlushErrors:     b.FlushErrors.Load(),
		PartitionBuilds: b.PartitionBuilds.Load(),
		PartitionErrors: b.PartitionErrors.Load(),
	}
	if s.LoadCount > 0 {
		s.LoadAvgNanos = b.LoadTotalNanos.Load() / s.LoadCount
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddReadCount    int64
	AddReadErrors   int64
	AddReadBases    int64
	LoadCount       int64
	LoadErrors      int64
	LoadBytes       int64
	LoadAvgNanos    int64
	FlushCount      int64
	FlushErrors     int64
	PartitionBuilds int64
	PartitionErrors int64
}
