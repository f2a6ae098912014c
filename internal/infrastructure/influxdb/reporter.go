package influxdb

import (
	"context"
	"time"
)

const defaultReportInterval = 30 * time.Second

// StatsFunc returns the current relay counters.
type StatsFunc func() RelayStats

// StatsWriter receives samples. *Client implements it.
type StatsWriter interface {
	WriteStats(s RelayStats)
}

// Reporter samples relay counters on a fixed interval.
type Reporter struct {
	writer   StatsWriter
	interval time.Duration
	stats    StatsFunc
}

// NewReporter creates a reporter that writes a sample every interval.
// A non-positive interval means 30s.
func NewReporter(w StatsWriter, interval time.Duration, stats StatsFunc) *Reporter {
	if interval <= 0 {
		interval = defaultReportInterval
	}
	return &Reporter{writer: w, interval: interval, stats: stats}
}

// Run writes a sample every interval until ctx is cancelled, then writes a
// final one so the last counters before shutdown are kept.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.writer.WriteStats(r.stats())
			return
		case <-ticker.C:
			r.writer.WriteStats(r.stats())
		}
	}
}
