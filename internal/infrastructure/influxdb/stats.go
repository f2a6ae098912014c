package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementRelayStats is the measurement relay counters are written to.
const MeasurementRelayStats = "relay_stats"

// RelayStats is one sample of relay counters. Counters are cumulative since
// the process started.
type RelayStats struct {
	Received      uint64
	Typed         uint64
	Raw           uint64
	Published     uint64
	DecodeErrors  uint64
	PublishErrors uint64
	Restarts      int
	Running       bool
}

// WriteStats queues a relay_stats point tagged with the client's node and
// role. It is a no-op after Close.
func (c *Client) WriteStats(s RelayStats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(relayStatsPoint(c.tags, s, time.Now()))
}

func relayStatsPoint(tags Tags, s RelayStats, ts time.Time) *write.Point {
	running := int64(0)
	if s.Running {
		running = 1
	}

	// #nosec G115 -- counters stay far below MaxInt64
	return write.NewPoint(
		MeasurementRelayStats,
		map[string]string{
			"node": tags.Node,
			"role": tags.Role,
		},
		map[string]interface{}{
			"received":       int64(s.Received),
			"typed":          int64(s.Typed),
			"raw":            int64(s.Raw),
			"published":      int64(s.Published),
			"decode_errors":  int64(s.DecodeErrors),
			"publish_errors": int64(s.PublishErrors),
			"restarts":       int64(s.Restarts),
			"running":        running,
		},
		ts,
	)
}
