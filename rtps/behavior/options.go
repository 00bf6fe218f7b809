// Package behavior implements the reader and writer state machines.
package behavior

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pinorobotics/rtpstalk/rtps/metrics"
)

// Options are shared by readers and writers of a participant.
type Options struct {
	Clock           clock.Clock
	HeartbeatPeriod time.Duration
	AckPeriod       time.Duration
	HistorySize     int
	// KeepLastPerKey makes writers keep the latest change per instance
	// instead of the last HistorySize changes.
	KeepLastPerKey bool
	Metrics        *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.HeartbeatPeriod <= 0 {
		o.HeartbeatPeriod = time.Second
	}
	if o.AckPeriod <= 0 {
		o.AckPeriod = 100 * time.Millisecond
	}
	if o.HistorySize <= 0 {
		o.HistorySize = 100
	}
	return o
}
