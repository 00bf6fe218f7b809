package utils

import (
	"time"

	"golang.org/x/exp/constraints"
)

// Version of rtpstalk from source control, set with -ldflags.
var Version string = "unknown"

// Millis converts a millisecond config value to a duration.
func Millis[T constraints.Integer](ms T) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
