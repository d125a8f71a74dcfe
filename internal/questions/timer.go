package questions

import (
	"math"
	"time"
)

// RemainingSeconds computes how many seconds a timed question has left.
// The formula is shared verbatim by every consumer (server and clients):
//
//	remaining = max(0, ceil(timeLimit - elapsedSeconds))
//
// The ceil rounding is load-bearing: independent readers converge on the
// same displayed second.
func RemainingSeconds(timeLimit int, startedAt, now time.Time) int {
	elapsed := now.Sub(startedAt).Seconds()
	remaining := int(math.Ceil(float64(timeLimit) - elapsed))
	if remaining < 0 {
		return 0
	}
	return remaining
}
