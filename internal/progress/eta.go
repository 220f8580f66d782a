package progress

import (
	"math"
	"time"
)

// Estimate returns the estimated seconds remaining for an upload that has been
// running for elapsed and is progress complete. The estimate is unknown (false)
// when no progress has been made yet.
func Estimate(elapsed time.Duration, progress float64) (float64, bool) {
	if progress <= 0 || math.IsNaN(progress) {
		return 0, false
	}
	if progress >= 1 {
		return 0, true
	}
	return elapsed.Seconds() / progress * (1 - progress), true
}
