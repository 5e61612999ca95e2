package monitor

import (
	"fmt"
	"time"
)

// stage returns the warning threshold, in minutes, that remaining falls in.
// A threshold t covers (t-window, t]; when windows overlap the largest t
// wins. Thresholds must be sorted in descending order.
func stage(thresholds []int, window, remaining time.Duration) (int, bool) {
	if remaining <= 0 {
		return 0, false
	}
	for _, t := range thresholds {
		upper := time.Duration(t) * time.Minute
		if remaining <= upper && remaining > upper-window {
			return t, true
		}
	}
	return 0, false
}

func validateThresholds(thresholds []int) error {
	for i, t := range thresholds {
		if t <= 0 {
			return fmt.Errorf("threshold %d must be positive", t)
		}
		if i > 0 && t >= thresholds[i-1] {
			return fmt.Errorf("thresholds must be strictly descending, got %d after %d", t, thresholds[i-1])
		}
	}
	return nil
}
