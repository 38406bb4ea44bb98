package pipeline

import "time"

// PaceDelay returns how long the processor should sleep after a frame.
//
// Algorithm: when fewer than lowWater frames are queued the processor is
// ahead of capture, so it slows toward the nominal frame interval and adds a
// tenth of an interval per missing frame below the low-water mark:
//
//	delay = interval - sinceLast + (interval/10)*(lowWater-queued)
//
// clamped at zero. At or above lowWater it never sleeps.
func PaceDelay(interval, sinceLast time.Duration, queued, lowWater int) time.Duration {
	if queued >= lowWater || interval <= 0 {
		return 0
	}
	delay := interval - sinceLast + (interval/10)*time.Duration(lowWater-queued)
	if delay < 0 {
		return 0
	}
	return delay
}
