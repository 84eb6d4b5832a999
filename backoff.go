package capsync

import (
	"math"
	"time"
)

const (
	DefaultRetryDelay = 5 * time.Minute
	DefaultMaxAge     = 24 * time.Hour
)

// Backoff gives the delay before a work item becomes eligible again, given
// how many times it had been claimed before the current claim.
type Backoff interface {
	Delay(retryCount int) time.Duration
}

// FixedBackoff waits the same delay after every claim.
type FixedBackoff time.Duration

func (b FixedBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// ExponentialBackoff doubles Base on every retry up to Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b ExponentialBackoff) Delay(retryCount int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	} else if retryCount > 62 {
		retryCount = 62
	}

	multiplier := int64(1) << retryCount
	delay := time.Duration(math.MaxInt64)
	if int64(b.Base) <= math.MaxInt64/multiplier {
		delay = time.Duration(int64(b.Base) * multiplier)
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Abandoned reports whether a work item created at createdMs is past the
// max age at nowMs. Abandoned items are left in place for an operator.
func Abandoned(createdMs, nowMs int64, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return nowMs-createdMs > maxAge.Milliseconds()
}
