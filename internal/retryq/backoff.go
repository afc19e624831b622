// Package retryq provides a generic, disk-persisted, priority-ordered
// deferred-work queue with pluggable backoff.
package retryq

import "time"

// Strategy maps a retry count to the delay before the next attempt.
type Strategy string

// Backoff strategies.
const (
	StrategyImmediate   Strategy = "immediate"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyFibonacci   Strategy = "fibonacci"
)

// fibTable caps the fibonacci strategy at 10 entries.
var fibTable = [10]int64{1, 1, 2, 3, 5, 8, 13, 21, 34, 55}

// Delay computes the backoff delay for the given retry count.
func Delay(s Strategy, base time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	switch s {
	case StrategyImmediate:
		return 0
	case StrategyLinear:
		return base
	case StrategyExponential:
		if retryCount > 30 {
			retryCount = 30 // avoid shift overflow
		}
		return base * time.Duration(int64(1)<<uint(retryCount))
	case StrategyFibonacci:
		idx := retryCount
		if idx >= len(fibTable) {
			idx = len(fibTable) - 1
		}
		return base * time.Duration(fibTable[idx])
	default:
		return base
	}
}
