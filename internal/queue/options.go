package queue

import "time"

// BackoffTypeExponential doubles the delay on every retry attempt.
const BackoffTypeExponential = "exponential"

// Backoff describes the retry delay policy attached to a job.
type Backoff struct {
	Type  string        `json:"type"`
	Delay time.Duration `json:"delay"`
}

// NextDelay returns the delay before the given retry attempt
// (attempt 1 is the first retry).
func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Type != BackoffTypeExponential {
		return b.Delay
	}
	delay := b.Delay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Options control enqueue behavior for a single job.
type Options struct {
	// Attempts is the total number of delivery attempts before the
	// job is terminally failed.
	Attempts int
	// Backoff is applied between attempts.
	Backoff Backoff
	// Delay postpones the first delivery.
	Delay time.Duration
}

// DefaultOptions is the policy applied when a producer does not
// override it: 3 attempts, exponential backoff starting at 10s.
func DefaultOptions() Options {
	return Options{
		Attempts: 3,
		Backoff: Backoff{
			Type:  BackoffTypeExponential,
			Delay: 10 * time.Second,
		},
	}
}
