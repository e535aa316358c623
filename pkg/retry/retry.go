// Package retry runs an operation under a fixed attempt budget using
// cenkalti/backoff policies. The timer is injectable so tests can observe the
// waits without sleeping.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Linear waits Step, 2*Step, 3*Step, ... between attempts.
// Not safe for concurrent use: build one per retry sequence.
type Linear struct {
	Step time.Duration
	n    int
}

var _ backoff.BackOff = (*Linear)(nil)

func (l *Linear) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.Step
}

func (l *Linear) Reset() { l.n = 0 }

// Do calls op until it succeeds or attempts calls have been made. The policy
// is consulted only between attempts, never after the last one. A nil timer
// uses real time. op receives the 1-based attempt number; returning
// backoff.Permanent(err) stops immediately.
//
// It returns the number of attempts made and the last error (nil on success).
func Do(attempts int, policy backoff.BackOff, timer backoff.Timer, op func(attempt int) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	if policy == nil {
		policy = &backoff.ZeroBackOff{}
	}

	made := 0
	err := backoff.RetryNotifyWithTimer(func() error {
		made++
		return op(made)
	}, backoff.WithMaxRetries(policy, uint64(attempts-1)), nil, timer)
	return made, err
}
