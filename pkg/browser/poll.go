package browser

import (
	"context"
	"fmt"
	"time"
)

// DefaultPollInterval is used when a poll is given a non-positive interval.
const DefaultPollInterval = 250 * time.Millisecond

// Condition is checked on every poll tick. Returning an error stops the poll.
type Condition func() (bool, error)

// Poll checks cond immediately and then every interval until it reports true,
// returns an error, timeout elapses or ctx is done.
//
// A non-positive timeout checks cond exactly once. Expiry of the timeout yields
// an error wrapping ErrTimeout; cancellation of ctx yields ctx.Err().
func Poll(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ok, err := cond()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: condition not met", ErrTimeout)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-deadline.C:
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)

		case <-ticker.C:
			ok, err := cond()
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}
