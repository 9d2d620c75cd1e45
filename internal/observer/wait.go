package observer

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

var errConditionUnmet = errors.New("condition not met")

// Predicate reports whether the awaited condition holds. An error stops the wait.
type Predicate func(ctx context.Context) (bool, error)

// WaitUntil evaluates cond immediately and then every interval until it holds,
// cond fails, or ctx is done. There is no attempt limit.
func WaitUntil(ctx context.Context, interval time.Duration, cond Predicate) error {
	return retry.Do(
		func() error {
			ok, err := cond(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errConditionUnmet
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errConditionUnmet)
		}),
	)
}
