package session

import (
	"context"
	"time"
)

type result struct {
	value interface{}
	err   error
}

// offload runs fn on its own goroutine and waits for it, the timeout or ctx,
// whichever comes first. When the wait is abandoned, fn keeps running and
// orphan (if not nil) receives its value once it succeeds.
func offload(ctx context.Context, timeout time.Duration, fn func() (interface{}, error), orphan func(interface{})) (interface{}, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn()
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		if orphan != nil {
			go func() {
				if res := <-done; res.err == nil {
					orphan(res.value)
				}
			}()
		}
		return nil, ctx.Err()
	}
}
