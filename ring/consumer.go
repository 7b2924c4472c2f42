// consumer.go
//
// Blocking helpers on top of the non-blocking ring.
//
//   • Consume drains a ring on the calling goroutine. It stays in a
//     yield-spin while work keeps arriving, and once spinBudget polls in a
//     row come back empty it parks for `idle` between polls.
//   • PushWait retries a full ring with the same back-off until the
//     context gives up.
//
// Neither helper takes a lock; all coordination is the ring's own stamps.

package ring

import (
	"context"
	"runtime"
	"time"
)

const (
	spinBudget = 256                   // empty polls before parking
	pushPark   = 50 * time.Microsecond // park interval for a full ring
)

// Consume calls fn for every value popped from r until ctx is done, then
// drains whatever is still queued and returns.
func Consume[T any](ctx context.Context, r *Ring[T], idle time.Duration, fn func(T)) {
	miss := 0
	for {
		if v, ok := r.Pop(); ok {
			fn(v)
			miss = 0
			continue
		}
		select {
		case <-ctx.Done():
			for {
				v, ok := r.Pop()
				if !ok {
					return
				}
				fn(v)
			}
		default:
		}
		miss = backoff(miss, idle)
	}
}

// PushWait pushes v, waiting for room while the ring is full.
func PushWait[T any](ctx context.Context, r *Ring[T], v T) error {
	miss := 0
	for !r.Push(v) {
		if err := ctx.Err(); err != nil {
			return err
		}
		miss = backoff(miss, pushPark)
	}
	return nil
}

func backoff(miss int, idle time.Duration) int {
	if miss++; miss < spinBudget {
		runtime.Gosched()
		return miss
	}
	time.Sleep(idle)
	return miss
}
