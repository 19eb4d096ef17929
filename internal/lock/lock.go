// Package lock provides keyed mutual exclusion. Orchestrators and the
// expiration sweep serialize all work on one booking through the same key,
// so at most one of them applies a terminal transition.
package lock

import (
	"context"
)

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker acquires an exclusive lock on key. Acquisition waits for a bounded
// time and then fails with a domain TransientContention error.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

func BookingKey(reference string) string {
	return "booking:" + reference
}

func IdempotencyKey(userID, key string) string {
	return "idempotency:" + userID + ":" + key
}
