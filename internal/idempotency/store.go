// Package idempotency provides a keyed claim store with explicit TTL
// eviction. Transfer endpoints use it to honor client-generated idempotency
// tokens: the first request claims the token, retries of the same token are
// rejected instead of re-executing an irreversible external call.
package idempotency

import (
	"context"
	"time"
)

type Store interface {
	// Claim atomically records key for ttl. It returns true when this call
	// made the claim and false when the key was already held.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees a claimed key, used when the guarded operation never
	// reached its irreversible step and a clean retry is safe.
	Release(ctx context.Context, key string) error
}
