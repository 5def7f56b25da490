// Package backoffutil implements the "infinite retry, base-2 exponential"
// policy shared by every provider call the ingester makes (§4.B, §7): a
// transient JSON-RPC failure is retried forever, backing off exponentially,
// until the provider recovers or the caller's context is cancelled.
package backoffutil

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/log"
)

// MaxInterval caps the exponential backoff's growth. The spec leaves the cap
// as an implementation-defined quality-of-implementation choice; 60s matches
// the teacher's own provider-retry ceiling.
const MaxInterval = 60 * time.Second

// Retry runs op, retrying on error with infinite, capped exponential
// backoff until it succeeds or ctx is done. label is used only for logging.
func Retry[T any](ctx context.Context, label string, op func() (T, error)) (T, error) {
	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		v, err := op()
		if err != nil {
			log.Warn("chaindexing: retrying after error", "op", label, "attempt", attempt, "err", err)
			return v, err
		}
		return v, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = MaxInterval

	return backoff.Retry(ctx, wrapped, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
}
