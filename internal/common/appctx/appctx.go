// Package appctx provides context helpers for work that outlives a request.
package appctx

import (
	"context"
	"time"
)

// Detached returns a context independent of any request cancellation. It is
// cancelled when the stop channel closes or the timeout expires, whichever
// comes first.
func Detached(stopCh <-chan struct{}, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
