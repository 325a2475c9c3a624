// Package session owns the per-role event loop. The push channel, the
// location sampler and REST completions are independent producers;
// they are merged here into one serialized update stream, so the order
// and the derived state are only ever mutated by full replacement from
// a single goroutine.
package session

import (
	"context"
	"time"

	"github.com/example/ride-dispatch/internal/order"
)

// authorityCallTimeout bounds one asynchronous confirmation call. The
// call is detached from the caller's context: intents typically arrive
// over short-lived gateway requests whose context is cancelled as soon
// as the handler returns, and the confirmation must outlive them.
const authorityCallTimeout = 10 * time.Second

// restResult carries a confirmation snapshot back into the event
// loop. The generation stamp makes completions that land after a
// teardown a no-op.
type restResult struct {
	gen int
	o   *order.Order
}

// Authority is the subset of the REST client a fulfiller session
// drives.
type Authority interface {
	Accept(ctx context.Context, orderID, fulfillerID string) (*order.Order, error)
	Reject(ctx context.Context, orderID, fulfillerID string) (*order.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status order.Status) (*order.Order, error)
	SubmitFare(ctx context.Context, orderID string, amount int64) (*order.Order, error)
}
