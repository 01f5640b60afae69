// Package pipeline drives the copy loop: it polls the wallet monitor, decodes
// venue events from transaction logs and hands them to an EventHandler, and
// runs the retry, cleanup, fill, stats and archive loops alongside.
package pipeline

import (
	"context"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
)

// EventHandler receives decoded venue events. executor.Copier implements it.
type EventHandler interface {
	OnTrade(ctx context.Context, trade domain.Trade)
	OnOrderCreated(ctx context.Context, order domain.OrderCreated)
	OnOrdersCanceled(ctx context.Context, ev domain.OrdersCanceled)
}

var _ EventHandler = (*executor.Copier)(nil)

// Dispatch routes ev to the matching handler method. It reports false for
// event types the handler has no method for.
func Dispatch(ctx context.Context, h EventHandler, ev domain.ChainEvent) bool {
	switch e := ev.(type) {
	case domain.Trade:
		h.OnTrade(ctx, e)
	case domain.OrderCreated:
		h.OnOrderCreated(ctx, e)
	case domain.OrdersCanceled:
		h.OnOrdersCanceled(ctx, e)
	default:
		return false
	}
	return true
}
