package redisx

import (
	"context"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-stripe-orders/internal/logx"
	"github.com/ariefcatur/go-stripe-orders/internal/orders"
)

// Invalidator drops cached statuses as soon as the API changes an order.
// The projector repopulates them from order.status.changed.
type Invalidator struct {
	orders.NopNotifier
	Cache *StatusCache
	Log   *zap.Logger
}

func (i *Invalidator) StatusChanged(ctx context.Context, o orders.Order, _ orders.Status) {
	if err := i.Cache.Invalidate(ctx, o.ID); err != nil {
		logx.OrNop(i.Log).Warn("status cache invalidate failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
