package orders

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-stripe-orders/internal/apperr"
	"github.com/ariefcatur/go-stripe-orders/internal/logx"
)

const DefaultRefundReason = "No reason provided"

// Refunds records owner refund requests. It never contacts the payment
// provider; the refunded state arrives later through the Reconciler.
type Refunds struct {
	Store    Store
	Notifier Notifier
	Log      *zap.Logger
}

func (s *Refunds) Request(ctx context.Context, ownerID, orderID, reason string) (Order, error) {
	log := logx.OrNop(s.Log).With(zap.String("order_id", orderID), zap.String("owner_id", ownerID))

	o, err := s.Store.FindByOwnerAndID(ctx, ownerID, orderID)
	if errors.Is(err, ErrNotFound) {
		return Order{}, apperr.NotFound("Order not found")
	}
	if err != nil {
		return Order{}, apperr.Persistence("Order store unavailable", err)
	}
	if o.Status != StatusPaid {
		return Order{}, apperr.StateConflict("Only paid orders can request refund")
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRefundReason
	}

	updated, applied, err := s.Store.UpdateStatus(ctx, o.ID, StatusPaid, StatusRefundRequested, Fields{RefundReason: &reason})
	if err != nil {
		return Order{}, apperr.Persistence("Order store unavailable", err)
	}
	if !applied {
		// lost the race, most likely to a charge.refunded callback
		log.Info("refund request lost transition race")
		return Order{}, apperr.StateConflict("Only paid orders can request refund")
	}

	log.Info("refund requested")
	orNop(s.Notifier).StatusChanged(ctx, updated, StatusPaid)
	return updated, nil
}

// Queries serves owner-scoped reads.
type Queries struct {
	Store Store
}

func (q *Queries) ListMine(ctx context.Context, ownerID string) ([]Order, error) {
	list, err := q.Store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Persistence("Order store unavailable", err)
	}
	return list, nil
}

func (q *Queries) Get(ctx context.Context, ownerID, orderID string) (Order, error) {
	o, err := q.Store.FindByOwnerAndID(ctx, ownerID, orderID)
	if errors.Is(err, ErrNotFound) {
		return Order{}, apperr.NotFound("Order not found")
	}
	if err != nil {
		return Order{}, apperr.Persistence("Order store unavailable", err)
	}
	return o, nil
}
