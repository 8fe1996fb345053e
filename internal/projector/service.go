// Package projector folds order events into Redis read models: the order
// status cache and the manual reconciliation queues.
package projector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-stripe-orders/internal/kafka"
	"github.com/ariefcatur/go-stripe-orders/internal/logx"
	"github.com/ariefcatur/go-stripe-orders/internal/orders"
	"github.com/ariefcatur/go-stripe-orders/internal/redisx"
)

var errPoison = errors.New("poison message")

func poison(err error) error { return fmt.Errorf("%w: %v", errPoison, err) }

type StatusWriter interface {
	Set(ctx context.Context, orderID string, cs redisx.CachedStatus) error
	Seed(ctx context.Context, orderID string, cs redisx.CachedStatus) error
}

type Recorder interface {
	Push(ctx context.Context, v any) error
}

type Service struct {
	Ledger    orders.EventLedger
	Statuses  StatusWriter
	Unmatched Recorder
	Orphaned  Recorder
	Log       *zap.Logger
}

// Handle dipasang sebagai handler consumer untuk semua topic order.
// Returning an error leaves the offset uncommitted.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	log := logx.OrNop(s.Log)

	// 1) decode envelope
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: commit and move on
		log.Error("undecodable envelope", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))

	// 2) dedup via Redis (pakai event_id)
	if seen, err := s.Ledger.Seen(ctx, env.EventID); err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	} else if seen {
		return nil
	}

	// 3) proyeksikan
	if err := s.apply(ctx, env); errors.Is(err, errPoison) {
		log.Error("undecodable payload", zap.Error(err))
	} else if err != nil {
		return err
	}
	if err := s.Ledger.MarkProcessed(ctx, env.EventID); err != nil {
		log.Warn("mark processed failed", zap.Error(err))
	}
	return nil
}

func (s *Service) apply(ctx context.Context, env orders.Envelope) error {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.DecodePayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return poison(err)
		}
		return s.Statuses.Seed(ctx, p.OrderID, redisx.CachedStatus{
			Status: string(orders.StatusPending), OwnerID: p.OwnerID, UpdatedAt: env.OccurredAt,
		})

	case orders.EventOrderStatusChanged:
		p, err := kafkax.DecodePayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return poison(err)
		}
		return s.Statuses.Set(ctx, p.OrderID, redisx.CachedStatus{
			Status: string(p.To), OwnerID: p.OwnerID, UpdatedAt: p.UpdatedAt,
		})

	case orders.EventPaymentUnmatched:
		p, err := kafkax.DecodePayload[orders.PaymentUnmatchedPayload](env.Payload)
		if err != nil {
			return poison(err)
		}
		logx.OrNop(s.Log).Warn("unmatched payment queued for reconciliation",
			zap.String("provider_event_id", p.ProviderEventID), zap.String("payment_reference", p.PaymentReference))
		return s.Unmatched.Push(ctx, p)

	case orders.EventIntentOrphaned:
		p, err := kafkax.DecodePayload[orders.IntentOrphanedPayload](env.Payload)
		if err != nil {
			return poison(err)
		}
		logx.OrNop(s.Log).Warn("orphaned payment intent queued for reconciliation",
			zap.String("payment_reference", p.PaymentReference), zap.String("owner_id", p.OwnerID))
		return s.Orphaned.Push(ctx, p)
	}
	return nil // ignore
}
