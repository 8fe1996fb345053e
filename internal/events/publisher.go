// Package events publishes order lifecycle facts to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-stripe-orders/internal/kafka"
	"github.com/ariefcatur/go-stripe-orders/internal/logx"
	"github.com/ariefcatur/go-stripe-orders/internal/orders"
)

type MessagePublisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header) bool
}

// Publisher is an orders.Notifier writing v1 envelopes.
type Publisher struct {
	Producer MessagePublisher
	Service  string
	Log      *zap.Logger
	Now      func() time.Time
}

var _ orders.Notifier = (*Publisher)(nil)

func (p *Publisher) OrderCreated(ctx context.Context, o orders.Order) {
	p.publish(ctx, orders.TopicOrderCreated, orders.EventOrderCreated, o.ID, orders.OrderCreatedPayload{
		OrderID:          o.ID,
		OwnerID:          o.OwnerID,
		Items:            o.Items,
		TotalAmount:      o.TotalAmount,
		Currency:         o.Currency,
		PaymentReference: o.PaymentReference,
	})
}

func (p *Publisher) StatusChanged(ctx context.Context, o orders.Order, from orders.Status) {
	p.publish(ctx, orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
		OrderID:          o.ID,
		OwnerID:          o.OwnerID,
		PaymentReference: o.PaymentReference,
		From:             from,
		To:               o.Status,
		RefundReason:     o.RefundReason,
		UpdatedAt:        o.UpdatedAt,
	})
}

// CartItemsDropped is log-only; the order itself records what was kept.
func (p *Publisher) CartItemsDropped(_ context.Context, ownerID string, productIDs []string) {
	logx.OrNop(p.Log).Info("checkout dropped unknown products",
		zap.String("owner_id", ownerID), zap.Strings("product_ids", productIDs))
}

func (p *Publisher) UnmatchedPayment(ctx context.Context, ev orders.PaymentEvent) {
	key := ev.PaymentReference
	if key == "" {
		key = ev.ID
	}
	p.publish(ctx, orders.TopicPaymentUnmatched, orders.EventPaymentUnmatched, key, orders.PaymentUnmatchedPayload{
		ProviderEventID:  ev.ID,
		ProviderType:     string(ev.Type),
		PaymentReference: ev.PaymentReference,
		ReceivedAt:       p.now(),
	})
}

func (p *Publisher) OrphanedIntent(ctx context.Context, ownerID string, intent orders.PaymentIntent, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	p.publish(ctx, orders.TopicCheckoutOrphaned, orders.EventIntentOrphaned, intent.ID, orders.IntentOrphanedPayload{
		OwnerID:          ownerID,
		PaymentReference: intent.ID,
		Cause:            msg,
		DetectedAt:       p.now(),
	})
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, correlationID string, payload any) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    p.now(),
		Producer:      p.Service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
	ok := p.Producer.Publish(topic, orders.PartitionKey(correlationID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	if !ok {
		logx.OrNop(p.Log).Warn("event not published",
			zap.String("topic", topic), zap.String("event_type", eventType), zap.String("correlation_id", correlationID))
	}
}

func (p *Publisher) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
