package orders

import "context"

// Notifier observes lifecycle facts, including the silent no-op paths
// (dropped cart lines, unmatched callbacks) so they stay visible to operators.
// Implementations must not block the caller on slow sinks.
type Notifier interface {
	OrderCreated(ctx context.Context, o Order)
	StatusChanged(ctx context.Context, o Order, from Status)
	CartItemsDropped(ctx context.Context, ownerID string, productIDs []string)
	UnmatchedPayment(ctx context.Context, ev PaymentEvent)
	OrphanedIntent(ctx context.Context, ownerID string, intent PaymentIntent, cause error)
}

type NopNotifier struct{}

func (NopNotifier) OrderCreated(context.Context, Order)                          {}
func (NopNotifier) StatusChanged(context.Context, Order, Status)                 {}
func (NopNotifier) CartItemsDropped(context.Context, string, []string)           {}
func (NopNotifier) UnmatchedPayment(context.Context, PaymentEvent)               {}
func (NopNotifier) OrphanedIntent(context.Context, string, PaymentIntent, error) {}

// Notifiers fans every call out to each element in order.
type Notifiers []Notifier

func (ns Notifiers) OrderCreated(ctx context.Context, o Order) {
	for _, n := range ns {
		n.OrderCreated(ctx, o)
	}
}

func (ns Notifiers) StatusChanged(ctx context.Context, o Order, from Status) {
	for _, n := range ns {
		n.StatusChanged(ctx, o, from)
	}
}

func (ns Notifiers) CartItemsDropped(ctx context.Context, ownerID string, productIDs []string) {
	for _, n := range ns {
		n.CartItemsDropped(ctx, ownerID, productIDs)
	}
}

func (ns Notifiers) UnmatchedPayment(ctx context.Context, ev PaymentEvent) {
	for _, n := range ns {
		n.UnmatchedPayment(ctx, ev)
	}
}

func (ns Notifiers) OrphanedIntent(ctx context.Context, ownerID string, intent PaymentIntent, cause error) {
	for _, n := range ns {
		n.OrphanedIntent(ctx, ownerID, intent, cause)
	}
}

func orNop(n Notifier) Notifier {
	if n == nil {
		return NopNotifier{}
	}
	return n
}
