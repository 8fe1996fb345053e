package orders

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-stripe-orders/internal/apperr"
	"github.com/ariefcatur/go-stripe-orders/internal/logx"
)

// Outcome describes what a verified callback did. Every outcome is
// acknowledged to the provider.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate" // order already past the transition
	OutcomeUnmatched Outcome = "unmatched" // no order carries the reference
	OutcomeIgnored   Outcome = "ignored"   // event type not acted on
)

// Reconciler applies verified payment-provider callbacks to orders.
type Reconciler struct {
	Store    Store
	Verifier EventVerifier
	Ledger   EventLedger // optional
	Notifier Notifier
	Log      *zap.Logger
}

// targets maps each actionable event type to the status it drives orders to.
var targets = map[EventType]Status{
	EventPaymentSucceeded: StatusPaid,
	EventChargeRefunded:   StatusRefunded,
}

// Handle verifies payload against signature and applies the event. An
// authentication error means nothing was read or written. A persistence error
// means the provider should redeliver.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (PaymentEvent, Outcome, error) {
	log := logx.OrNop(r.Log)

	ev, err := r.Verifier.VerifyAndParseEvent(payload, signature)
	if err != nil {
		log.Warn("webhook signature verification failed", zap.Error(err))
		return PaymentEvent{}, "", apperr.Authentication("Invalid webhook signature", err)
	}
	log = log.With(zap.String("event_id", ev.ID), zap.String("event_type", string(ev.Type)))

	to, ok := targets[ev.Type]
	if !ok {
		log.Info("unhandled event type")
		return ev, OutcomeIgnored, nil
	}

	if r.Ledger != nil && ev.ID != "" {
		if seen, err := r.Ledger.Seen(ctx, ev.ID); err != nil {
			log.Warn("event ledger lookup failed", zap.Error(err))
		} else if seen {
			log.Info("duplicate delivery skipped")
			return ev, OutcomeDuplicate, nil
		}
	}

	out, err := r.apply(ctx, log, ev, to)
	if err != nil {
		return ev, "", err
	}

	if r.Ledger != nil && ev.ID != "" {
		if err := r.Ledger.MarkProcessed(ctx, ev.ID); err != nil {
			log.Warn("event ledger write failed", zap.Error(err))
		}
	}
	return ev, out, nil
}

func (r *Reconciler) apply(ctx context.Context, log *zap.Logger, ev PaymentEvent, to Status) (Outcome, error) {
	if ev.PaymentReference == "" {
		log.Warn("event without payment reference")
		orNop(r.Notifier).UnmatchedPayment(ctx, ev)
		return OutcomeUnmatched, nil
	}
	log = log.With(zap.String("payment_reference", ev.PaymentReference))

	o, err := r.Store.FindByPaymentReference(ctx, ev.PaymentReference)
	if errors.Is(err, ErrNotFound) {
		log.Warn("no order for payment reference")
		orNop(r.Notifier).UnmatchedPayment(ctx, ev)
		return OutcomeUnmatched, nil
	}
	if err != nil {
		return "", apperr.Persistence("Order store unavailable", err)
	}

	// Sources are tried in forward order; a concurrent transition can only
	// move the order forward, so a later source may still match.
	for _, from := range sourcesFor(to) {
		updated, applied, err := r.Store.UpdateStatus(ctx, o.ID, from, to, Fields{})
		if err != nil {
			return "", apperr.Persistence("Order store unavailable", err)
		}
		if applied {
			log.Info("order status changed",
				zap.String("order_id", o.ID), zap.String("from", string(from)), zap.String("to", string(to)))
			orNop(r.Notifier).StatusChanged(ctx, updated, from)
			return OutcomeApplied, nil
		}
	}

	log.Info("transition not applicable", zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
	return OutcomeDuplicate, nil
}
