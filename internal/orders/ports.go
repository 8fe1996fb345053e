package orders

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("order not found")
	ErrDuplicate = errors.New("order already exists")
)

// Store persists orders. UpdateStatus is a compare-and-swap on status: it
// applies only when the stored status equals expected, and reports whether
// it did. A non-applied update is not an error.
type Store interface {
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (Order, error)
	FindByOwnerAndID(ctx context.Context, ownerID, id string) (Order, error)
	FindByPaymentReference(ctx context.Context, ref string) (Order, error)
	FindByIdempotencyKey(ctx context.Context, ownerID, key string) (Order, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, expected, next Status, f Fields) (Order, bool, error)
}

// Catalog resolves product ids. Unknown ids are absent from the result.
type Catalog interface {
	ResolveProducts(ctx context.Context, ids []string) (map[string]Product, error)
}

type PaymentIntentRequest struct {
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
}

type PaymentProvider interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
}

type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventChargeRefunded   EventType = "charge.refunded"
)

// PaymentEvent is a verified provider callback. PaymentReference is empty for
// types the system does not act on.
type PaymentEvent struct {
	ID               string
	Type             EventType
	PaymentReference string
}

// EventVerifier authenticates a raw callback body against its signature
// header. It must see the bytes exactly as received.
type EventVerifier interface {
	VerifyAndParseEvent(payload []byte, signature string) (PaymentEvent, error)
}

// EventLedger remembers processed provider event ids. It is an optimisation
// in front of the store's compare-and-swap, never a substitute for it.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}
