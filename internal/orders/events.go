package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventPaymentUnmatched   = "PaymentUnmatched"
	EventIntentOrphaned     = "CheckoutIntentOrphaned"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id, atau payment_reference
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type OrderCreatedPayload struct {
	OrderID          string `json:"order_id"`
	OwnerID          string `json:"owner_id"`
	Items            []Item `json:"items"`
	TotalAmount      int64  `json:"total_amount"`
	Currency         string `json:"currency"`
	PaymentReference string `json:"payment_reference"`
}

type OrderStatusChangedPayload struct {
	OrderID          string    `json:"order_id"`
	OwnerID          string    `json:"owner_id"`
	PaymentReference string    `json:"payment_reference"`
	From             Status    `json:"from"`
	To               Status    `json:"to"`
	RefundReason     string    `json:"refund_reason,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type PaymentUnmatchedPayload struct {
	ProviderEventID  string    `json:"provider_event_id"`
	ProviderType     string    `json:"provider_type"`
	PaymentReference string    `json:"payment_reference"`
	ReceivedAt       time.Time `json:"received_at"`
}

type IntentOrphanedPayload struct {
	OwnerID          string    `json:"owner_id"`
	PaymentReference string    `json:"payment_reference"`
	Cause            string    `json:"cause"`
	DetectedAt       time.Time `json:"detected_at"`
}
