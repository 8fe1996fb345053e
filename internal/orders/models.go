package orders

import "time"

type Product struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       int64     `json:"price"` // minor currency unit
	ImageURL    string    `json:"imageUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Item is a line of an order. UnitPrice is the catalog price at checkout time.
type Item struct {
	ProductID string `json:"product"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type Order struct {
	ID               string    `json:"_id"`
	OwnerID          string    `json:"user"`
	Items            []Item    `json:"items"`
	TotalAmount      int64     `json:"totalAmount"`
	Currency         string    `json:"currency"`
	PaymentReference string    `json:"stripePaymentIntentId"`
	Status           Status    `json:"status"`
	RefundReason     string    `json:"refundReason,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	ClientSecret   string `json:"-"`
	IdempotencyKey string `json:"-"`
}

// CartItem is one requested line of a checkout. A zero Quantity means 1.
type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity,omitempty"`
}

// Fields carries the columns a status transition may set besides status.
type Fields struct {
	RefundReason *string
}
