package orders

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-stripe-orders/internal/apperr"
	"github.com/ariefcatur/go-stripe-orders/internal/logx"
)

// MaxQuantity matches the order_items.quantity column.
const MaxQuantity = math.MaxInt32

const DefaultUpstreamTimeout = 5 * time.Second

// Checkout builds payment sessions: it prices a cart from the catalog,
// opens a payment intent and records a pending order that references it.
type Checkout struct {
	Store    Store
	Catalog  Catalog
	Payments PaymentProvider
	Notifier Notifier
	Log      *zap.Logger

	Currency string
	Timeout  time.Duration // per upstream call
}

type CheckoutResult struct {
	ClientSecret string
	OrderID      string
	TotalAmount  int64
	Replayed     bool // true when an earlier attempt with the same key already committed
}

// Create runs a checkout for ownerID. idemKey identifies the client's attempt:
// retrying with the same key returns the order committed by an earlier attempt,
// and reuses the provider-side intent if the earlier attempt failed after
// creating it. An empty key gets a fresh one, which makes the call unretryable.
func (c *Checkout) Create(ctx context.Context, ownerID string, cart []CartItem, idemKey string) (CheckoutResult, error) {
	log := logx.OrNop(c.Log)
	if ownerID == "" {
		return CheckoutResult{}, apperr.Authentication("Not authorized", nil)
	}
	if err := validateCart(cart); err != nil {
		return CheckoutResult{}, err
	}

	idemKey = strings.TrimSpace(idemKey)
	if idemKey == "" {
		idemKey = uuid.NewString()
	} else if res, ok, err := c.replay(ctx, ownerID, idemKey); err != nil || ok {
		return res, err
	}

	items, dropped, err := c.price(ctx, cart)
	if err != nil {
		return CheckoutResult{}, err
	}
	if len(dropped) > 0 {
		log.Warn("cart items dropped: unknown products",
			zap.String("owner_id", ownerID), zap.Strings("product_ids", dropped))
		orNop(c.Notifier).CartItemsDropped(ctx, ownerID, dropped)
	}

	total, err := sumItems(items)
	if err != nil {
		return CheckoutResult{}, err
	}
	if total == 0 {
		log.Warn("zero-amount checkout", zap.String("owner_id", ownerID), zap.Int("cart_lines", len(cart)))
	}

	intent, err := c.openIntent(ctx, ownerID, idemKey, total)
	if err != nil {
		return CheckoutResult{}, err
	}

	o := &Order{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Items:            items,
		TotalAmount:      total,
		Currency:         c.currency(),
		PaymentReference: intent.ID,
		Status:           StatusPending,
		ClientSecret:     intent.ClientSecret,
		IdempotencyKey:   idemKey,
	}
	if err := c.Store.Create(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// a concurrent attempt with the same key committed first
			if res, ok, rerr := c.replay(ctx, ownerID, idemKey); rerr != nil || ok {
				return res, rerr
			}
		}
		log.Error("order persist failed after intent creation",
			zap.String("owner_id", ownerID),
			zap.String("payment_reference", intent.ID),
			zap.String("idempotency_key", idemKey),
			zap.Error(err))
		orNop(c.Notifier).OrphanedIntent(ctx, ownerID, intent, err)
		return CheckoutResult{}, apperr.Persistence("Could not save order, retry with the same Idempotency-Key", err)
	}

	log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("payment_reference", o.PaymentReference),
		zap.Int64("total_amount", o.TotalAmount))
	orNop(c.Notifier).OrderCreated(ctx, *o)

	return CheckoutResult{ClientSecret: intent.ClientSecret, OrderID: o.ID, TotalAmount: total}, nil
}

func (c *Checkout) replay(ctx context.Context, ownerID, idemKey string) (CheckoutResult, bool, error) {
	o, err := c.Store.FindByIdempotencyKey(ctx, ownerID, idemKey)
	switch {
	case err == nil:
		return CheckoutResult{ClientSecret: o.ClientSecret, OrderID: o.ID, TotalAmount: o.TotalAmount, Replayed: true}, true, nil
	case errors.Is(err, ErrNotFound):
		return CheckoutResult{}, false, nil
	default:
		return CheckoutResult{}, false, apperr.Persistence("Order store unavailable", err)
	}
}

// price resolves every distinct product once and snapshots unit prices.
// Lines naming unknown products are dropped and reported.
func (c *Checkout) price(ctx context.Context, cart []CartItem) ([]Item, []string, error) {
	ids := make([]string, 0, len(cart))
	seen := make(map[string]bool, len(cart))
	for _, ci := range cart {
		if !seen[ci.ProductID] {
			seen[ci.ProductID] = true
			ids = append(ids, ci.ProductID)
		}
	}

	var products map[string]Product
	if len(ids) > 0 {
		cctx, cancel := context.WithTimeout(ctx, c.timeout())
		defer cancel()
		var err error
		products, err = c.Catalog.ResolveProducts(cctx, ids)
		if err != nil {
			return nil, nil, apperr.Upstream("Product catalog unavailable", err)
		}
	}

	items := make([]Item, 0, len(cart))
	var dropped []string
	for _, ci := range cart {
		p, ok := products[ci.ProductID]
		if !ok {
			dropped = append(dropped, ci.ProductID)
			continue
		}
		qty := ci.Quantity
		if qty == 0 {
			qty = 1
		}
		items = append(items, Item{ProductID: p.ID, Quantity: qty, UnitPrice: p.Price})
	}
	return items, dropped, nil
}

func (c *Checkout) openIntent(ctx context.Context, ownerID, idemKey string, total int64) (PaymentIntent, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	intent, err := c.Payments.CreatePaymentIntent(cctx, PaymentIntentRequest{
		Amount:   total,
		Currency: c.currency(),
		Metadata: map[string]string{
			"userId":         ownerID,
			"idempotencyKey": idemKey,
		},
		IdempotencyKey: "checkout:" + ownerID + ":" + idemKey,
	})
	if err != nil {
		return PaymentIntent{}, apperr.Upstream("Payment provider unavailable", err)
	}
	return intent, nil
}

func (c *Checkout) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultUpstreamTimeout
	}
	return c.Timeout
}

func (c *Checkout) currency() string {
	if c.Currency == "" {
		return "inr"
	}
	return c.Currency
}

func validateCart(cart []CartItem) error {
	for _, ci := range cart {
		if strings.TrimSpace(ci.ProductID) == "" {
			return apperr.Validation("Each item needs a productId")
		}
		if ci.Quantity < 0 {
			return apperr.Validation("Quantity must be at least 1")
		}
		if ci.Quantity > MaxQuantity {
			return apperr.Validation("Quantity is too large")
		}
	}
	return nil
}

// sumItems adds up price x quantity, refusing totals that do not fit in int64.
func sumItems(items []Item) (int64, error) {
	var total int64
	for _, it := range items {
		qty := int64(it.Quantity)
		if it.UnitPrice < 0 || (it.UnitPrice > 0 && qty > math.MaxInt64/it.UnitPrice) {
			return 0, apperr.Validation("Order total is too large")
		}
		line := it.UnitPrice * qty
		if total > math.MaxInt64-line {
			return 0, apperr.Validation("Order total is too large")
		}
		total += line
	}
	return total, nil
}
