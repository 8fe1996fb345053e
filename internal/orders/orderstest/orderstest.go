// Package orderstest provides in-memory collaborators for exercising the
// order lifecycle without Postgres or a payment provider.
package orderstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-stripe-orders/internal/orders"
)

// Store is a mutex-guarded orders.Store. Err, when set, fails every call.
type Store struct {
	mu     sync.Mutex
	orders map[string]orders.Order
	seq    int64

	Err       error
	CreateErr error // fails Create only
	Updates   int   // applied status updates
}

func NewStore() *Store {
	return &Store{orders: map[string]orders.Order{}}
}

func (s *Store) now() time.Time {
	s.seq++
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Second)
}

func (s *Store) Create(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.CreateErr != nil {
		return s.CreateErr
	}
	for _, ex := range s.orders {
		if ex.ID == o.ID || ex.PaymentReference == o.PaymentReference ||
			(ex.OwnerID == o.OwnerID && ex.IdempotencyKey == o.IdempotencyKey) {
			return orders.ErrDuplicate
		}
	}
	o.CreatedAt = s.now()
	o.UpdatedAt = o.CreatedAt
	s.orders[o.ID] = clone(*o)
	return nil
}

// Put stores o as-is, bypassing uniqueness checks.
func (s *Store) Put(o orders.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = clone(o)
}

func (s *Store) FindByID(_ context.Context, id string) (orders.Order, error) {
	return s.find(func(o orders.Order) bool { return o.ID == id })
}

func (s *Store) FindByOwnerAndID(_ context.Context, ownerID, id string) (orders.Order, error) {
	return s.find(func(o orders.Order) bool { return o.ID == id && o.OwnerID == ownerID })
}

func (s *Store) FindByPaymentReference(_ context.Context, ref string) (orders.Order, error) {
	return s.find(func(o orders.Order) bool { return o.PaymentReference == ref })
}

func (s *Store) FindByIdempotencyKey(_ context.Context, ownerID, key string) (orders.Order, error) {
	return s.find(func(o orders.Order) bool { return o.OwnerID == ownerID && o.IdempotencyKey == key })
}

func (s *Store) ListByOwner(_ context.Context, ownerID string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []orders.Order{}
	for _, o := range s.orders {
		if o.OwnerID == ownerID {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, expected, next orders.Status, f orders.Fields) (orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return orders.Order{}, false, s.Err
	}
	if !orders.CanTransition(expected, next) {
		return orders.Order{}, false, fmt.Errorf("illegal transition %s -> %s", expected, next)
	}
	o, ok := s.orders[id]
	if !ok || o.Status != expected {
		return orders.Order{}, false, nil
	}
	o.Status = next
	if f.RefundReason != nil {
		o.RefundReason = *f.RefundReason
	}
	o.UpdatedAt = s.now()
	s.orders[id] = o
	s.Updates++
	return clone(o), true, nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) find(match func(orders.Order) bool) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return orders.Order{}, s.Err
	}
	for _, o := range s.orders {
		if match(o) {
			return clone(o), nil
		}
	}
	return orders.Order{}, orders.ErrNotFound
}

func clone(o orders.Order) orders.Order {
	o.Items = append([]orders.Item(nil), o.Items...)
	return o
}

// Catalog serves a fixed price list.
type Catalog struct {
	Products map[string]orders.Product
	Err      error
	Calls    [][]string
}

func NewCatalog(prices map[string]int64) *Catalog {
	c := &Catalog{Products: map[string]orders.Product{}}
	for id, price := range prices {
		c.Products[id] = orders.Product{ID: id, Name: id, Price: price}
	}
	return c
}

func (c *Catalog) ResolveProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	c.Calls = append(c.Calls, append([]string(nil), ids...))
	if c.Err != nil {
		return nil, c.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := map[string]orders.Product{}
	for _, id := range ids {
		if p, ok := c.Products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (c *Catalog) ListProducts(context.Context) ([]orders.Product, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	out := make([]orders.Product, 0, len(c.Products))
	for _, p := range c.Products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Payments mimics a provider with idempotency keys: the same key always
// yields the same intent.
type Payments struct {
	mu       sync.Mutex
	byKey    map[string]orders.PaymentIntent
	Requests []orders.PaymentIntentRequest
	Err      error
	Block    bool // wait for ctx to expire, simulating a hung provider
}

func NewPayments() *Payments {
	return &Payments{byKey: map[string]orders.PaymentIntent{}}
}

func (p *Payments) CreatePaymentIntent(ctx context.Context, req orders.PaymentIntentRequest) (orders.PaymentIntent, error) {
	if p.Block {
		<-ctx.Done()
		return orders.PaymentIntent{}, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return orders.PaymentIntent{}, p.Err
	}
	if in, ok := p.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return in, nil
	}
	n := len(p.byKey) + 1
	in := orders.PaymentIntent{
		ID:           fmt.Sprintf("pi_test_%d", n),
		ClientSecret: fmt.Sprintf("pi_test_%d_secret_x", n),
	}
	p.byKey[req.IdempotencyKey] = in
	return in, nil
}

func (p *Payments) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byKey)
}

var ErrBadSignature = errors.New("signature mismatch")

// Verifier accepts payloads whose signature equals Secret. Payloads use the
// "type|reference|id" format produced by Payload.
type Verifier struct {
	Secret string
}

func (v Verifier) VerifyAndParseEvent(payload []byte, signature string) (orders.PaymentEvent, error) {
	if signature != v.Secret {
		return orders.PaymentEvent{}, ErrBadSignature
	}
	return Parse(payload)
}

// Payload renders an event in the format Verifier understands.
func Payload(typ orders.EventType, ref, id string) []byte {
	return []byte(string(typ) + "|" + ref + "|" + id)
}

func Parse(payload []byte) (orders.PaymentEvent, error) {
	parts := strings.SplitN(string(payload), "|", 3)
	if len(parts) != 3 {
		return orders.PaymentEvent{}, errors.New("malformed payload")
	}
	return orders.PaymentEvent{Type: orders.EventType(parts[0]), PaymentReference: parts[1], ID: parts[2]}, nil
}

// Notifier records every call.
type Notifier struct {
	mu        sync.Mutex
	Created   []orders.Order
	Changed   []orders.Order
	From      []orders.Status
	Dropped   [][]string
	Unmatched []orders.PaymentEvent
	Orphaned  []orders.PaymentIntent
}

func (n *Notifier) OrderCreated(_ context.Context, o orders.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Created = append(n.Created, o)
}

func (n *Notifier) StatusChanged(_ context.Context, o orders.Order, from orders.Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Changed = append(n.Changed, o)
	n.From = append(n.From, from)
}

func (n *Notifier) CartItemsDropped(_ context.Context, _ string, ids []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Dropped = append(n.Dropped, ids)
}

func (n *Notifier) UnmatchedPayment(_ context.Context, ev orders.PaymentEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Unmatched = append(n.Unmatched, ev)
}

func (n *Notifier) OrphanedIntent(_ context.Context, _ string, in orders.PaymentIntent, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Orphaned = append(n.Orphaned, in)
}

// Ledger is an in-memory orders.EventLedger.
type Ledger struct {
	mu   sync.Mutex
	seen map[string]bool
	Err  error
}

func (l *Ledger) Seen(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return false, l.Err
	}
	return l.seen[id], nil
}

func (l *Ledger) MarkProcessed(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	if l.seen == nil {
		l.seen = map[string]bool{}
	}
	l.seen[id] = true
	return nil
}
