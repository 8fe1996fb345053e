package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-stripe-orders/internal/auth"
	"github.com/ariefcatur/go-stripe-orders/internal/metrics"
	"github.com/ariefcatur/go-stripe-orders/internal/orders"
	"github.com/ariefcatur/go-stripe-orders/internal/orders/orderstest"
	"github.com/ariefcatur/go-stripe-orders/internal/redisx"
)

const whsec = "whsec_test"

type memUsers struct {
	mu sync.Mutex
	m  map[string]auth.User
}

func (u *memUsers) CreateUser(_ context.Context, usr *auth.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.m[usr.Email]; ok {
		return auth.ErrEmailTaken
	}
	usr.ID = fmt.Sprintf("user-%d", len(u.m)+1)
	u.m[usr.Email] = *usr
	return nil
}

func (u *memUsers) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	usr, ok := u.m[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return usr, nil
}

type memCache struct {
	mu sync.Mutex
	m  map[string]redisx.CachedStatus
}

func (c *memCache) Get(_ context.Context, id string) (redisx.CachedStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.m[id]
	if !ok {
		return redisx.CachedStatus{}, redisx.ErrMiss
	}
	return cs, nil
}

func (c *memCache) Set(_ context.Context, id string, cs redisx.CachedStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = cs
	return nil
}

type harness struct {
	srv      *httptest.Server
	store    *orderstest.Store
	catalog  *orderstest.Catalog
	payments *orderstest.Payments
	cache    *memCache
	domain   *metrics.Domain
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := &harness{
		store:    orderstest.NewStore(),
		catalog:  orderstest.NewCatalog(map[string]int64{"tshirt": 1999, "hoodie": 3999}),
		payments: orderstest.NewPayments(),
		cache:    &memCache{m: map[string]redisx.CachedStatus{}},
	}
	reg := prometheus.NewRegistry()
	h.domain = metrics.NewDomain(reg, "api")

	tokens := auth.NewIssuer("jwt-secret", time.Hour)
	api := &API{
		Auth:     &auth.Service{Users: &memUsers{m: map[string]auth.User{}}, Tokens: tokens, Log: log},
		Tokens:   tokens,
		Products: h.catalog,
		Checkout: &orders.Checkout{
			Store: h.store, Catalog: h.catalog, Payments: h.payments, Notifier: h.domain,
			Log: log, Currency: "inr", Timeout: time.Second,
		},
		Refunds:    &orders.Refunds{Store: h.store, Notifier: h.domain, Log: log},
		Queries:    &orders.Queries{Store: h.store},
		Reconciler: &orders.Reconciler{Store: h.store, Verifier: orderstest.Verifier{Secret: whsec}, Ledger: &orderstest.Ledger{}, Notifier: h.domain, Log: log},
		Statuses:   h.cache,
		Outcomes:   h.domain,
		Log:        log,
	}
	r := NewRouter(log, metrics.NewServerMetrics(reg, "api"), reg)
	api.Register(r)
	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, token string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	m, _ := out.(map[string]any)
	return resp.StatusCode, m
}

func (h *harness) register(t *testing.T, email string) string {
	t.Helper()
	code, body := h.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Test", "email": email, "password": "pw123456",
	})
	require.Equal(t, http.StatusCreated, code)
	return body["token"].(string)
}

func (h *harness) checkout(t *testing.T, token, key string) (int, map[string]any) {
	t.Helper()
	return h.do(t, http.MethodPost, "/api/orders/create-checkout-session", token,
		map[string]any{"items": []map[string]any{{"productId": "tshirt", "quantity": 2}}},
		"Idempotency-Key", key)
}

func TestAuthRoutes(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"name": "A", "email": "a@x.io", "password": "pw123456"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "a@x.io", body["email"])
	assert.NotEmpty(t, body["_id"])
	assert.NotEmpty(t, body["token"])

	code, body = h.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"name": "A", "email": "a@x.io", "password": "pw123456"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "User already exists", body["message"])

	code, _ = h.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@x.io", "password": "pw123456"})
	assert.Equal(t, http.StatusOK, code)

	code, body = h.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@x.io", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid email or password", body["message"])

	code, _ = h.do(t, http.MethodPost, "/api/auth/login", "", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/api/orders/my-orders", "/api/orders/abc", "/api/orders/abc/status"} {
		code, body := h.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, code, path)
		assert.Equal(t, "unauthenticated", body["code"])
	}
	code, _ := h.checkout(t, "bogus", "k1")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Zero(t, h.payments.Count())
}

func TestCheckoutPayRefundFlow(t *testing.T) {
	h := newHarness(t)
	tok := h.register(t, "buyer@x.io")

	code, body := h.checkout(t, tok, "attempt-1")
	require.Equal(t, http.StatusCreated, code)
	orderID := body["orderId"].(string)
	assert.Equal(t, "pi_test_1_secret_x", body["clientSecret"])

	// retry replays
	code, body = h.checkout(t, tok, "attempt-1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, orderID, body["orderId"])
	assert.Equal(t, 1, h.store.Len())

	// refund before payment
	code, body = h.do(t, http.MethodPost, "/api/orders/request-refund/"+orderID, tok, map[string]string{"reason": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "state_conflict", body["code"])
	assert.Equal(t, "Only paid orders can request refund", body["message"])

	// forged callback
	code, body = h.do(t, http.MethodPost, "/api/webhook/stripe", "",
		orderstest.Payload(orders.EventPaymentSucceeded, "pi_test_1", "evt_1"), "Stripe-Signature", "forged")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "Webhook Error:")

	code, body = h.do(t, http.MethodPost, "/api/webhook/stripe", "",
		orderstest.Payload(orders.EventPaymentSucceeded, "pi_test_1", "evt_1"), "Stripe-Signature", whsec)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["received"])

	code, body = h.do(t, http.MethodGet, "/api/orders/"+orderID+"/status", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paid", body["status"])

	code, body = h.do(t, http.MethodPost, "/api/orders/request-refund/"+orderID, tok, map[string]string{"reason": "too big"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Refund requested", body["message"])
	order := body["order"].(map[string]any)
	assert.Equal(t, "refund_requested", order["status"])
	assert.Equal(t, "too big", order["refundReason"])

	code, _ = h.do(t, http.MethodPost, "/api/webhook/stripe", "",
		orderstest.Payload(orders.EventChargeRefunded, "pi_test_1", "evt_2"), "Stripe-Signature", whsec)
	require.Equal(t, http.StatusOK, code)

	code, body = h.do(t, http.MethodGet, "/api/orders/"+orderID, tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "refunded", body["status"])
	assert.EqualValues(t, 3998, body["totalAmount"])

	assert.Equal(t, 1.0, testutil.ToFloat64(h.domain.Checkouts.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.domain.Checkouts.WithLabelValues("replayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.domain.Transitions.WithLabelValues("refund_requested", "refunded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.domain.WebhookEvents.WithLabelValues("payment_intent.succeeded", "applied")))
}

func TestRefundWithoutBody(t *testing.T) {
	h := newHarness(t)
	tok := h.register(t, "nobody@x.io")
	_, body := h.checkout(t, tok, "nb-1")
	orderID := body["orderId"].(string)
	code, _ := h.do(t, http.MethodPost, "/api/webhook/stripe", "",
		orderstest.Payload(orders.EventPaymentSucceeded, "pi_test_1", "evt_1"), "Stripe-Signature", whsec)
	require.Equal(t, http.StatusOK, code)

	// chunked request with nothing in it
	req := httptest.NewRequest(http.MethodPost, "/api/orders/request-refund/"+orderID, strings.NewReader(""))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.srv.Config.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp refundResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, orders.StatusRefundRequested, resp.Order.Status)
	assert.Equal(t, orders.DefaultRefundReason, resp.Order.RefundReason)

	code, body = h.do(t, http.MethodPost, "/api/orders/request-refund/"+orderID, tok, []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid request body", body["message"])
}

func TestOwnershipIsolation(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice@x.io")
	bob := h.register(t, "bob@x.io")

	_, body := h.checkout(t, alice, "a-1")
	orderID := body["orderId"].(string)

	// a stale cache entry owned by someone else must not leak
	h.cache.m[orderID] = redisx.CachedStatus{Status: "paid", OwnerID: "user-1"}

	for _, path := range []string{"/api/orders/" + orderID, "/api/orders/" + orderID + "/status"} {
		code, body := h.do(t, http.MethodGet, path, bob, nil)
		assert.Equal(t, http.StatusNotFound, code, path)
		assert.Equal(t, "Order not found", body["message"])
	}
	code, _ := h.do(t, http.MethodPost, "/api/orders/request-refund/"+orderID, bob, nil)
	assert.Equal(t, http.StatusNotFound, code)

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/api/orders/my-orders", nil)
	req.Header.Set("Authorization", "Bearer "+bob)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []orders.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Empty(t, list)
}

func TestStatusServedFromCache(t *testing.T) {
	h := newHarness(t)
	tok := h.register(t, "c@x.io")
	_, body := h.checkout(t, tok, "c-1")
	orderID := body["orderId"].(string)

	h.cache.m[orderID] = redisx.CachedStatus{Status: "paid", OwnerID: "user-1"}
	code, body := h.do(t, http.MethodGet, "/api/orders/"+orderID+"/status", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paid", body["status"], "cache entry wins while fresh")

	delete(h.cache.m, orderID)
	_, body = h.do(t, http.MethodGet, "/api/orders/"+orderID+"/status", tok, nil)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "pending", h.cache.m[orderID].Status, "miss repopulates")
}

func TestUpstreamAndStoreFailures(t *testing.T) {
	h := newHarness(t)
	tok := h.register(t, "d@x.io")

	h.payments.Err = errors.New("stripe down")
	code, body := h.checkout(t, tok, "d-1")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "upstream_unavailable", body["code"])
	h.payments.Err = nil

	code, body = h.do(t, http.MethodPost, "/api/orders/create-checkout-session", tok, map[string]any{
		"items": []map[string]any{{"productId": "", "quantity": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["code"])

	h.store.Err = errors.New("db down")
	code, _ = h.do(t, http.MethodPost, "/api/webhook/stripe", "",
		orderstest.Payload(orders.EventPaymentSucceeded, "pi_x", "evt_9"), "Stripe-Signature", whsec)
	assert.Equal(t, http.StatusInternalServerError, code, "provider must redeliver")
}

func TestUnmatchedCallbackIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodPost, "/api/webhook/stripe", "",
		orderstest.Payload(orders.EventPaymentSucceeded, "pi_nobody", "evt_1"), "Stripe-Signature", whsec)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, 1.0, testutil.ToFloat64(h.domain.WebhookEvents.WithLabelValues("payment_intent.succeeded", "unmatched")))
}

func TestProductsAndOps(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.srv.URL + "/api/products")
	require.NoError(t, err)
	defer resp.Body.Close()
	var ps []orders.Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ps))
	require.Len(t, ps, 2)
	assert.Equal(t, "hoodie", ps[0].ID)

	code, _ := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)

	m, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer m.Body.Close()
	assert.Equal(t, http.StatusOK, m.StatusCode)
}
