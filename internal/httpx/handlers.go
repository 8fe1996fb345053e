package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-stripe-orders/internal/apperr"
	"github.com/ariefcatur/go-stripe-orders/internal/auth"
	"github.com/ariefcatur/go-stripe-orders/internal/logx"
	"github.com/ariefcatur/go-stripe-orders/internal/orders"
	"github.com/ariefcatur/go-stripe-orders/internal/redisx"
)

// maxWebhookBody matches the payload ceiling Stripe documents for events.
const maxWebhookBody = 65536

type ProductLister interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, error)
	Set(ctx context.Context, orderID string, cs redisx.CachedStatus) error
}

// Outcomes receives checkout and webhook results, typically *metrics.Domain.
type Outcomes interface {
	Checkout(result string)
	Webhook(eventType, outcome string)
}

type API struct {
	Auth       *auth.Service
	Tokens     *auth.Issuer
	Products   ProductLister
	Checkout   *orders.Checkout
	Refunds    *orders.Refunds
	Queries    *orders.Queries
	Reconciler *orders.Reconciler
	Statuses   StatusCache // optional
	Outcomes   Outcomes    // optional
	Log        *zap.Logger
}

func (a *API) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", a.register)
		r.Post("/auth/login", a.login)
		r.Get("/products", a.listProducts)

		// raw body, signature-authenticated
		r.Post("/webhook/stripe", a.stripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(a.Tokens.Middleware(func(w http.ResponseWriter, r *http.Request, err error) {
				writeError(w, r, a.log(), apperr.Authentication("Not authorized, token failed", err))
			}))
			r.Get("/orders/my-orders", a.myOrders)
			r.Post("/orders/create-checkout-session", a.createCheckoutSession)
			r.Post("/orders/request-refund/{orderId}", a.requestRefund)
			r.Get("/orders/{orderId}", a.getOrder)
			r.Get("/orders/{orderId}/status", a.getOrderStatus)
		})
	})
}

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResp struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Token string `json:"token"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, a.log(), err)
		return
	}
	s, err := a.Auth.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeError(w, r, a.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResp{ID: s.User.ID, Name: s.User.Name, Email: s.User.Email, Token: s.Token})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, a.log(), err)
		return
	}
	s, err := a.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, a.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResp{ID: s.User.ID, Name: s.User.Name, Email: s.User.Email, Token: s.Token})
}

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := a.Products.ListProducts(r.Context())
	if err != nil {
		writeError(w, r, a.log(), apperr.Persistence("Product catalog unavailable", err))
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (a *API) myOrders(w http.ResponseWriter, r *http.Request) {
	list, err := a.Queries.ListMine(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, a.log(), err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.Queries.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, a.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type statusResp struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// getOrderStatus serves from the Redis cache when the entry belongs to the
// caller and falls back to the store otherwise.
func (a *API) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, id := auth.UserID(ctx), chi.URLParam(r, "orderId")

	if a.Statuses != nil {
		cs, err := a.Statuses.Get(ctx, id)
		if err == nil && cs.OwnerID == uid {
			writeJSON(w, http.StatusOK, statusResp{OrderID: id, Status: cs.Status, UpdatedAt: cs.UpdatedAt})
			return
		}
		if err != nil && !errors.Is(err, redisx.ErrMiss) {
			a.log().Warn("status cache read failed", zap.String("order_id", id), zap.Error(err))
		}
	}

	o, err := a.Queries.Get(ctx, uid, id)
	if err != nil {
		writeError(w, r, a.log(), err)
		return
	}
	if a.Statuses != nil {
		cs := redisx.CachedStatus{Status: string(o.Status), OwnerID: o.OwnerID, UpdatedAt: o.UpdatedAt}
		if err := a.Statuses.Set(ctx, o.ID, cs); err != nil {
			a.log().Warn("status cache write failed", zap.String("order_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, statusResp{OrderID: o.ID, Status: string(o.Status), UpdatedAt: o.UpdatedAt})
}

type checkoutReq struct {
	Items []orders.CartItem `json:"items"`
}

type checkoutResp struct {
	ClientSecret string `json:"clientSecret"`
	OrderID      string `json:"orderId"`
}

func (a *API) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if err := decodeJSON(r, &req); err != nil {
		a.checkoutOutcome(string(apperr.KindValidation))
		writeError(w, r, a.log(), err)
		return
	}
	res, err := a.Checkout.Create(r.Context(), auth.UserID(r.Context()), req.Items, r.Header.Get("Idempotency-Key"))
	if err != nil {
		a.checkoutOutcome(string(apperr.KindOf(err)))
		writeError(w, r, a.log(), err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
		a.checkoutOutcome("replayed")
	} else {
		a.checkoutOutcome("created")
	}
	writeJSON(w, code, checkoutResp{ClientSecret: res.ClientSecret, OrderID: res.OrderID})
}

type refundReq struct {
	Reason string `json:"reason"`
}

type refundResp struct {
	Message string       `json:"message"`
	Order   orders.Order `json:"order"`
}

func (a *API) requestRefund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	// body is optional; a missing reason gets the default
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, a.log(), apperr.Validation("Invalid request body"))
		return
	}
	o, err := a.Refunds.Request(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "orderId"), req.Reason)
	if err != nil {
		writeError(w, r, a.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, refundResp{Message: "Refund requested", Order: o})
}

func (a *API) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.webhookOutcome("", "rejected")
		writeJSON(w, http.StatusBadRequest, errorBody{Message: fmt.Sprintf("Webhook Error: %v", err), Code: string(apperr.KindValidation)})
		return
	}

	ev, outcome, err := a.Reconciler.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if apperr.Is(err, apperr.KindAuthentication) {
		a.webhookOutcome("", "rejected")
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "Webhook Error: " + apperr.Message(err), Code: string(apperr.KindAuthentication)})
		return
	}
	if err != nil {
		a.webhookOutcome(string(ev.Type), "failed")
		writeError(w, r, a.log(), err)
		return
	}
	a.webhookOutcome(string(ev.Type), string(outcome))
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (a *API) checkoutOutcome(result string) {
	if a.Outcomes != nil {
		a.Outcomes.Checkout(result)
	}
}

func (a *API) webhookOutcome(eventType, outcome string) {
	if a.Outcomes != nil {
		a.Outcomes.Webhook(eventType, outcome)
	}
}

func (a *API) log() *zap.Logger { return logx.OrNop(a.Log) }
