// Package handler exposes checkout, payment and order operations over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/slot"
	"github.com/xenking/kart-checkout/internal/gateway"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// CheckoutService assembles and stores checkout attempts.
type CheckoutService interface {
	Begin(ctx context.Context, req checkout.BeginRequest) (*checkout.Attempt, error)
	Get(ctx context.Context, userID, attemptID string) (*checkout.Attempt, error)
	Abandon(ctx context.Context, userID, attemptID string) error
}

// Payments drives payment sessions.
type Payments interface {
	Start(ctx context.Context, a checkout.Attempt) (payment.View, error)
	Resolve(ctx context.Context, attemptID string, cb payment.Callback) (payment.Outcome, error)
	Reconcile(ctx context.Context, attemptID string) (payment.Outcome, error)
	Session(ctx context.Context, attemptID string) (*payment.Session, error)
}

// Orders reads persisted orders.
type Orders interface {
	Get(ctx context.Context, userID, orderID string) (*order.Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*order.Order, error)
}

// Slots lists bookable delivery and pickup windows.
type Slots interface {
	ListValidDates(now time.Time, horizonDays int) []slot.DateOption
	HorizonDays() int
}

// Authenticator validates API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// SandboxPayer completes payments on the in-process gateway.
type SandboxPayer interface {
	Pay(gatewayOrderID string) (gateway.SandboxPayment, error)
}

var (
	_ CheckoutService = (*checkout.Service)(nil)
	_ Payments        = (*payment.Orchestrator)(nil)
	_ Orders          = (*order.Service)(nil)
	_ Slots           = (*slot.Scheduler)(nil)
	_ Authenticator   = (*auth.Authenticator)(nil)
	_ SandboxPayer    = (*gateway.Sandbox)(nil)
)

// Deps are the services behind the API. Sandbox is optional.
type Deps struct {
	Checkout CheckoutService
	Payments Payments
	Orders   Orders
	Slots    Slots
	Auth     Authenticator
	Sandbox  SandboxPayer
}

// Handler serves the checkout API.
type Handler struct {
	checkout CheckoutService
	payments Payments
	orders   Orders
	slots    Slots
	auth     Authenticator
	sandbox  SandboxPayer

	now func() time.Time
}

// NewHandler returns a Handler over deps.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		checkout: deps.Checkout,
		payments: deps.Payments,
		orders:   deps.Orders,
		slots:    deps.Slots,
		auth:     deps.Auth,
		sandbox:  deps.Sandbox,
		now:      time.Now,
	}
}

// Routes mounts the API under /api. Route-aware middlewares run inside the
// router so they see the matched pattern.
func (h *Handler) Routes(middlewares ...httpmiddleware.Middleware) http.Handler {
	r := chi.NewRouter()
	for _, m := range middlewares {
		r.Use(m)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireAPIKey)

		r.Get("/checkout/slots", h.ListSlots)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Route("/checkout/attempts", func(r chi.Router) {
				r.Post("/", h.BeginAttempt)
				r.Route("/{attemptID}", func(r chi.Router) {
					r.Get("/", h.GetAttempt)
					r.Delete("/", h.AbandonAttempt)
					r.Post("/pay", h.Pay)
					r.Post("/callback", h.Callback)
					r.Post("/reconcile", h.Reconcile)
				})
			})

			r.Get("/orders", h.FindOrder)
			r.Get("/orders/{orderID}", h.GetOrder)
		})

		if h.sandbox != nil {
			r.Post("/sandbox/payments", h.SandboxPay)
		}
	})
	return r
}
