// Package httpapi: публичный HTTP API оформления и подтверждения оплаты.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/confirmation"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
)

const defaultRequestTimeout = 30 * time.Second

// CheckoutService открывает платёжные сессии и отдаёт заказы.
type CheckoutService interface {
	Start(ctx context.Context, req checkout.Request) (checkout.Session, error)
	Order(ctx context.Context, id string) (checkout.OrderView, error)
}

// Confirmer подтверждает оплату по обратному вызову браузера.
type Confirmer interface {
	Confirm(ctx context.Context, req confirmation.Request) (confirmation.Outcome, error)
}

// WebhookHandler обрабатывает разобранное уведомление шлюза.
type WebhookHandler interface {
	Handle(ctx context.Context, n domain.PaymentNotification) (confirmation.WebhookResult, error)
}

// Diagnoser: read-only отчёт о сопоставлении позиций заказа со складом.
type Diagnoser interface {
	Diagnose(ctx context.Context, orderID string) (inventory.Report, error)
}

// Deps: зависимости обработчиков. Idempotency может быть nil: тогда заголовок Idempotency-Key игнорируется.
type Deps struct {
	Checkout       CheckoutService
	Confirmer      Confirmer
	Webhooks       WebhookHandler
	Decoder        domain.NotificationDecoder
	Diagnostics    Diagnoser
	Idempotency    domain.IdempotencyRepository
	Logger         *log.Entry
	RequestTimeout time.Duration
}

// NewRouter собирает chi-роутер публичного API.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = log.WithField("component", "http")
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	h := &handlers{deps: deps, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(requestID(deps.Logger))
	r.Use(recoverer(deps.Logger))
	r.Use(requestLogging(deps.Logger))
	r.Use(chimw.Timeout(deps.RequestTimeout))

	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", h.createCheckout)
		r.Post("/payments/confirm", h.confirmPayment)
		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Get("/diagnostics", h.diagnoseOrder)
		})
	})
	r.Post("/webhooks/payments", h.paymentWebhook)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: apiError{Code: codeNotFound, Message: "route not found"}})
	})

	return r
}

type handlers struct {
	deps   Deps
	logger *log.Entry
}
