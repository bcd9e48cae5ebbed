package confirmation

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const defaultWebhookTimeout = 20 * time.Second

// DeliveryGuard помнит уведомления, уже доведённые до окончательного исхода.
// Доставки, которые ещё обрабатываются, не помечаются: параллельная доставка того же платежа
// проходит полностью, единственность подтверждения обеспечивает MarkPaid.
type DeliveryGuard interface {
	Processed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
}

// WebhookResult: итог обработки уведомления. Все значения означают ответ 200;
// временные сбои возвращаются ошибкой.
type WebhookResult string

const (
	WebhookIgnored        WebhookResult = "ignored"
	WebhookDuplicate      WebhookResult = "duplicate"
	WebhookNotApproved    WebhookResult = "not_approved"
	WebhookUnknownPayment WebhookResult = "unknown_payment"
	WebhookOrderNotFound  WebhookResult = "order_not_found"
	WebhookRejected       WebhookResult = "rejected_unresolved"
	WebhookConfirmed      WebhookResult = "confirmed"
	WebhookAlreadyPaid    WebhookResult = "already_paid"
	WebhookFailed         WebhookResult = "failed"
)

// WebhookProcessor проверяет уведомление через шлюз и подтверждает заказ.
type WebhookProcessor struct {
	provider   string
	gateway    domain.PaymentGateway
	reconciler *Reconciler
	guard      DeliveryGuard
	metrics    *metrics.CheckoutMetrics
	logger     *log.Entry
	timeout    time.Duration
}

// WebhookOption настраивает WebhookProcessor.
type WebhookOption func(*WebhookProcessor)

// WithDeliveryGuard включает дедупликацию доставок.
func WithDeliveryGuard(guard DeliveryGuard) WebhookOption {
	return func(p *WebhookProcessor) { p.guard = guard }
}

// WithWebhookLogger задаёт logger.
func WithWebhookLogger(logger *log.Entry) WebhookOption {
	return func(p *WebhookProcessor) { p.logger = logger }
}

// WithWebhookMetrics задаёт метрики.
func WithWebhookMetrics(m *metrics.CheckoutMetrics) WebhookOption {
	return func(p *WebhookProcessor) { p.metrics = m }
}

// WithWebhookTimeout ограничивает обработку одного уведомления.
func WithWebhookTimeout(timeout time.Duration) WebhookOption {
	return func(p *WebhookProcessor) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// NewWebhookProcessor создаёт обработчик уведомлений провайдера.
func NewWebhookProcessor(provider string, gateway domain.PaymentGateway, reconciler *Reconciler, options ...WebhookOption) *WebhookProcessor {
	p := &WebhookProcessor{
		provider:   provider,
		gateway:    gateway,
		reconciler: reconciler,
		timeout:    defaultWebhookTimeout,
	}
	for _, option := range options {
		option(p)
	}
	if p.logger == nil {
		p.logger = log.WithField("component", "webhook")
	}
	return p
}

// Handle обрабатывает уведомление. Ошибка означает временный сбой: шлюз должен повторить доставку.
func (p *WebhookProcessor) Handle(ctx context.Context, n domain.PaymentNotification) (WebhookResult, error) {
	result, err := p.handle(ctx, n)
	if err != nil {
		p.metrics.RecordWebhook(p.provider, string(WebhookFailed))
		return WebhookFailed, err
	}
	p.metrics.RecordWebhook(p.provider, string(result))
	return result, nil
}

func (p *WebhookProcessor) handle(ctx context.Context, n domain.PaymentNotification) (WebhookResult, error) {
	logger := p.logger.WithFields(log.Fields{
		"provider": p.provider,
		"topic":    n.Topic,
		"action":   n.Action,
	})
	if !n.IsPayment() {
		logger.Debug("notification is not about a payment, ignoring")
		return WebhookIgnored, nil
	}
	logger = logger.WithField("payment_id", n.ResourceID)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	key := n.DeliveryKey()
	if p.guard != nil {
		seen, err := p.guard.Processed(ctx, key)
		switch {
		case err != nil:
			logger.WithError(err).Warn("delivery guard unavailable, processing without deduplication")
		case seen:
			logger.Debug("duplicate notification delivery")
			return WebhookDuplicate, nil
		}
	}

	result, err := p.process(ctx, n, logger)
	if p.guard != nil && terminal(result, err) {
		if markErr := p.guard.MarkProcessed(context.WithoutCancel(ctx), key); markErr != nil {
			logger.WithError(markErr).Warn("failed to remember processed delivery")
		}
	}
	return result, err
}

func (p *WebhookProcessor) process(ctx context.Context, n domain.PaymentNotification, logger *log.Entry) (WebhookResult, error) {
	payment, err := p.gateway.GetPayment(ctx, n.ResourceID)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayRejected) {
			logger.WithError(err).Warn("gateway does not know the payment")
			return WebhookUnknownPayment, nil
		}
		return "", fmt.Errorf("verify payment %s: %w", n.ResourceID, err)
	}

	logger = logger.WithFields(log.Fields{
		"payment_status": payment.Status,
		"order_id":       payment.ExternalReference,
	})
	if !payment.Approved() {
		logger.Info("payment is not approved yet")
		return WebhookNotApproved, nil
	}
	if payment.ExternalReference == "" {
		logger.Warn("approved payment carries no order reference")
		return WebhookIgnored, nil
	}

	outcome, err := p.reconciler.Confirm(ctx, Request{
		OrderID:          payment.ExternalReference,
		PaymentReference: payment.ID,
		Trigger:          TriggerWebhook,
	})
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return WebhookOrderNotFound, nil
	case errors.Is(err, domain.ErrUnresolvedLineItem):
		logger.WithError(err).Warn("order left pending by unresolved item policy")
		return WebhookRejected, nil
	case err != nil:
		return "", fmt.Errorf("confirm order %s: %w", payment.ExternalReference, err)
	case outcome.Status == StatusAlreadyPaid:
		return WebhookAlreadyPaid, nil
	default:
		return WebhookConfirmed, nil
	}
}

// terminal: повторная доставка этого уведомления ничего не изменит.
func terminal(result WebhookResult, err error) bool {
	if err != nil {
		return false
	}
	switch result {
	case WebhookConfirmed, WebhookAlreadyPaid, WebhookOrderNotFound, WebhookUnknownPayment, WebhookIgnored:
		return true
	default:
		return false
	}
}
