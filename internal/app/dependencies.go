package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/fake"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/mercadopago"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/stripe"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/confirmation"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/service/retention"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/redis"
)

// paymentProvider: платёжный шлюз вместе с разбором его вебхуков.
type paymentProvider interface {
	domain.PaymentGateway
	domain.NotificationDecoder
}

// Dependencies содержит доменные сервисы, собранные поверх хранилищ.
type Dependencies struct {
	Provider     string
	Checkout     *checkout.Service
	Reconciler   *confirmation.Reconciler
	Webhooks     *confirmation.WebhookProcessor
	Decoder      domain.NotificationDecoder
	Diagnostics  *inventory.Replayer
	Logger       *log.Entry
	guardChecker healthcheck.Checker
	sweepers     []retention.CleanupOption
	closers      []func() error
}

// Close освобождает внешние подключения (Redis).
func (d *Dependencies) Close() {
	for _, closeFn := range d.closers {
		if err := closeFn(); err != nil {
			d.Logger.WithError(err).Warn("failed to close dependency")
		}
	}
}

// NewDependencies собирает сервисы checkout, подтверждения и диагностики.
func NewDependencies(ctx context.Context, cfg Config, storage runtimeDependencies, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	provider, name, err := newPaymentProvider(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := confirmation.ParseUnresolvedPolicy(cfg.UnresolvedPolicy)
	if err != nil {
		return nil, err
	}

	checkoutMetrics := metrics.NewCheckoutMetrics()
	deps := &Dependencies{Provider: name, Decoder: provider, Logger: logger}

	deps.Checkout = checkout.NewService(checkout.Config{
		PublicBaseURL:   cfg.PublicBaseURL,
		NotificationURL: cfg.NotificationURL,
		GatewayTimeout:  cfg.GatewayTimeout,
		DefaultCurrency: cfg.DefaultCurrency,
	}, storage.repo, provider,
		checkout.WithOutbox(storage.outboxRepo),
		checkout.WithTimeline(storage.timelineRepo),
		checkout.WithMetrics(checkoutMetrics),
		checkout.WithLogger(logger.WithField("component", "checkout")),
	)

	deps.Reconciler = confirmation.NewReconciler(storage.repo, storage.inventoryRepo,
		confirmation.WithPolicy(policy),
		confirmation.WithOutbox(storage.outboxRepo),
		confirmation.WithTimeline(storage.timelineRepo),
		confirmation.WithMetrics(checkoutMetrics),
		confirmation.WithConfirmTimeout(cfg.ConfirmTimeout),
		confirmation.WithDecrementTimeout(cfg.DecrementTimeout),
		confirmation.WithLogger(logger.WithField("component", "confirmation")),
	)

	guard := deps.newDeliveryGuard(ctx, cfg, name)
	deps.Webhooks = confirmation.NewWebhookProcessor(name, provider, deps.Reconciler,
		confirmation.WithDeliveryGuard(guard),
		confirmation.WithWebhookMetrics(checkoutMetrics),
		confirmation.WithWebhookTimeout(cfg.WebhookTimeout),
		confirmation.WithWebhookLogger(logger.WithField("component", "webhook")),
	)

	deps.Diagnostics = inventory.NewReplayer(storage.repo, inventory.NewResolver(storage.inventoryRepo))
	deps.sweepers = append(deps.sweepers, retention.WithTarget("idempotency", storage.idempotencyRepo))

	logger.WithFields(log.Fields{
		"payment_provider":  name,
		"unresolved_policy": policy,
	}).Info("checkout services initialized")
	return deps, nil
}

func newPaymentProvider(cfg Config) (paymentProvider, string, error) {
	switch cfg.PaymentProvider {
	case fake.Provider, "":
		return fake.NewGateway(cfg.FakeGatewayURL), fake.Provider, nil
	case mercadopago.Provider:
		client, err := mercadopago.NewClient(cfg.MercadoPagoAccessToken,
			mercadopago.WithWebhookSecret(cfg.MercadoPagoWebhookSecret),
			mercadopago.WithSandbox(cfg.MercadoPagoSandbox),
		)
		if err != nil {
			return nil, "", fmt.Errorf("init mercadopago client: %w", err)
		}
		return client, mercadopago.Provider, nil
	case stripe.Provider:
		gateway, err := stripe.NewGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		if err != nil {
			return nil, "", fmt.Errorf("init stripe gateway: %w", err)
		}
		return gateway, stripe.Provider, nil
	default:
		return nil, "", fmt.Errorf("unsupported payment provider %q", cfg.PaymentProvider)
	}
}

// newDeliveryGuard выбирает Redis, если он задан и доступен; иначе пометки живут в памяти процесса.
func (d *Dependencies) newDeliveryGuard(ctx context.Context, cfg Config, scope string) confirmation.DeliveryGuard {
	if cfg.RedisURL != "" {
		client, err := redis.Open(ctx, cfg.RedisURL)
		if err == nil {
			guard, guardErr := redis.NewDeliveryGuard(client, cfg.WebhookDedupTTL, scope)
			if guardErr == nil {
				d.closers = append(d.closers, client.Close)
				d.guardChecker = healthcheck.NewPingChecker("redis", guard.Ping, healthcheck.NonCritical())
				d.Logger.Info("webhook delivery guard: redis")
				return guard
			}
			_ = client.Close()
			err = guardErr
		}
		d.Logger.WithError(err).Warn("redis is unavailable, falling back to in-memory webhook guard")
	}

	guard := memory.NewDeliveryGuard(cfg.WebhookDedupTTL)
	d.sweepers = append(d.sweepers, retention.WithTarget("webhook-guard", guard))
	return guard
}
