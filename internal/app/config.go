package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/vladislavdragonenkov/checkout/internal/gateway/fake"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/mercadopago"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/stripe"
	"github.com/vladislavdragonenkov/checkout/internal/service/confirmation"
)

// EnvPrefix: префикс переменных окружения сервиса.
const EnvPrefix = "CHECKOUT"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
// Все поля скалярные: конфигурацию можно сравнивать через ==.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR"`
	GRPCAddr    string `envconfig:"GRPC_ADDR"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	StorageDriver       string `envconfig:"STORAGE_DRIVER"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE"`
	// Параметры пула; 0 оставляет значения store по умолчанию.
	PostgresMaxOpenConns    int           `envconfig:"POSTGRES_MAX_OPEN_CONNS"`
	PostgresMaxIdleConns    int           `envconfig:"POSTGRES_MAX_IDLE_CONNS"`
	PostgresConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME"`

	// RedisURL включает Redis-дедупликацию вебхуков; пусто: guard в памяти процесса.
	RedisURL string `envconfig:"REDIS_URL"`
	// KafkaBrokers: список брокеров через запятую; пусто: outbox только логируется.
	KafkaBrokers  string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic    string `envconfig:"KAFKA_TOPIC"`
	KafkaDLQTopic string `envconfig:"KAFKA_DLQ_TOPIC"`

	PaymentProvider          string `envconfig:"PAYMENT_PROVIDER"`
	MercadoPagoAccessToken   string `envconfig:"MERCADOPAGO_ACCESS_TOKEN"`
	MercadoPagoWebhookSecret string `envconfig:"MERCADOPAGO_WEBHOOK_SECRET"`
	MercadoPagoSandbox       bool   `envconfig:"MERCADOPAGO_SANDBOX"`
	StripeSecretKey          string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret      string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	// FakeGatewayURL: базовый адрес страницы оплаты для провайдера fake.
	FakeGatewayURL string `envconfig:"FAKE_GATEWAY_URL"`

	PublicBaseURL   string `envconfig:"PUBLIC_BASE_URL"`
	NotificationURL string `envconfig:"NOTIFICATION_URL"`
	// DefaultCurrency: ISO 4217 код для запросов без currency.
	DefaultCurrency string `envconfig:"DEFAULT_CURRENCY"`

	UnresolvedPolicy string        `envconfig:"UNRESOLVED_POLICY"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT"`
	GatewayTimeout   time.Duration `envconfig:"GATEWAY_TIMEOUT"`
	ConfirmTimeout   time.Duration `envconfig:"CONFIRM_TIMEOUT"`
	DecrementTimeout time.Duration `envconfig:"DECREMENT_TIMEOUT"`
	// WebhookTimeout ограничивает обработку одного уведомления и должен быть меньше RequestTimeout.
	WebhookTimeout  time.Duration `envconfig:"WEBHOOK_TIMEOUT"`
	WebhookDedupTTL time.Duration `envconfig:"WEBHOOK_DEDUP_TTL"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY"`
	OutboxMaxDelay     time.Duration `envconfig:"OUTBOX_MAX_RETRY_DELAY"`
	// OutboxMaxPending: порог backlog, выше которого health-check outbox переходит в degraded.
	OutboxMaxPending int `envconfig:"OUTBOX_MAX_PENDING"`

	IdempotencyCleanupInterval  time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL"`
	IdempotencyCleanupBatchSize int           `envconfig:"IDEMPOTENCY_CLEANUP_BATCH_SIZE"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaTopic:    "checkout.order.events",
		KafkaDLQTopic: "checkout.dlq",

		PaymentProvider: fake.Provider,
		FakeGatewayURL:  "http://localhost:8080/fake-pay",
		PublicBaseURL:   "http://localhost:3000",
		DefaultCurrency: "ARS",

		UnresolvedPolicy: string(confirmation.PolicyContinue),
		RequestTimeout:   30 * time.Second,
		GatewayTimeout:   10 * time.Second,
		ConfirmTimeout:   10 * time.Second,
		DecrementTimeout: 10 * time.Second,
		WebhookTimeout:   20 * time.Second,
		WebhookDedupTTL:  24 * time.Hour,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   time.Second,
		OutboxMaxDelay:     30 * time.Second,
		OutboxMaxPending:   1000,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfig читает .env (если есть) и переменные CHECKOUT_*, поверх значений по умолчанию.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) normalized() Config {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.PaymentProvider = strings.ToLower(strings.TrimSpace(c.PaymentProvider))
	c.UnresolvedPolicy = strings.ToLower(strings.TrimSpace(c.UnresolvedPolicy))
	c.PostgresDSN = strings.TrimSpace(c.PostgresDSN)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.KafkaBrokers = strings.TrimSpace(c.KafkaBrokers)
	c.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.DefaultCurrency))
	return c
}

// Validate отклоняет несовместимые комбинации настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.PaymentProvider {
	case fake.Provider:
	case mercadopago.Provider:
		if c.MercadoPagoAccessToken == "" {
			errs = append(errs, errors.New("mercadopago access token is required"))
		}
	case stripe.Provider:
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("stripe secret key and webhook secret are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported payment provider %q", c.PaymentProvider))
	}

	if _, err := confirmation.ParseUnresolvedPolicy(c.UnresolvedPolicy); err != nil {
		errs = append(errs, err)
	}
	if len(c.DefaultCurrency) != 3 {
		errs = append(errs, fmt.Errorf("default currency %q must be a 3-letter code", c.DefaultCurrency))
	}
	if c.WebhookTimeout <= 0 || (c.RequestTimeout > 0 && c.WebhookTimeout >= c.RequestTimeout) {
		errs = append(errs, fmt.Errorf("webhook timeout %s must be positive and below request timeout %s", c.WebhookTimeout, c.RequestTimeout))
	}
	if c.PublicBaseURL == "" {
		errs = append(errs, errors.New("public base url is required"))
	}
	if c.HTTPAddr == "" || c.MetricsAddr == "" || c.GRPCAddr == "" {
		errs = append(errs, errors.New("http, metrics and grpc addresses are required"))
	}

	return errors.Join(errs...)
}

func (c Config) kafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
