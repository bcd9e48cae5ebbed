package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/app"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const (
	envLogFormat = "CHECKOUT_LOG_FORMAT"
	envLogLevel  = "CHECKOUT_LOG_LEVEL"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
// Нераспознанный уровень не останавливает запуск: остаётся info и предупреждение в логе.
func setupLogger(format, level string) error {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.SetLevel(log.InfoLevel)
	if strings.TrimSpace(level) == "" {
		return nil
	}
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return err
	}
	log.SetLevel(parsed)
	return nil
}

func main() {
	if err := setupLogger(os.Getenv(envLogFormat), os.Getenv(envLogLevel)); err != nil {
		log.WithError(err).Warn("unknown log level, using info")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, commit, built := version.Info()
	log.WithFields(log.Fields{
		"version":          v,
		"commit":           commit,
		"build_date":       built,
		"http_addr":        cfg.HTTPAddr,
		"grpc_addr":        cfg.GRPCAddr,
		"metrics_addr":     cfg.MetricsAddr,
		"storage_driver":   cfg.StorageDriver,
		"payment_provider": cfg.PaymentProvider,
	}).Info("запускаем checkout-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.WithField("build", version.String()).Info("checkout-service остановлен")
}
