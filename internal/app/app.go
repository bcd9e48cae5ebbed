package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/service/retention"
	"github.com/vladislavdragonenkov/checkout/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает публичный HTTP API, ops HTTP (метрики и health), ops gRPC и фоновые воркеры.
// Блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}

	storage, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storage.close(logger)

	deps, err := NewDependencies(ctx, cfg, storage, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}
	defer closeKafka(kafkaProducer, logger)

	healthHandler := newHealthHandler(cfg, storage, deps)

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	opsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = apiLis.Close()
		return err
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		_ = opsLis.Close()
		return err
	}

	apiSrv := &http.Server{
		Handler: httpapi.NewRouter(httpapi.Deps{
			Checkout:       deps.Checkout,
			Confirmer:      deps.Reconciler,
			Webhooks:       deps.Webhooks,
			Decoder:        deps.Decoder,
			Diagnostics:    deps.Diagnostics,
			Idempotency:    storage.idempotencyRepo,
			Logger:         logger.WithField("layer", "http"),
			RequestTimeout: cfg.RequestTimeout,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	opsSrv := newOpsServer(healthHandler)
	grpcServer, healthServer := newGRPCServer(logger)

	publisher, dlqPublisher := outboxPublishers(cfg, kafkaProducer, logger)
	outboxWorker := outbox.NewWorker(storage.outboxRepo, publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(dlqPublisher),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		outbox.WithMaxRetryDelay(cfg.OutboxMaxDelay),
	)
	cleanupWorker := retention.NewCleanupWorker(append(deps.sweepers,
		retention.WithLogger(logger.WithField("component", "retention-worker")),
		retention.WithInterval(cfg.IdempotencyCleanupInterval),
		retention.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		return serveHTTP(apiSrv, apiLis)
	})
	g.Go(func() error {
		logger.Infof("метрики и health checks на %s (/metrics, /healthz, /readyz, /livez)", opsLis.Addr())
		return serveHTTP(opsSrv, opsLis)
	})
	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		return grpcServer.Serve(grpcLis)
	})
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cleanupWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(apiSrv, logger)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(opsSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func newHealthHandler(cfg Config, storage runtimeDependencies, deps *Dependencies) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	if storage.storageChecker != nil {
		handler.RegisterChecker("storage", storage.storageChecker)
	}
	if deps.guardChecker != nil {
		handler.RegisterChecker("webhook_guard", deps.guardChecker)
	}
	if cfg.OutboxMaxPending > 0 {
		handler.RegisterChecker("outbox", healthcheck.NewBacklogChecker("outbox", cfg.OutboxMaxPending,
			func(ctx context.Context) (int, error) {
				stats, err := storage.outboxRepo.Stats(ctx)
				return stats.PendingCount, err
			}))
	}
	return handler
}

// newOpsServer: HTTP-обработчики /metrics для Prometheus и health-проб.
func newOpsServer(healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// newGRPCServer: ops gRPC: стандартный health-сервис и reflection с Prometheus-интерсепторами.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// reflection для grpcurl
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
