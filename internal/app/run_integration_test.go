package app

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
)

// ephemeralConfig слушает случайные порты и не использует внешние сервисы.
func ephemeralConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	return cfg
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := Run(ctx, ephemeralConfig())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(started), 10*time.Second, "shutdown must not hang")
}

func TestRun_StartupFailures(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "unknown storage", mutate: func(c *Config) { c.StorageDriver = "invalid-driver" }, wantErr: "unsupported storage driver"},
		{name: "http port taken", mutate: func(c *Config) { c.HTTPAddr = busy.Addr().String() }},
		{name: "metrics port taken", mutate: func(c *Config) { c.MetricsAddr = busy.Addr().String() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := ephemeralConfig()
			tc.mutate(&cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			err := Run(ctx, cfg)
			require.Error(t, err)
			require.NotErrorIs(t, err, context.DeadlineExceeded, "startup error must surface before the deadline")
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}

func TestInitRuntimeDependencies_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("CHECKOUT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("CHECKOUT_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	logger := log.WithField("test", "postgres-init")

	storage, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Skipf("postgres is not reachable: %v", err)
	}
	t.Cleanup(func() { storage.close(logger) })

	require.NotNil(t, storage.repo)
	require.NotNil(t, storage.inventoryRepo)
	require.NotNil(t, storage.outboxRepo)
	require.NotNil(t, storage.timelineRepo)
	require.NotNil(t, storage.idempotencyRepo)
	require.NotNil(t, storage.storageChecker)
	require.Equal(t, healthcheck.StatusHealthy, storage.storageChecker.Check().Status)
}
