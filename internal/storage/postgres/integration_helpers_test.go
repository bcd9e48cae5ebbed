package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// integrationTables перечислены в порядке, совместимом с внешними ключами.
var integrationTables = []string{
	"idempotency_keys",
	"outbox_messages",
	"timeline_events",
	"order_items",
	"orders",
	"inventory_variants",
}

// integrationDSN возвращает DSN тестовой базы; без CHECKOUT_POSTGRES_TEST_DSN тест пропускается.
func integrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("CHECKOUT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("CHECKOUT_POSTGRES_TEST_DSN is not set, skipping postgres integration test")
	}
	return dsn
}

// newIntegrationStore открывает базу без миграций.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	store, err := Open(ctx, integrationDSN(t))
	if err != nil {
		t.Skipf("postgres is not reachable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newMigratedStore открывает базу, применяет все миграции и очищает данные.
func newMigratedStore(t *testing.T) *Store {
	t.Helper()

	store := newIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	resetIntegrationTables(t, store)
	return store
}

func resetIntegrationTables(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stmt := "TRUNCATE TABLE " + strings.Join(integrationTables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := store.DB().ExecContext(ctx, stmt); err != nil {
		t.Fatalf("reset integration tables: %v", err)
	}
}
