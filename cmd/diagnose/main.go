// Command diagnose печатает отчёт о сопоставлении позиций заказа со складом.
// Только чтение: заказ и остатки не меняются.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

const (
	defaultTimeout = 15 * time.Second
	envPostgresDSN = "CHECKOUT_POSTGRES_DSN"
)

type diagnoser interface {
	Diagnose(ctx context.Context, orderID string) (inventory.Report, error)
}

func main() {
	_ = godotenv.Load()

	var dsn, orderID string
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	flag.StringVar(&orderID, "order", "", "order id to diagnose")
	flag.Parse()

	if strings.TrimSpace(dsn) == "" {
		dsn = os.Getenv(envPostgresDSN)
	}
	if strings.TrimSpace(dsn) == "" {
		fail("%s (or -dsn) is required", envPostgresDSN)
	}
	if strings.TrimSpace(orderID) == "" && flag.NArg() > 0 {
		orderID = flag.Arg(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, strings.TrimSpace(dsn))
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	replayer := inventory.NewReplayer(
		postgres.NewOrderRepository(store),
		inventory.NewResolver(postgres.NewInventoryRepository(store)),
	)
	if err := run(ctx, replayer, orderID, os.Stdout); err != nil {
		fail("diagnose failed: %v", err)
	}
}

func run(ctx context.Context, d diagnoser, orderID string, out io.Writer) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}

	report, err := d.Diagnose(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
