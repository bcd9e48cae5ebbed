// Command migrate применяет и откатывает встроенные миграции PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "CHECKOUT_POSTGRES_DSN"
)

var (
	errMissingDSN       = errors.New(envPostgresDSN + " (or -dsn) is required")
	errUnknownDirection = errors.New("unsupported direction (use up|down|status|list)")
)

type options struct {
	direction string
	steps     int
	dsn       string
}

func main() {
	_ = godotenv.Load()

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		err = run(ctx, opts, os.Stdout)
		cancel()
	}
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

// parseOptions разбирает флаги; пустой -dsn берётся из окружения.
func parseOptions(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status|list")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	switch opts.direction {
	case "up", "down", "status", "list":
	default:
		return options{}, fmt.Errorf("%w: %q", errUnknownDirection, opts.direction)
	}
	if opts.steps < 0 {
		return options{}, fmt.Errorf("steps must be >= 0, got %d", opts.steps)
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, errMissingDSN
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "list":
		return listMigrations(ctx, store, out)
	}
	return writeStatus(ctx, store, out, opts.direction)
}

func listMigrations(ctx context.Context, store *postgres.Store, out io.Writer) error {
	migrations, err := store.Migrations(ctx)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, m := range migrations {
		state := "pending"
		if m.Applied {
			state = "applied " + m.AppliedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(out, "%04d %-40s %s\n", m.Version, m.Name, state)
	}
	return nil
}

func writeStatus(ctx context.Context, store *postgres.Store, out io.Writer, direction string) error {
	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, _ = fmt.Fprintf(out, "%s: version=%d applied=%d\n", direction, version, count)
	return nil
}
