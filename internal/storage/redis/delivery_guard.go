package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyNamespace = "checkout"

// cmdable: команды Redis, которые нужны guard'у.
type cmdable interface {
	Ping(ctx context.Context) *goredis.StatusCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Exists(ctx context.Context, keys ...string) *goredis.IntCmd
}

// Open создаёт клиента по redis:// URL и проверяет соединение.
func Open(ctx context.Context, rawURL string) (*goredis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// DeliveryGuard хранит пометки обработанных уведомлений в Redis с TTL.
type DeliveryGuard struct {
	store cmdable
	ttl   time.Duration
	scope string
}

// NewDeliveryGuard создаёт guard. ttl == 0: пометки без срока.
func NewDeliveryGuard(store cmdable, ttl time.Duration, scope string) (*DeliveryGuard, error) {
	if store == nil {
		return nil, errors.New("redis store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &DeliveryGuard{store: store, ttl: ttl, scope: scope}, nil
}

// Processed проверяет пометку через EXISTS.
func (g *DeliveryGuard) Processed(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("delivery key is required")
	}
	n, err := g.store.Exists(ctx, g.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check delivery key: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed ставит пометку с TTL; повторный SET продлевает срок.
func (g *DeliveryGuard) MarkProcessed(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("delivery key is required")
	}
	if err := g.store.Set(ctx, g.key(key), "1", g.ttl).Err(); err != nil {
		return fmt.Errorf("set delivery key: %w", err)
	}
	return nil
}

// Ping используется проверкой готовности.
func (g *DeliveryGuard) Ping(ctx context.Context) error {
	return g.store.Ping(ctx).Err()
}

func (g *DeliveryGuard) key(id string) string {
	return strings.Join([]string{keyNamespace, "webhook", g.scope, id}, ":")
}
