package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func TestIdempotencyRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, " checkout-1 ", "hash-1", ttl)
	require.NoError(t, err)
	require.Equal(t, "checkout-1", created.Key)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	require.False(t, created.Replayable())

	body := []byte(`{"orderId":"o-1"}`)
	require.NoError(t, repo.MarkDone(ctx, "checkout-1", body, 201))
	body[0] = 'X'

	got, err := repo.Get(ctx, "checkout-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 201, got.HTTPStatus)
	require.Equal(t, `{"orderId":"o-1"}`, string(got.ResponseBody), "stored body must not alias the caller's slice")
	require.True(t, got.TTLAt.Equal(ttl))
	require.True(t, got.Replayable())

	require.NoError(t, repo.MarkFailed(ctx, "checkout-1", []byte(`{"error":{}}`), 409))
	got, err = repo.Get(ctx, "checkout-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, got.Status)
}

func TestIdempotencyRepository_CreateConflicts(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "checkout-2", "hash-a", ttl)
	require.NoError(t, err)

	cases := []struct {
		name    string
		key     string
		hash    string
		wantErr error
	}{
		{name: "same request", key: "checkout-2", hash: "hash-a", wantErr: domain.ErrIdempotencyKeyAlreadyExists},
		{name: "different request", key: "checkout-2", hash: "hash-b", wantErr: domain.ErrIdempotencyHashMismatch},
		{name: "blank key", key: "  ", hash: "hash-a", wantErr: domain.ErrIdempotencyKeyRequired},
		{name: "blank hash", key: "checkout-3", hash: "", wantErr: domain.ErrIdempotencyRequestHashRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repo.CreateProcessing(ctx, tc.key, tc.hash, ttl)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}

	require.ErrorIs(t, repo.MarkDone(ctx, "unknown", nil, 200), domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "unknown")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ExpiredKeys(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for _, key := range []string{"old-1", "old-2", "old-3"} {
		_, err := repo.CreateProcessing(ctx, key, "hash", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "live", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	// истёкший ключ можно занять другим запросом до прохода очистки
	_, err = repo.CreateProcessing(ctx, "old-3", "other-hash", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 1)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	removed, err = repo.DeleteExpired(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	for _, key := range []string{"old-1", "old-2"} {
		_, err := repo.Get(ctx, key)
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	}
	for _, key := range []string{"old-3", "live"} {
		_, err := repo.Get(ctx, key)
		require.NoError(t, err)
	}
}
