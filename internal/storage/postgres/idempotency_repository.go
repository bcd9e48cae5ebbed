package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const idempotencyColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`

const (
	// просроченный ключ перезанимается, живой остаётся нетронутым и RETURNING ничего не возвращает
	reserveIdempotencySQL = `
		INSERT INTO idempotency_keys (` + idempotencyColumns + `)
		VALUES ($1, $2, NULL, NULL, 'processing', $3, $4, $4)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_body = NULL,
		    http_status = NULL,
		    status = EXCLUDED.status,
		    ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= $4
		RETURNING ` + idempotencyColumns

	selectIdempotencySQL = `SELECT ` + idempotencyColumns + ` FROM idempotency_keys WHERE key = $1`

	finishIdempotencySQL = `
		UPDATE idempotency_keys
		SET status = $2, response_body = $3, http_status = $4, updated_at = $5
		WHERE key = $1`

	// LIMIT NULL в PostgreSQL означает отсутствие ограничения
	deleteExpiredIdempotencySQL = `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT NULLIF($2::bigint, 0)
		)`
)

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт хранилище Idempotency-Key в PostgreSQL.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(domain.IdempotencyTTL)
	}

	opCtx, cancel := withOpTimeout(ctx)
	defer cancel()

	reserved, err := scanIdempotency(r.db.QueryRowContext(opCtx, reserveIdempotencySQL, key, requestHash, ttlAt, now))
	if err == nil {
		return reserved, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("reserve idempotency key: %w", err)
	}

	held, err := r.Get(ctx, key)
	switch {
	case err != nil:
		// ключ успели удалить между INSERT и SELECT
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	case held.RequestHash != requestHash:
		return held, domain.ErrIdempotencyHashMismatch
	default:
		return held, domain.ErrIdempotencyKeyAlreadyExists
	}
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rec, err := scanIdempotency(r.db.QueryRowContext(ctx, selectIdempotencySQL, key))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}
	return rec, nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет самые старые просроченные ключи; limit <= 0 снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, deleteExpiredIdempotencySQL, before, max(limit, 0))
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return int(n), nil
}

func (r *idempotencyRepository) finish(ctx context.Context, key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, finishIdempotencySQL, key, string(status), body, httpStatus, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set idempotency key %s to %s: %w", key, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set idempotency key %s to %s: %w", key, status, err)
	}
	if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// scanIdempotency читает строку в порядке idempotencyColumns.
func scanIdempotency(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		rec        domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	err := row.Scan(&rec.Key, &rec.RequestHash, &rec.ResponseBody, &httpStatus, &status, &rec.TTLAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	rec.Status = domain.IdempotencyStatus(status)
	if !rec.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("unknown idempotency status %q for key %s", status, rec.Key)
	}
	rec.HTTPStatus = int(httpStatus.Int64)
	rec.TTLAt = rec.TTLAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
