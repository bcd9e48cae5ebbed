package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// IdempotencyRepository хранит ответы checkout по Idempotency-Key в памяти процесса.
type IdempotencyRepository struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]*domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт пустое хранилище ключей.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		now:     func() time.Time { return time.Now().UTC() },
		records: make(map[string]*domain.IdempotencyRecord),
	}
}

// CreateProcessing резервирует ключ. Истёкший, но ещё не вычищенный ключ занимается заново.
func (r *IdempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(domain.IdempotencyTTL)
	}

	if held := r.records[key]; held != nil && held.TTLAt.After(now) {
		if held.RequestHash != requestHash {
			return snapshot(held), domain.ErrIdempotencyHashMismatch
		}
		return snapshot(held), domain.ErrIdempotencyKeyAlreadyExists
	}

	r.records[key] = &domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return snapshot(r.records[key]), nil
}

// Get возвращает копию записи.
func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.records[key]
	if held == nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return snapshot(held), nil
}

// MarkDone сохраняет успешный ответ.
func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

// MarkFailed сохраняет ответ с ошибкой.
func (r *IdempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет ключи с TTLAt <= before; limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before.IsZero() {
		before = r.now()
	}

	var removed int
	for key, held := range r.records {
		if limit > 0 && removed == limit {
			break
		}
		if !held.TTLAt.After(before) {
			delete(r.records, key)
			removed++
		}
	}
	return removed, nil
}

func (r *IdempotencyRepository) finish(key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.records[key]
	if held == nil {
		return domain.ErrIdempotencyKeyNotFound
	}
	held.Status = status
	held.ResponseBody = append([]byte(nil), body...)
	held.HTTPStatus = httpStatus
	held.UpdatedAt = r.now()
	return nil
}

func snapshot(rec *domain.IdempotencyRecord) domain.IdempotencyRecord {
	out := *rec
	out.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return out
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
