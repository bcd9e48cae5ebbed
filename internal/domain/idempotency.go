package domain

import (
	"errors"
	"time"
)

var (
	// ErrIdempotencyKeyRequired: пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound: ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists: ключ уже зарегистрирован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// IdempotencyTTL: срок хранения ответа по ключу идемпотентности.
const IdempotencyTTL = 24 * time.Hour

// IdempotencyStatus: состояние ключа. processing переходит ровно в один из done/failed.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит сохранённый HTTP-ответ на запрос с Idempotency-Key.
// После TTLAt ключ можно занять заново.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Status      IdempotencyStatus

	HTTPStatus   int
	ResponseBody []byte

	TTLAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// Replayable сообщает, можно ли вернуть сохранённый ответ повторному запросу.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status != IdempotencyStatusProcessing && r.HTTPStatus > 0
}
