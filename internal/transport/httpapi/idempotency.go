package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotent-Replayed"
)

// withIdempotency выполняет run не более одного раза на Idempotency-Key.
// Повтор с тем же телом получает сохранённый ответ (включая ошибочный), с другим телом: 409.
// Без заголовка или без хранилища запрос выполняется как обычно.
func (h *handlers) withIdempotency(w http.ResponseWriter, r *http.Request, scope string, req any, run func() (int, any, error)) {
	logger := loggerFrom(r.Context(), h.logger)
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	repo := h.deps.Idempotency

	if repo == nil || key == "" {
		status, body := execute(run, logger)
		writeRaw(w, status, body)
		return
	}
	logger = logger.WithField("idempotency_key", key)

	reqHash, err := buildRequestHash(scope, req)
	if err != nil {
		writeError(w, logger, fmt.Errorf("build idempotency request hash: %w", err))
		return
	}

	record, err := repo.CreateProcessing(r.Context(), key, reqHash, time.Now().UTC().Add(domain.IdempotencyTTL))
	if err != nil {
		replayIdempotency(w, logger, record, err)
		return
	}

	status, body := execute(run, logger)

	// ответ уже получен: сохраняем его даже если клиент отключился
	storeCtx := context.WithoutCancel(r.Context())
	if status < http.StatusBadRequest {
		err = repo.MarkDone(storeCtx, key, body, status)
	} else {
		err = repo.MarkFailed(storeCtx, key, body, status)
	}
	if err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}

	writeRaw(w, status, body)
}

func execute(run func() (int, any, error), logger *log.Entry) (int, []byte) {
	status, payload, err := run()
	if err != nil {
		code, apiErr := errorResponse(err)
		logFailure(logger, err, code)
		body, _ := json.Marshal(errorEnvelope{Error: apiErr})
		return code, body
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).Error("failed to encode response")
		body, _ = json.Marshal(errorEnvelope{Error: apiError{Code: codeInternal, Message: "internal error"}})
		return http.StatusInternalServerError, body
	}
	return status, body
}

func replayIdempotency(w http.ResponseWriter, logger *log.Entry, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeError(w, logger, createErr)
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Replayable() {
			writeError(w, logger, createErr)
			return
		}
		logger.WithFields(log.Fields{
			"status":         record.HTTPStatus,
			"cached_outcome": record.Status,
		}).Debug("replaying idempotent response")
		w.Header().Set(idempotencyReplayHeader, "true")
		writeRaw(w, record.HTTPStatus, record.ResponseBody)
	default:
		writeError(w, logger, fmt.Errorf("create idempotency record: %w", createErr))
	}
}

// buildRequestHash: sha256 от "scope:" + канонический JSON тела запроса.
func buildRequestHash(scope string, req any) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(scope)+1+len(data))
	payload = append(payload, scope...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
