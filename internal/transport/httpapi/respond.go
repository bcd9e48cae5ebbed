package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Коды ошибок в теле ответа.
const (
	codeValidation   = "VALIDATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codeConflict     = "CONFLICT"
	codeIdempotency  = "IDEMPOTENCY_CONFLICT"
	codeUnresolved   = "UNRESOLVED_LINE_ITEM"
	codeUpstream     = "UPSTREAM_GATEWAY_ERROR"
	codeUnauthorized = "INVALID_NOTIFICATION"
	codeUnavailable  = "SERVICE_UNAVAILABLE"
	codeInternal     = "INTERNAL_ERROR"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	OrderID string `json:"orderId,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// requestError: ошибка разбора запроса с подробностями по полям.
type requestError struct {
	message string
	details any
	err     error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *requestError) Unwrap() error {
	return e.err
}

// errorResponse сопоставляет ошибку слоя сервисов с HTTP-статусом. Все сопоставления живут здесь.
func errorResponse(err error) (int, apiError) {
	var reqErr *requestError
	var upstream *domain.UpstreamGatewayError

	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, apiError{Code: codeValidation, Message: reqErr.message, Details: reqErr.details}
	case domain.IsValidation(err):
		return http.StatusBadRequest, apiError{Code: codeValidation, Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidNotification):
		return http.StatusUnauthorized, apiError{Code: codeUnauthorized, Message: "invalid payment notification"}
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, apiError{Code: codeNotFound, Message: "order not found"}
	case errors.Is(err, domain.ErrOrderAlreadyExists):
		return http.StatusConflict, apiError{Code: codeConflict, Message: "order already exists"}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusConflict, apiError{Code: codeIdempotency, Message: "idempotency key is already used with different request payload"}
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return http.StatusConflict, apiError{Code: codeIdempotency, Message: "request with the same idempotency key is already processing"}
	case errors.Is(err, domain.ErrUnresolvedLineItem):
		return http.StatusUnprocessableEntity, apiError{Code: codeUnresolved, Message: "order has line items without inventory match"}
	case errors.As(err, &upstream):
		return http.StatusBadGateway, apiError{Code: codeUpstream, Message: "payment gateway is unavailable", OrderID: upstream.OrderID}
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, apiError{Code: codeUnavailable, Message: "payment gateway is unavailable"}
	default:
		return http.StatusInternalServerError, apiError{Code: codeInternal, Message: "internal error"}
	}
}

func writeError(w http.ResponseWriter, logger *log.Entry, err error) {
	status, body := errorResponse(err)
	logFailure(logger, err, status)
	writeJSON(w, status, errorEnvelope{Error: body})
}

func logFailure(logger *log.Entry, err error, status int) {
	if logger == nil {
		return
	}
	entry := logger.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
		return
	}
	entry.Debug("request rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}
