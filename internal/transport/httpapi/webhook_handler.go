package httpapi

import (
	"io"
	"net/http"

	"github.com/vladislavdragonenkov/checkout/internal/service/confirmation"
)

type webhookAck struct {
	Received bool                       `json:"received"`
	Result   confirmation.WebhookResult `json:"result"`
}

// POST /webhooks/payments
//
// 200: уведомление принято (в том числе дубликат, неоплаченный платёж, неизвестный заказ);
// 401: подпись или формат не прошли проверку; 503: временный сбой, шлюз повторит доставку.
func (h *handlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, logger, &requestError{message: "failed to read notification body", err: err})
		return
	}

	n, err := h.deps.Decoder.DecodeNotification(r.Header, r.URL.Query(), body)
	if err != nil {
		logger.WithError(err).Warn("rejected payment notification")
		writeError(w, logger, err)
		return
	}

	result, err := h.deps.Webhooks.Handle(r.Context(), n)
	if err != nil {
		logFailure(logger.WithField("payment_id", n.ResourceID), err, http.StatusServiceUnavailable)
		writeJSON(w, http.StatusServiceUnavailable, errorEnvelope{Error: apiError{
			Code:    codeUnavailable,
			Message: "notification could not be processed, retry later",
		}})
		return
	}

	writeJSON(w, http.StatusOK, webhookAck{Received: true, Result: result})
}
