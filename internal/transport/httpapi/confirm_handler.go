package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/confirmation"
)

type confirmRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

type confirmResponse struct {
	Success bool                       `json:"success"`
	Status  confirmation.Status        `json:"status"`
	OrderID string                     `json:"orderId"`
	Items   []confirmation.ItemOutcome `json:"items,omitempty"`
}

type alreadyPaidResponse struct {
	Message confirmation.Status `json:"message"`
	OrderID string              `json:"orderId"`
}

// POST /api/payments/confirm: обратный вызов браузера после возврата со страницы оплаты.
// Сам факт редиректа считается сигналом оплаты, поэтому ссылка на платёж не передаётся.
func (h *handlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	var req confirmRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, logger, err)
		return
	}
	orderID := strings.TrimSpace(req.OrderID)
	logger = logger.WithField("order_id", orderID)

	outcome, err := h.deps.Confirmer.Confirm(r.Context(), confirmation.Request{
		OrderID: orderID,
		Trigger: confirmation.TriggerClientCallback,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnresolvedLineItem) {
			status, body := errorResponse(err)
			body.OrderID = outcome.OrderID
			body.Details = outcome.Items
			logFailure(logger, err, status)
			writeJSON(w, status, errorEnvelope{Error: body})
			return
		}
		writeError(w, logger, err)
		return
	}

	if outcome.Status == confirmation.StatusAlreadyPaid {
		writeJSON(w, http.StatusOK, alreadyPaidResponse{Message: outcome.Status, OrderID: outcome.OrderID})
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{
		Success: true,
		Status:  outcome.Status,
		OrderID: outcome.OrderID,
		Items:   outcome.Items,
	})
}
