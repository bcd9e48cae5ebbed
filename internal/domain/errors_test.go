package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "items required", err: ErrItemsRequired, want: true},
		{name: "wrapped qty", err: fmt.Errorf("item 0: %w", ErrItemQtyInvalid), want: true},
		{name: "joined", err: errors.Join(ErrCurrencyRequired, ErrTotalNegative), want: true},
		{name: "not found", err: ErrOrderNotFound, want: false},
		{name: "gateway", err: ErrGatewayUnavailable, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.want {
				t.Errorf("IsValidation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("get payment: %w", ErrGatewayUnavailable)) {
		t.Fatal("expected wrapped gateway unavailable to be retryable")
	}
	if IsRetryable(ErrGatewayRejected) {
		t.Fatal("gateway rejection must not be retryable")
	}
	if IsRetryable(ErrUnresolvedLineItem) {
		t.Fatal("unresolved item must not be retryable")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrOrderNotFound, "order not found"},
		{ErrVariantNotFound, "inventory variant not found"},
		{ErrUnresolvedLineItem, "line item could not be resolved to an inventory variant"},
		{ErrGatewayUnavailable, "payment gateway unavailable"},
		{ErrIdempotencyKeyAlreadyExists, "idempotency key already exists"},
	}

	for _, tt := range tests {
		if tt.err.Error() != tt.want {
			t.Errorf("expected %q, got %q", tt.want, tt.err.Error())
		}
	}
}

func TestUpstreamGatewayError(t *testing.T) {
	err := fmt.Errorf("start checkout: %w", &UpstreamGatewayError{OrderID: "o-1", Err: ErrGatewayUnavailable})

	var upstream *UpstreamGatewayError
	if !errors.As(err, &upstream) {
		t.Fatal("expected UpstreamGatewayError in chain")
	}
	if upstream.OrderID != "o-1" {
		t.Errorf("unexpected order id %q", upstream.OrderID)
	}
	if !IsRetryable(err) {
		t.Error("unavailable gateway behind upstream error must stay retryable")
	}
}
