package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestDecodeNotificationShapes(t *testing.T) {
	client, err := NewClient("TEST-token")
	require.NoError(t, err)

	tests := []struct {
		name      string
		query     map[string][]string
		body      string
		topic     string
		resource  string
		isPayment bool
	}{
		{
			name:      "json body",
			body:      `{"id":12345,"type":"payment","action":"payment.updated","data":{"id":"987"}}`,
			topic:     "payment",
			resource:  "987",
			isPayment: true,
		},
		{
			name:      "query params",
			query:     map[string][]string{"type": {"payment"}, "data.id": {"987"}},
			topic:     "payment",
			resource:  "987",
			isPayment: true,
		},
		{
			name:      "legacy ipn",
			query:     map[string][]string{"topic": {"payment"}, "id": {"987"}},
			topic:     "payment",
			resource:  "987",
			isPayment: true,
		},
		{
			name:     "merchant order",
			query:    map[string][]string{"topic": {"merchant_order"}, "id": {"55"}},
			topic:    "merchant_order",
			resource: "55",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := client.DecodeNotification(nil, tt.query, []byte(tt.body))
			require.NoError(t, err)
			require.Equal(t, Provider, n.Provider)
			require.Equal(t, tt.topic, n.Topic)
			require.Equal(t, tt.resource, n.ResourceID)
			require.Equal(t, tt.isPayment, n.IsPayment())
		})
	}
}

func TestDecodeNotificationRejectsGarbage(t *testing.T) {
	client, err := NewClient("TEST-token")
	require.NoError(t, err)

	_, err = client.DecodeNotification(nil, nil, []byte(`{not json`))
	require.ErrorIs(t, err, domain.ErrInvalidNotification)

	_, err = client.DecodeNotification(nil, nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidNotification)
}

func sign(secret, manifest string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestDecodeNotificationSignature(t *testing.T) {
	client, err := NewClient("TEST-token", WithWebhookSecret("s3cret"))
	require.NoError(t, err)

	query := map[string][]string{"type": {"payment"}, "data.id": {"987"}}
	body := []byte(`{"type":"payment","data":{"id":"987"}}`)
	signature := sign("s3cret", "id:987;request-id:req-1;ts:1704908010;")

	header := map[string][]string{
		"X-Signature":  {"ts=1704908010,v1=" + signature},
		"X-Request-Id": {"req-1"},
	}
	n, err := client.DecodeNotification(header, query, body)
	require.NoError(t, err)
	require.Equal(t, "987", n.ResourceID)

	header["X-Request-Id"] = []string{"req-2"}
	_, err = client.DecodeNotification(header, query, body)
	require.ErrorIs(t, err, domain.ErrInvalidNotification)

	_, err = client.DecodeNotification(nil, query, body)
	require.ErrorIs(t, err, domain.ErrInvalidNotification)
}
