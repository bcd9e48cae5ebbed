package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	signatureHeader = "X-Signature"
	requestIDHeader = "X-Request-Id"
)

type notificationBody struct {
	ID     flexibleID `json:"id"`
	Type   string     `json:"type"`
	Topic  string     `json:"topic"`
	Action string     `json:"action"`
	Data   struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

// DecodeNotification разбирает уведомление MercadoPago в любой из форм:
// JSON-тело {type, action, data.id}, query ?type=payment&data.id=..., либо устаревшее ?topic=payment&id=....
// При заданном секрете проверяет подпись x-signature.
func (c *Client) DecodeNotification(header map[string][]string, query map[string][]string, body []byte) (domain.PaymentNotification, error) {
	q := url.Values(query)
	n := domain.PaymentNotification{Provider: Provider}

	if len(strings.TrimSpace(string(body))) > 0 {
		var payload notificationBody
		if err := json.Unmarshal(body, &payload); err != nil {
			return domain.PaymentNotification{}, fmt.Errorf("%w: decode body: %v", domain.ErrInvalidNotification, err)
		}
		n.Topic = firstNonEmpty(payload.Type, payload.Topic)
		n.Action = payload.Action
		n.ResourceID = string(payload.Data.ID)
		n.EventID = string(payload.ID)
	}

	if n.Topic == "" {
		n.Topic = firstNonEmpty(q.Get("type"), q.Get("topic"))
	}
	if n.ResourceID == "" {
		n.ResourceID = firstNonEmpty(q.Get("data.id"), q.Get("id"))
	}
	n.ResourceID = strings.TrimSpace(n.ResourceID)

	if n.Topic == "" {
		return domain.PaymentNotification{}, fmt.Errorf("%w: notification type is missing", domain.ErrInvalidNotification)
	}

	if c.webhookSecret != "" {
		dataID := firstNonEmpty(q.Get("data.id"), n.ResourceID)
		if err := verifySignature(c.webhookSecret, http.Header(header), dataID); err != nil {
			return domain.PaymentNotification{}, err
		}
	}
	return n, nil
}

// verifySignature проверяет HMAC-SHA256 от шаблона "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func verifySignature(secret string, header http.Header, dataID string) error {
	raw := header.Get(signatureHeader)
	if raw == "" {
		return fmt.Errorf("%w: missing signature", domain.ErrInvalidNotification)
	}

	var ts, v1 string
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			v1 = value
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("%w: malformed signature", domain.ErrInvalidNotification)
	}

	expected, err := hex.DecodeString(v1)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", domain.ErrInvalidNotification)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signatureManifest(dataID, header.Get(requestIDHeader), ts)))
	if !hmac.Equal(mac.Sum(nil), expected) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrInvalidNotification)
	}
	return nil
}

// Отсутствующие части шаблона опускаются целиком.
func signatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ domain.NotificationDecoder = (*Client)(nil)
