package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/evbooking/internal/model"
)

// UnknownOrderCode подставляется, если шлюз не вернул код заказа.
// Код заказа информационный и для сопоставления не используется.
const UnknownOrderCode = "UNKNOWN"

type checkoutRequest struct {
	BookingID string `json:"bookingId"`
}

type checkoutResponse struct {
	OrderCode    json.RawMessage `json:"orderCode"`
	CheckoutData struct {
		PaymentLinkID string          `json:"paymentLinkId"`
		OrderCode     json.RawMessage `json:"orderCode"`
	} `json:"checkoutData"`
}

// CreateCheckout запрашивает у бэкенда сессию оплаты PayOS для бронирования.
func (c *Client) CreateCheckout(ctx context.Context, bookingID string) (*model.CheckoutSession, error) {
	const path = "/payos/checkout"

	resp, err := c.do(ctx, http.MethodPost, path, nil, checkoutRequest{BookingID: bookingID})
	if err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}
	if err := c.expectOK(http.MethodPost, path, resp); err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}

	var out checkoutResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("create checkout: %w: %v", ErrMalformedResponse, err)
	}

	linkID := strings.TrimSpace(out.CheckoutData.PaymentLinkID)
	if linkID == "" {
		return nil, fmt.Errorf("create checkout: %w: missing paymentLinkId", ErrMalformedResponse)
	}

	orderCode := RawString(out.OrderCode)
	if orderCode == "" {
		orderCode = RawString(out.CheckoutData.OrderCode)
	}
	if orderCode == "" {
		orderCode = UnknownOrderCode
	}

	session := &model.CheckoutSession{
		BookingID:     bookingID,
		OrderCode:     orderCode,
		PaymentLinkID: linkID,
		CheckoutURL:   c.checkoutBaseURL + "/" + url.PathEscape(linkID),
		CreatedAt:     time.Now(),
	}

	c.logger.Info("checkout session created",
		zap.String("bookingID", bookingID),
		zap.String("orderCode", orderCode),
		zap.String("checkoutURL", session.CheckoutURL),
	)

	return session, nil
}

// RawString приводит строковое или числовое JSON-значение к строке.
func RawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}
