package reconcile

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/mmeshcher/evbooking/internal/backend"
)

// SignalKind описывает вывод, сделанный по внешнему сигналу.
type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalConfirmed
	SignalFailed
)

func (k SignalKind) String() string {
	switch k {
	case SignalConfirmed:
		return "confirmed"
	case SignalFailed:
		return "failed"
	}
	return "none"
}

// Signal: внешний сигнал о результате оплаты.
type Signal struct {
	Kind      SignalKind
	OrderCode string
	Source    string
}

// Маркеры успеха проверяются раньше маркеров отмены: адрес возврата PayOS после
// оплаты содержит и status=PAID, и cancel=false.
var (
	successMarkers = []string{"success", "paid", "PAID"}
	cancelMarkers  = []string{"cancel", "cancelled", "CANCELLED"}
)

// ParseRedirect распознаёт результат оплаты по адресу, на который перешёл браузер.
func ParseRedirect(rawURL string) Signal {
	if rawURL == "" {
		return Signal{}
	}

	var kind SignalKind
	switch {
	case containsAny(rawURL, successMarkers):
		kind = SignalConfirmed
	case containsAny(rawURL, cancelMarkers):
		kind = SignalFailed
	default:
		return Signal{}
	}

	return Signal{Kind: kind, OrderCode: orderCodeFromURL(rawURL), Source: "redirect"}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func orderCodeFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Query().Get("orderCode"))
}

type paymentMessage struct {
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Code      json.RawMessage `json:"code"`
	Cancel    *bool           `json:"cancel"`
	OrderCode json.RawMessage `json:"orderCode"`
	ID        json.RawMessage `json:"id"`
	URL       string          `json:"url"`
	Data      *paymentMessage `json:"data"`
}

// NormalizeMessage распознаёт результат оплаты по сообщению встроенной страницы оплаты
// или по телу webhook-уведомления PayOS ({code, desc, data: {...}, signature}).
func NormalizeMessage(payload []byte) Signal {
	var msg paymentMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Signal{}
	}

	kind := msg.kind()
	if kind == SignalNone && msg.Data != nil {
		kind = msg.Data.kind()
	}
	if kind == SignalNone {
		return Signal{}
	}

	return Signal{Kind: kind, OrderCode: msg.orderCode(), Source: "message"}
}

func (m *paymentMessage) kind() SignalKind {
	switch strings.ToUpper(strings.TrimSpace(m.Status)) {
	case "PAID":
		return SignalConfirmed
	case "CANCELLED":
		return SignalFailed
	}

	switch m.Type {
	case "PAYMENT_SUCCESS":
		return SignalConfirmed
	case "PAYMENT_CANCELLED":
		return SignalFailed
	}

	if m.Cancel != nil && *m.Cancel {
		return SignalFailed
	}
	if backend.RawString(m.Code) == "00" {
		return SignalConfirmed
	}

	return SignalNone
}

func (m *paymentMessage) orderCode() string {
	if c := backend.RawString(m.OrderCode); c != "" {
		return c
	}
	if m.Data != nil {
		if c := backend.RawString(m.Data.OrderCode); c != "" {
			return c
		}
	}
	if m.URL != "" {
		if c := orderCodeFromURL(m.URL); c != "" {
			return c
		}
	}
	return backend.RawString(m.ID)
}
