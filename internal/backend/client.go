// Package backend предоставляет клиент REST API бэкенда бронирования и платёжного шлюза.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/mmeshcher/evbooking/internal/session"
)

// DefaultCheckoutBaseURL: префикс ссылки на хостируемую страницу оплаты PayOS.
const DefaultCheckoutBaseURL = "https://pay.payos.vn/web"

const maxResponseBody = 1 << 20

var (
	// ErrBookingNotFound возвращается, если бэкенд не знает бронирование.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrMalformedResponse возвращается, если успешный ответ не содержит обязательных полей.
	ErrMalformedResponse = errors.New("malformed backend response")
	// ErrUnauthorized возвращается при ответе 401.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError описывает неожиданный HTTP-статус ответа бэкенда.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
}

type response struct {
	status int
	body   []byte
}

// Client инкапсулирует HTTP-взаимодействие с бэкендом.
type Client struct {
	baseURL         string
	checkoutBaseURL string
	httpClient      *http.Client
	breaker         *gobreaker.CircuitBreaker[*response]
	logger          *zap.Logger
}

// NewClient создаёт клиент бэкенда по указанному адресу.
func NewClient(baseURL, checkoutBaseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if checkoutBaseURL == "" {
		checkoutBaseURL = DefaultCheckoutBaseURL
	}

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	c := &Client{
		baseURL:         base,
		checkoutBaseURL: strings.TrimRight(checkoutBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:    "backend",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("backend circuit breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (*response, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("backend client not configured")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	return c.breaker.Execute(func() (*response, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if s, ok := session.FromContext(ctx); ok && s.Authenticated() {
			req.Header.Set("Authorization", s.Authorization())
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode}
		}

		return &response{status: resp.StatusCode, body: raw}, nil
	})
}

func (c *Client) expectOK(method, path string, resp *response) error {
	switch {
	case resp.status >= 200 && resp.status < 300:
		return nil
	case resp.status == http.StatusUnauthorized:
		return ErrUnauthorized
	}
	c.logger.Warn("backend rejected request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.status),
		zap.ByteString("body", truncate(resp.body, 512)),
	)
	return &StatusError{Method: method, Path: path, Code: resp.status}
}

// decodeEnvelope разбирает ответ вида {"data": ...} либо голый объект.
func decodeEnvelope(body []byte, out any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		data := bytes.TrimSpace(env.Data)
		if len(data) > 0 && !bytes.Equal(data, []byte("null")) {
			return json.Unmarshal(data, out)
		}
	}
	return json.Unmarshal(body, out)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
