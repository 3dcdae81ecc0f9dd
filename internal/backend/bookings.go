package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/evbooking/internal/model"
)

// CreateBooking отправляет нормализованный черновик и возвращает созданное бронирование.
func (c *Client) CreateBooking(ctx context.Context, payload *model.BookingPayload) (*model.Booking, error) {
	const path = "/bookings"

	resp, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		c.logger.Warn("create booking request failed", zap.Error(err))
		return nil, fmt.Errorf("create booking: %w", err)
	}
	if err := c.expectOK(http.MethodPost, path, resp); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	var booking model.Booking
	if err := decodeEnvelope(resp.body, &booking); err != nil {
		return nil, fmt.Errorf("create booking: %w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(booking.ID) == "" {
		return nil, fmt.Errorf("create booking: %w: missing _id", ErrMalformedResponse)
	}

	return &booking, nil
}

// GetBooking запрашивает бронирование по идентификатору.
func (c *Client) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	path := "/bookings/" + url.PathEscape(id)

	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if resp.status == http.StatusNotFound {
		return nil, ErrBookingNotFound
	}
	if err := c.expectOK(http.MethodGet, path, resp); err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}

	var booking model.Booking
	if err := decodeEnvelope(resp.body, &booking); err != nil {
		return nil, fmt.Errorf("get booking: %w: %v", ErrMalformedResponse, err)
	}
	if booking.ID == "" {
		return nil, fmt.Errorf("get booking: %w: missing _id", ErrMalformedResponse)
	}

	return &booking, nil
}

// GetBookingStatus возвращает текущий статус бронирования.
func (c *Client) GetBookingStatus(ctx context.Context, id string) (model.BookingStatus, error) {
	b, err := c.GetBooking(ctx, id)
	if err != nil {
		return "", err
	}
	return b.Status, nil
}

// ListBookings возвращает бронирования пользователя по email.
func (c *Client) ListBookings(ctx context.Context, email string) ([]model.Booking, error) {
	const path = "/bookings"

	var query url.Values
	if email != "" {
		query = url.Values{"email": []string{email}}
	}

	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	if err := c.expectOK(http.MethodGet, path, resp); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	var bookings []model.Booking
	if err := decodeEnvelope(resp.body, &bookings); err != nil {
		return nil, fmt.Errorf("list bookings: %w: %v", ErrMalformedResponse, err)
	}

	return bookings, nil
}

// IsNotFound сообщает, что ошибка означает отсутствие бронирования.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound)
}
