// Package handler содержит HTTP API сервиса бронирования для мобильного клиента.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mmeshcher/evbooking/internal/backend"
	"github.com/mmeshcher/evbooking/internal/middleware"
	"github.com/mmeshcher/evbooking/internal/model"
	"github.com/mmeshcher/evbooking/internal/notify"
	"github.com/mmeshcher/evbooking/internal/reconcile"
	"github.com/mmeshcher/evbooking/internal/repository"
	"github.com/mmeshcher/evbooking/internal/service"
	"github.com/mmeshcher/evbooking/internal/session"
	"github.com/mmeshcher/evbooking/internal/validation"
)

const maxMessageBody = 64 << 10

// Service определяет сценарии, которые вызывают HTTP-обработчики.
type Service interface {
	Submit(ctx context.Context, sess *session.Session, draft model.BookingDraft) (*service.SubmitResult, error)
	Checkout(ctx context.Context, sess *session.Session, bookingID string) (*service.SubmitResult, error)
	Authorize(ctx context.Context, sess *session.Session, bookingID string) error
	Redirect(ctx context.Context, sess *session.Session, bookingID, rawURL string) (bool, error)
	Message(ctx context.Context, sess *session.Session, bookingID string, payload []byte) (bool, error)
	Abandon(ctx context.Context, sess *session.Session, bookingID string) error
	Status(ctx context.Context, sess *session.Session, bookingID string) (*service.ReconciliationStatus, error)
	ListBookings(ctx context.Context, sess *session.Session, email string) ([]model.Booking, error)
	GetBooking(ctx context.Context, sess *session.Session, id string) (*model.Booking, error)
}

// Hub раздаёт события сверки открытым WebSocket-соединениям.
type Hub interface {
	Subscribe(bookingID string, conn *websocket.Conn) *notify.Subscriber
	Serve(ctx context.Context, bookingID string, s *notify.Subscriber)
}

// Handler реализует HTTP-обработчики API бронирования.
type Handler struct {
	service        Service
	hub            Hub
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	upgrader       websocket.Upgrader
}

// NewHandler создаёт обработчик. hub может быть nil, тогда WebSocket недоступен.
func NewHandler(s Service, hub Hub, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:        s,
		hub:            hub,
		logger:         logger,
		authMiddleware: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Клиент: мобильное приложение, заголовок Origin у него произвольный.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// flexString принимает в JSON и строку, и число: форма отдаёт поля ввода строками,
// а другие клиенты присылают числа.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type bookingRequest struct {
	RenterName           string              `json:"renterName"`
	PhoneNumber          string              `json:"phoneNumber"`
	Email                string              `json:"email"`
	Vehicle              string              `json:"vehicle"`
	Brand                string              `json:"brand"`
	PickupStation        string              `json:"pickupStation"`
	PickupTime           string              `json:"pickupTime"`
	RentalDays           flexString          `json:"rentalDays"`
	SurchargeAmount      flexString          `json:"surchargeAmount"`
	PaymentMethod        model.PaymentMethod `json:"paymentMethod"`
	AgreedToPaymentTerms bool                `json:"agreedToPaymentTerms"`
	AgreedToDataSharing  bool                `json:"agreedToDataSharing"`
	Notes                string              `json:"notes"`
}

func (req bookingRequest) draft() (model.BookingDraft, error) {
	var pickup time.Time
	if s := strings.TrimSpace(req.PickupTime); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return model.BookingDraft{}, err
		}
		pickup = t
	}

	return model.BookingDraft{
		RenterName:           req.RenterName,
		Phone:                req.PhoneNumber,
		Email:                req.Email,
		VehicleID:            req.Vehicle,
		BrandID:              req.Brand,
		StationID:            req.PickupStation,
		PickupTime:           pickup,
		RentalDays:           string(req.RentalDays),
		Surcharge:            string(req.SurchargeAmount),
		PaymentMethod:        req.PaymentMethod,
		AgreedToPaymentTerms: req.AgreedToPaymentTerms,
		AgreedToDataSharing:  req.AgreedToDataSharing,
		Notes:                req.Notes,
	}, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CreateBooking принимает черновик бронирования.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	draft, err := req.draft()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.Submit(r.Context(), sess, draft)
	if err != nil {
		var ve *validation.Error
		switch {
		case errors.As(err, &ve):
			writeJSON(w, http.StatusUnprocessableEntity, ve)
		case errors.Is(err, service.ErrCatalogUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Không thể tải dữ liệu xe và trạm", Message: "Vui lòng thử lại sau."})
		case errors.Is(err, service.ErrBookingFailed):
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Tạo đơn thất bại", Message: "Vui lòng thử lại sau."})
		default:
			h.logger.Error("submit booking error", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Có lỗi xảy ra", Message: "Vui lòng thử lại sau."})
		}
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// ListBookings возвращает бронирования пользователя. Без параметра email берётся
// email из токена.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		email = sess.Email
	}
	if email == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	bookings, err := h.service.ListBookings(r.Context(), sess, email)
	if err != nil {
		h.backendError(w, "list bookings error", err)
		return
	}
	if len(bookings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, toBookingViews(bookings))
}

type bookingView struct {
	model.Booking
	StatusLabel string `json:"statusLabel"`
	Payable     bool   `json:"payable"`
}

func toBookingViews(bookings []model.Booking) []bookingView {
	out := make([]bookingView, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, bookingView{Booking: b, StatusLabel: b.Status.Label(), Payable: b.Status.Payable()})
	}
	return out
}

// GetBooking возвращает одно бронирование.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	b, err := h.service.GetBooking(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		h.backendError(w, "get booking error", err)
		return
	}

	writeJSON(w, http.StatusOK, toBookingViews([]model.Booking{*b})[0])
}

// Checkout запускает оплату для существующего бронирования.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	res, err := h.service.Checkout(r.Context(), sess, chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, service.ErrNotPayable):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrCheckoutUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, res)
	default:
		h.backendError(w, "checkout error", err)
	}
}

type redirectRequest struct {
	URL string `json:"url"`
}

type signalResponse struct {
	Accepted bool `json:"accepted"`
}

// Redirect принимает адрес, на который перешла встроенная страница оплаты.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req redirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	accepted, err := h.service.Redirect(r.Context(), sess, chi.URLParam(r, "id"), req.URL)
	if err != nil {
		h.backendError(w, "redirect signal error", err)
		return
	}
	writeJSON(w, http.StatusOK, signalResponse{Accepted: accepted})
}

// Message принимает сырое сообщение встроенной страницы оплаты.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBody))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	accepted, err := h.service.Message(r.Context(), sess, chi.URLParam(r, "id"), body)
	if err != nil {
		h.backendError(w, "message signal error", err)
		return
	}
	writeJSON(w, http.StatusOK, signalResponse{Accepted: accepted})
}

// Reconciliation возвращает состояние сверки по бронированию.
func (h *Handler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	st, err := h.service.Status(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrOutcomeNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.backendError(w, "reconciliation status error", err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// AbandonReconciliation останавливает сверку при уходе с экрана оплаты.
func (h *Handler) AbandonReconciliation(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.Abandon(r.Context(), sess, chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, reconcile.ErrNoAttempt) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.backendError(w, "abandon reconciliation error", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Events открывает WebSocket с событиями сверки бронирования. Если итог уже известен,
// он отправляется сразу после подключения.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	bookingID := chi.URLParam(r, "id")
	if err := h.service.Authorize(r.Context(), sess, bookingID); err != nil {
		h.backendError(w, "events authorize error", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	// Подписка раньше чтения итога: событие, пришедшее между ними, не теряется,
	// а повтор отсекает подписчик.
	sub := h.hub.Subscribe(bookingID, conn)
	if st, err := h.service.Status(r.Context(), sess, bookingID); err == nil {
		if o := knownOutcome(st); o != nil {
			if err := sub.SendOutcome(*o); err != nil {
				h.logger.Debug("websocket send failed", zap.Error(err))
			}
		}
	}

	h.hub.Serve(r.Context(), bookingID, sub)
}

func knownOutcome(st *service.ReconciliationStatus) *model.Outcome {
	if st.Outcome != nil {
		return st.Outcome
	}
	if st.Attempt != nil {
		return st.Attempt.Outcome
	}
	return nil
}

// Health отвечает на проверку живости.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) backendError(w http.ResponseWriter, msg string, err error) {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrBookingNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, backend.ErrUnauthorized):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, service.ErrForbidden), errors.As(err, &se) && se.Code == http.StatusForbidden:
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
