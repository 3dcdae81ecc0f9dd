// Package service реализует сценарий бронирования: проверка черновика, создание
// бронирования, открытие оплаты и сверку её результата.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/evbooking/internal/metrics"
	"github.com/mmeshcher/evbooking/internal/model"
	"github.com/mmeshcher/evbooking/internal/reconcile"
	"github.com/mmeshcher/evbooking/internal/repository"
	"github.com/mmeshcher/evbooking/internal/session"
	"github.com/mmeshcher/evbooking/internal/validation"
)

var (
	// ErrBookingFailed: бронирование не создано. Подробности только в логе.
	ErrBookingFailed = errors.New("booking was not created")
	// ErrCheckoutUnavailable: ссылка на оплату не получена, бронирование при этом остаётся.
	ErrCheckoutUnavailable = errors.New("checkout session unavailable")
	// ErrNotPayable: статус бронирования не допускает оплату.
	ErrNotPayable = errors.New("booking is not payable")
	// ErrCatalogUnavailable: справочники недоступны, проверить черновик нельзя.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrForbidden: бронирование или его сверка принадлежат другому пользователю.
	ErrForbidden = errors.New("booking belongs to another user")
)

// Backend: вызовы REST-бэкенда, нужные сценарию.
type Backend interface {
	CreateBooking(ctx context.Context, payload *model.BookingPayload) (*model.Booking, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	ListBookings(ctx context.Context, email string) ([]model.Booking, error)
	CreateCheckout(ctx context.Context, bookingID string) (*model.CheckoutSession, error)
}

// Catalog отдаёт справочники для проверки черновика.
type Catalog interface {
	Snapshot(ctx context.Context) (*model.Catalog, error)
	Invalidate(ctx context.Context)
}

// Validator проверяет и нормализует черновик.
type Validator interface {
	Validate(draft model.BookingDraft, catalog *model.Catalog, renterID string) (*model.BookingPayload, error)
}

// Reconciler управляет попытками сверки оплаты.
type Reconciler interface {
	Start(ctx context.Context, checkout *model.CheckoutSession) (*reconcile.Attempt, error)
	Deliver(bookingID string, sig reconcile.Signal) bool
	Abandon(bookingID string) error
	Get(bookingID string) *reconcile.Attempt
}

// Outcomes читает журнал итогов сверки.
type Outcomes interface {
	LastOutcome(ctx context.Context, bookingID string) (*model.Outcome, error)
}

// ResultKind: чем закончилась отправка черновика.
type ResultKind string

const (
	// ResultCompleted: бронирование за наличные создано, оплата не нужна.
	ResultCompleted ResultKind = "completed"
	// ResultAwaitingPayment: открыта страница оплаты, идёт сверка.
	ResultAwaitingPayment ResultKind = "awaiting_payment"
	// ResultCheckoutUnavailable: бронирование создано, оплатить можно позже.
	ResultCheckoutUnavailable ResultKind = "checkout_unavailable"
)

// SubmitResult: результат отправки черновика или повторного запуска оплаты.
type SubmitResult struct {
	Kind     ResultKind             `json:"kind"`
	Booking  *model.Booking         `json:"booking"`
	Checkout *model.CheckoutSession `json:"checkout,omitempty"`
	Attempt  *reconcile.View        `json:"attempt,omitempty"`
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
}

// ReconciliationStatus: текущее состояние сверки по бронированию.
type ReconciliationStatus struct {
	BookingID string          `json:"bookingId"`
	Active    bool            `json:"active"`
	Attempt   *reconcile.View `json:"attempt,omitempty"`
	Outcome   *model.Outcome  `json:"outcome,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Service связывает компоненты сценария бронирования.
type Service struct {
	backend    Backend
	catalog    Catalog
	validator  Validator
	reconciler Reconciler
	outcomes   Outcomes
	logger     *zap.Logger
}

// NewService создаёт сервис. outcomes может быть nil.
func NewService(backend Backend, catalog Catalog, validator Validator, reconciler Reconciler, outcomes Outcomes, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backend:    backend,
		catalog:    catalog,
		validator:  validator,
		reconciler: reconciler,
		outcomes:   outcomes,
		logger:     logger,
	}
}

// Submit проверяет черновик, создаёт бронирование и, для онлайн-оплаты, открывает
// страницу оплаты и запускает сверку. Ошибка проверки возвращается как *validation.Error,
// до бэкенда такой черновик не доходит.
func (s *Service) Submit(ctx context.Context, sess *session.Session, draft model.BookingDraft) (*SubmitResult, error) {
	ctx = session.WithSession(ctx, sess)

	payload, err := s.validate(ctx, sess, draft)
	if err != nil {
		return nil, err
	}

	booking, err := s.backend.CreateBooking(ctx, payload)
	if err != nil {
		metrics.BookingFailures.WithLabelValues("create").Inc()
		s.logger.Error("create booking failed",
			zap.String("vehicle", payload.Vehicle),
			zap.String("station", payload.PickupStation),
			zap.Error(err),
		)
		return nil, ErrBookingFailed
	}
	metrics.BookingsCreated.WithLabelValues(string(payload.PaymentMethod)).Inc()

	log := s.logger.With(zap.String("bookingID", booking.ID))
	log.Info("booking created", zap.String("status", string(booking.Status)), zap.String("paymentMethod", string(payload.PaymentMethod)))

	if !payload.PaymentMethod.Online() {
		return &SubmitResult{
			Kind:    ResultCompleted,
			Booking: booking,
			Title:   "Đơn đặt xe thành công",
			Message: "Vui lòng thanh toán tiền mặt khi nhận xe tại trạm",
		}, nil
	}

	return s.openCheckout(ctx, booking)
}

// Checkout запускает оплату для уже созданного бронирования («оплатить позже»).
// Идущая сверка по этому бронированию заменяется новой.
func (s *Service) Checkout(ctx context.Context, sess *session.Session, bookingID string) (*SubmitResult, error) {
	ctx = session.WithSession(ctx, sess)

	booking, err := s.backend.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", bookingID, err)
	}
	if !booking.Status.Payable() {
		return nil, fmt.Errorf("%w: status %s", ErrNotPayable, booking.Status)
	}

	res, err := s.openCheckout(ctx, booking)
	if err != nil {
		return nil, err
	}
	if res.Kind == ResultCheckoutUnavailable {
		return res, ErrCheckoutUnavailable
	}
	return res, nil
}

func (s *Service) openCheckout(ctx context.Context, booking *model.Booking) (*SubmitResult, error) {
	checkout := s.initiateCheckout(ctx, booking.ID)
	if checkout == nil {
		return &SubmitResult{
			Kind:    ResultCheckoutUnavailable,
			Booking: booking,
			Title:   "Không thể tạo link thanh toán",
			Message: "Đơn đặt xe đã được tạo thành công. Bạn có thể thanh toán sau trong mục Đơn đặt.",
		}, nil
	}

	attempt, err := s.reconciler.Start(ctx, checkout)
	if err != nil {
		return nil, fmt.Errorf("start reconciliation for %s: %w", booking.ID, err)
	}
	view := attempt.Snapshot()

	return &SubmitResult{
		Kind:     ResultAwaitingPayment,
		Booking:  booking,
		Checkout: checkout,
		Attempt:  &view,
		Title:    "Đang chờ thanh toán",
		Message:  "Vui lòng hoàn tất thanh toán trong trình duyệt",
	}, nil
}

// initiateCheckout возвращает nil при любой ошибке: бронирование уже создано и не откатывается.
func (s *Service) initiateCheckout(ctx context.Context, bookingID string) *model.CheckoutSession {
	checkout, err := s.backend.CreateCheckout(ctx, bookingID)
	if err != nil {
		metrics.CheckoutFailures.Inc()
		s.logger.Warn("create checkout session failed", zap.String("bookingID", bookingID), zap.Error(err))
		return nil
	}
	return checkout
}

// validate проверяет черновик по снимку каталога. Если автомобиль или станция не найдены,
// снимок мог устареть: он сбрасывается и проверка повторяется один раз.
func (s *Service) validate(ctx context.Context, sess *session.Session, draft model.BookingDraft) (*model.BookingPayload, error) {
	var renterID string
	if sess != nil {
		renterID = sess.UserID
	}

	for refreshed := false; ; refreshed = true {
		catalog, err := s.catalog.Snapshot(ctx)
		if err != nil {
			s.logger.Warn("catalog snapshot failed", zap.Error(err))
			return nil, ErrCatalogUnavailable
		}

		payload, err := s.validator.Validate(draft, catalog, renterID)
		if err == nil {
			return payload, nil
		}

		var ve *validation.Error
		if !errors.As(err, &ve) {
			return nil, err
		}
		metrics.BookingFailures.WithLabelValues(string(ve.Code)).Inc()

		stale := ve.Code == validation.CodeUnknownVehicle || ve.Code == validation.CodeUnknownStation
		if !stale || refreshed {
			return nil, err
		}
		s.catalog.Invalidate(ctx)
	}
}

// Authorize проверяет, что вызывающий может работать с бронированием. Подпись токена
// здесь не проверяется, поэтому доступ подтверждает бэкенд: чужое бронирование он
// под этим токеном не отдаёт. Идущую сверку может трогать только тот, кто её начал.
func (s *Service) Authorize(ctx context.Context, sess *session.Session, bookingID string) error {
	if !sess.Authenticated() {
		return ErrForbidden
	}

	if a := s.reconciler.Get(bookingID); a != nil && a.Owner != "" && a.Owner != sess.UserID {
		s.logger.Warn("reconciliation access denied",
			zap.String("bookingID", bookingID),
			zap.String("owner", a.Owner),
			zap.String("caller", sess.UserID),
		)
		return ErrForbidden
	}

	booking, err := s.backend.GetBooking(session.WithSession(ctx, sess), bookingID)
	if err != nil {
		return fmt.Errorf("authorize booking %s: %w", bookingID, err)
	}
	if booking != nil && booking.Renter != "" && sess.UserID != "" && booking.Renter != sess.UserID {
		return ErrForbidden
	}
	return nil
}

// Redirect передаёт сверке адрес, на который перешла встроенная страница оплаты.
// Возвращает false, если адрес не несёт результата или активной сверки нет.
func (s *Service) Redirect(ctx context.Context, sess *session.Session, bookingID, rawURL string) (bool, error) {
	sig := reconcile.ParseRedirect(rawURL)
	if sig.Kind == reconcile.SignalNone {
		return false, nil
	}
	if err := s.Authorize(ctx, sess, bookingID); err != nil {
		return false, err
	}
	return s.reconciler.Deliver(bookingID, sig), nil
}

// Message передаёт сверке сообщение встроенной страницы оплаты.
func (s *Service) Message(ctx context.Context, sess *session.Session, bookingID string, payload []byte) (bool, error) {
	sig := reconcile.NormalizeMessage(payload)
	if sig.Kind == reconcile.SignalNone {
		return false, nil
	}
	if err := s.Authorize(ctx, sess, bookingID); err != nil {
		return false, err
	}
	return s.reconciler.Deliver(bookingID, sig), nil
}

// Abandon останавливает сверку, когда пользователь ушёл с экрана оплаты.
func (s *Service) Abandon(ctx context.Context, sess *session.Session, bookingID string) error {
	if err := s.Authorize(ctx, sess, bookingID); err != nil {
		return err
	}
	return s.reconciler.Abandon(bookingID)
}

// Status возвращает идущую попытку сверки или последний записанный итог.
func (s *Service) Status(ctx context.Context, sess *session.Session, bookingID string) (*ReconciliationStatus, error) {
	if err := s.Authorize(ctx, sess, bookingID); err != nil {
		return nil, err
	}

	if a := s.reconciler.Get(bookingID); a != nil {
		view := a.Snapshot()
		return &ReconciliationStatus{BookingID: bookingID, Active: true, Attempt: &view}, nil
	}

	if s.outcomes == nil {
		return nil, repository.ErrOutcomeNotFound
	}
	o, err := s.outcomes.LastOutcome(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return &ReconciliationStatus{BookingID: bookingID, Outcome: o, Message: o.Message()}, nil
}

// ListBookings возвращает бронирования пользователя по email.
func (s *Service) ListBookings(ctx context.Context, sess *session.Session, email string) ([]model.Booking, error) {
	return s.backend.ListBookings(session.WithSession(ctx, sess), email)
}

// GetBooking возвращает бронирование по идентификатору.
func (s *Service) GetBooking(ctx context.Context, sess *session.Session, id string) (*model.Booking, error) {
	return s.backend.GetBooking(session.WithSession(ctx, sess), id)
}
