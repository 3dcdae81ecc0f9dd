package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

type stubService struct {
	submitDraft model.BookingDraft
	submitSess  *session.Session
	submitRes   *service.SubmitResult
	submitErr   error

	checkoutRes *service.SubmitResult
	checkoutErr error

	redirectURL string
	message     []byte
	accepted    bool

	authorizeErr error
	abandonErr   error

	status    *service.ReconciliationStatus
	statusErr error

	listEmail string
	list      []model.Booking
	listErr   error

	booking    *model.Booking
	bookingErr error
}

func (s *stubService) Submit(ctx context.Context, sess *session.Session, draft model.BookingDraft) (*service.SubmitResult, error) {
	s.submitSess = sess
	s.submitDraft = draft
	return s.submitRes, s.submitErr
}

func (s *stubService) Checkout(ctx context.Context, sess *session.Session, bookingID string) (*service.SubmitResult, error) {
	return s.checkoutRes, s.checkoutErr
}

func (s *stubService) Authorize(ctx context.Context, sess *session.Session, bookingID string) error {
	return s.authorizeErr
}

func (s *stubService) Redirect(ctx context.Context, sess *session.Session, bookingID, rawURL string) (bool, error) {
	s.redirectURL = rawURL
	return s.accepted, s.authorizeErr
}

func (s *stubService) Message(ctx context.Context, sess *session.Session, bookingID string, payload []byte) (bool, error) {
	s.message = payload
	return s.accepted, s.authorizeErr
}

func (s *stubService) Abandon(ctx context.Context, sess *session.Session, bookingID string) error {
	if s.authorizeErr != nil {
		return s.authorizeErr
	}
	return s.abandonErr
}

func (s *stubService) Status(ctx context.Context, sess *session.Session, bookingID string) (*service.ReconciliationStatus, error) {
	if s.authorizeErr != nil {
		return nil, s.authorizeErr
	}
	return s.status, s.statusErr
}

func (s *stubService) ListBookings(ctx context.Context, sess *session.Session, email string) ([]model.Booking, error) {
	s.listEmail = email
	return s.list, s.listErr
}

func (s *stubService) GetBooking(ctx context.Context, sess *session.Session, id string) (*model.Booking, error) {
	return s.booking, s.bookingErr
}

// ownedBackend отдаёт бронирование только под токеном владельца.
type ownedBackend struct {
	ownerToken string
}

func (b ownedBackend) CreateBooking(ctx context.Context, payload *model.BookingPayload) (*model.Booking, error) {
	return nil, errors.New("not used")
}

func (b ownedBackend) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	if s, ok := session.FromContext(ctx); !ok || s.Token != b.ownerToken {
		return nil, backend.ErrBookingNotFound
	}
	return &model.Booking{ID: id, Status: model.BookingStatusWaitingPayment}, nil
}

func (b ownedBackend) ListBookings(ctx context.Context, email string) ([]model.Booking, error) {
	return nil, nil
}

func (b ownedBackend) CreateCheckout(ctx context.Context, bookingID string) (*model.CheckoutSession, error) {
	return nil, errors.New("not used")
}

func (b ownedBackend) GetBookingStatus(ctx context.Context, id string) (model.BookingStatus, error) {
	return model.BookingStatusWaitingPayment, nil
}

type outcomeSink struct {
	mu       sync.Mutex
	outcomes []model.Outcome
}

func (s *outcomeSink) Publish(ctx context.Context, o model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *outcomeSink) all() []model.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Outcome(nil), s.outcomes...)
}

func newTestHandler(t *testing.T, svc Service, hub Hub) http.Handler {
	t.Helper()
	return NewHandler(svc, hub, zap.NewNop(), middleware.NewAuthMiddleware(nil)).SetupRouter()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	return doAs(t, h, "test-token", method, target, body)
}

func doAs(t *testing.T, h http.Handler, token, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestCreateBooking(t *testing.T) {
	const body = `{
		"renterName": "An Nguyen",
		"phoneNumber": "0901234567",
		"email": "an@example.com",
		"vehicle": "V1",
		"pickupStation": "S1",
		"pickupTime": "2025-06-01T11:00:00Z",
		"rentalDays": 2,
		"surchargeAmount": "0",
		"paymentMethod": "cash",
		"agreedToPaymentTerms": true,
		"agreedToDataSharing": true
	}`

	tests := []struct {
		name       string
		body       string
		res        *service.SubmitResult
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "created",
			body:       body,
			res:        &service.SubmitResult{Kind: service.ResultCompleted, Booking: &model.Booking{ID: "B1"}},
			wantStatus: http.StatusCreated,
			wantBody:   `"kind":"completed"`,
		},
		{
			name:       "validation failure",
			body:       body,
			err:        &validation.Error{Field: validation.FieldConsents, Code: validation.CodeConsentRequired, Message: "x"},
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `"code":"consent_required"`,
		},
		{
			name:       "create failure is generic",
			body:       body,
			err:        service.ErrBookingFailed,
			wantStatus: http.StatusBadGateway,
			wantBody:   "Tạo đơn thất bại",
		},
		{
			name:       "catalog unavailable",
			body:       body,
			err:        service.ErrCatalogUnavailable,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "bad json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad pickup time",
			body:       `{"pickupTime":"tomorrow"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{submitRes: tt.res, submitErr: tt.err}
			w := do(t, newTestHandler(t, svc, nil), http.MethodPost, "/api/bookings", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestCreateBooking_DraftMapping(t *testing.T) {
	svc := &stubService{submitRes: &service.SubmitResult{Kind: service.ResultCompleted}}
	h := newTestHandler(t, svc, nil)

	w := do(t, h, http.MethodPost, "/api/bookings", `{"renterName":" An ","rentalDays":2.5,"surchargeAmount":null,"pickupTime":"2025-06-01T18:00:00+07:00","paymentMethod":"bank_transfer"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, " An ", svc.submitDraft.RenterName)
	assert.Equal(t, "2.5", svc.submitDraft.RentalDays)
	assert.Equal(t, "", svc.submitDraft.Surcharge)
	assert.True(t, svc.submitDraft.PickupTime.Equal(time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)))
	assert.Equal(t, model.PaymentMethodBankTransfer, svc.submitDraft.PaymentMethod)
	require.NotNil(t, svc.submitSess)
	assert.Equal(t, "test-token", svc.submitSess.Token)
}

func TestRequiresBearer(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/bookings?email=a@b.c", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListBookings(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, nil)

	w := do(t, h, http.MethodGet, "/api/bookings?email=an@example.com", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "an@example.com", svc.listEmail)

	w = do(t, h, http.MethodGet, "/api/bookings", "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "opaque token carries no email")

	svc.list = []model.Booking{{ID: "B1", Status: "confirmed"}}
	w = do(t, h, http.MethodGet, "/api/bookings?email=an@example.com", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "B1", got[0]["_id"])
	assert.Equal(t, "Chờ thanh toán", got[0]["statusLabel"])
	assert.Equal(t, true, got[0]["payable"])

	svc.listErr = errors.New("dial tcp: connection refused")
	w = do(t, h, http.MethodGet, "/api/bookings?email=an@example.com", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestGetBooking(t *testing.T) {
	svc := &stubService{bookingErr: backend.ErrBookingNotFound}
	h := newTestHandler(t, svc, nil)

	w := do(t, h, http.MethodGet, "/api/bookings/B404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	svc.bookingErr = nil
	svc.booking = &model.Booking{ID: "B1", Status: model.BookingStatusPaid}
	w = do(t, h, http.MethodGet, "/api/bookings/B1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"payable":false`)
}

func TestCheckout(t *testing.T) {
	tests := []struct {
		name       string
		res        *service.SubmitResult
		err        error
		wantStatus int
	}{
		{name: "started", res: &service.SubmitResult{Kind: service.ResultAwaitingPayment}, wantStatus: http.StatusOK},
		{name: "not payable", err: service.ErrNotPayable, wantStatus: http.StatusConflict},
		{name: "checkout unavailable", res: &service.SubmitResult{Kind: service.ResultCheckoutUnavailable}, err: service.ErrCheckoutUnavailable, wantStatus: http.StatusServiceUnavailable},
		{name: "not found", err: backend.ErrBookingNotFound, wantStatus: http.StatusNotFound},
		{name: "backend rejects token", err: backend.ErrUnauthorized, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{checkoutRes: tt.res, checkoutErr: tt.err}
			w := do(t, newTestHandler(t, svc, nil), http.MethodPost, "/api/bookings/B1/checkout", "")
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestSignals(t *testing.T) {
	svc := &stubService{accepted: true}
	h := newTestHandler(t, svc, nil)

	w := do(t, h, http.MethodPost, "/api/bookings/B1/redirect", `{"url":"https://merchant.example/return?status=PAID"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted":true}`, w.Body.String())
	assert.Equal(t, "https://merchant.example/return?status=PAID", svc.redirectURL)

	w = do(t, h, http.MethodPost, "/api/bookings/B1/redirect", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/bookings/B1/message", `{"type":"PAYMENT_SUCCESS"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"type":"PAYMENT_SUCCESS"}`, string(svc.message))

	w = do(t, h, http.MethodPost, "/api/bookings/B1/message", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignals_ForeignTokenIsRejected(t *testing.T) {
	const success = `{"url":"https://merchant.example/return?status=PAID"}`

	b := ownedBackend{ownerToken: "victim-token"}
	sink := &outcomeSink{}
	rec := reconcile.New(b, sink, reconcile.Config{PollInterval: time.Hour, Timeout: time.Hour}, nil)
	defer rec.Close()

	h := newTestHandler(t, service.NewService(b, nil, nil, rec, nil, nil), notify.NewHub(nil))

	ctx := session.WithSession(context.Background(), session.FromToken("victim-token"))
	_, err := rec.Start(ctx, &model.CheckoutSession{BookingID: "VICTIM", OrderCode: "OC1"})
	require.NoError(t, err)

	w := doAs(t, h, "attacker-opaque-token", http.MethodPost, "/api/bookings/VICTIM/redirect", success)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doAs(t, h, "attacker-opaque-token", http.MethodPost, "/api/bookings/VICTIM/message", `{"type":"PAYMENT_SUCCESS"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doAs(t, h, "attacker-opaque-token", http.MethodGet, "/api/bookings/VICTIM/reconciliation", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doAs(t, h, "attacker-opaque-token", http.MethodDelete, "/api/bookings/VICTIM/reconciliation", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	srv := httptest.NewServer(h)
	defer srv.Close()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/bookings/VICTIM?access_token=attacker-opaque-token"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	require.NotNil(t, rec.Get("VICTIM"), "attempt keeps running")
	assert.Empty(t, sink.all())

	w = doAs(t, h, "victim-token", http.MethodPost, "/api/bookings/VICTIM/redirect", success)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted":true}`, w.Body.String())

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, model.OutcomeConfirmed, sink.all()[0].Kind)
	assert.Equal(t, "VICTIM", sink.all()[0].BookingID)
}

func TestSignals_Forbidden(t *testing.T) {
	svc := &stubService{authorizeErr: service.ErrForbidden}
	h := newTestHandler(t, svc, nil)

	w := do(t, h, http.MethodPost, "/api/bookings/B1/redirect", `{"url":"https://merchant.example/return?status=PAID"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, h, http.MethodDelete, "/api/bookings/B1/reconciliation", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestNewHandler_NilLogger(t *testing.T) {
	h := NewHandler(&stubService{}, nil, nil, middleware.NewAuthMiddleware(nil)).SetupRouter()

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	require.NotPanics(t, func() { h.ServeHTTP(w, r) })
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReconciliation(t *testing.T) {
	svc := &stubService{statusErr: repository.ErrOutcomeNotFound}
	h := newTestHandler(t, svc, nil)

	w := do(t, h, http.MethodGet, "/api/bookings/B1/reconciliation", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	svc.statusErr = nil
	svc.status = &service.ReconciliationStatus{BookingID: "B1", Active: true, Attempt: &reconcile.View{AttemptID: "A1", State: reconcile.StatePolling}}
	w = do(t, h, http.MethodGet, "/api/bookings/B1/reconciliation", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"POLLING"`)

	w = do(t, h, http.MethodDelete, "/api/bookings/B1/reconciliation", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	svc.abandonErr = reconcile.ErrNoAttempt
	w = do(t, h, http.MethodDelete, "/api/bookings/B1/reconciliation", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvents_SendsKnownOutcomeOnConnect(t *testing.T) {
	outcome := model.Outcome{AttemptID: "A1", BookingID: "B1", Kind: model.OutcomeFailed, Source: model.SourceRedirect}
	svc := &stubService{status: &service.ReconciliationStatus{BookingID: "B1", Outcome: &outcome}}
	hub := notify.NewHub(nil)

	srv := httptest.NewServer(newTestHandler(t, svc, hub))
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/bookings/B1?access_token=test-token"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var ev notify.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, notify.EventTypeOutcome, ev.Type)
	assert.Equal(t, outcome.AttemptID, ev.Outcome.AttemptID)
	assert.Equal(t, model.OutcomeFailed, ev.Outcome.Kind)

	require.Eventually(t, func() bool { return hub.Subscribers("B1") == 1 }, time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)
	do(t, h, http.MethodGet, "/healthz", "")

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "evbooking_http_requests_total")
}
