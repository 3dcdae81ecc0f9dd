// Package reconcile реализует сверку статуса оплаты бронирования после открытия
// страницы оплаты: опрос бэкенда, сигналы перехода браузера и абсолютный таймаут.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/evbooking/internal/backend"
	"github.com/mmeshcher/evbooking/internal/metrics"
	"github.com/mmeshcher/evbooking/internal/model"
	"github.com/mmeshcher/evbooking/internal/session"
)

// Значения по умолчанию для интервала опроса и таймаута попытки.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultTimeout      = 5 * time.Minute
)

const publishTimeout = 5 * time.Second

// ErrNoAttempt возвращается, если для бронирования нет активной попытки.
var ErrNoAttempt = errors.New("no active reconciliation attempt")

// StatusFetcher читает текущий статус бронирования с бэкенда.
type StatusFetcher interface {
	GetBookingStatus(ctx context.Context, bookingID string) (model.BookingStatus, error)
}

// Sink получает ровно одно терминальное событие на попытку.
type Sink interface {
	Publish(ctx context.Context, outcome model.Outcome) error
}

// Config задаёт тайминги сверки.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Reconciler управляет попытками сверки: не больше одной на бронирование.
type Reconciler struct {
	fetcher StatusFetcher
	sink    Sink
	logger  *zap.Logger
	cfg     Config

	mu       sync.Mutex
	attempts map[string]*Attempt
	closed   bool
}

// New создаёт Reconciler.
func New(fetcher StatusFetcher, sink Sink, cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		fetcher:  fetcher,
		sink:     sink,
		logger:   logger,
		cfg:      cfg,
		attempts: make(map[string]*Attempt),
	}
}

// Start запускает попытку сверки для созданной сессии оплаты. Уже идущая попытка по
// тому же бронированию отменяется без события и заменяется новой.
// Значения контекста (сессия пользователя) сохраняются, а отмена запроса не наследуется.
func (r *Reconciler) Start(ctx context.Context, checkout *model.CheckoutSession) (*Attempt, error) {
	if checkout == nil || checkout.BookingID == "" {
		return nil, errors.New("checkout session without booking id")
	}

	var owner string
	if sess, ok := session.FromContext(ctx); ok {
		owner = sess.UserID
	}

	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	a := &Attempt{
		ID:          uuid.NewString(),
		BookingID:   checkout.BookingID,
		OrderCode:   checkout.OrderCode,
		CheckoutURL: checkout.CheckoutURL,
		Owner:       owner,
		signals:     make(chan Signal, 4),
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       StateIdle,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, errors.New("reconciler closed")
	}
	prev := r.attempts[a.BookingID]
	r.attempts[a.BookingID] = a
	r.mu.Unlock()

	if prev != nil {
		r.logger.Info("replacing reconciliation attempt",
			zap.String("bookingID", a.BookingID),
			zap.String("previousAttemptID", prev.ID),
			zap.String("attemptID", a.ID),
		)
		prev.abandon()
	}

	metrics.ReconciliationsActive.Inc()
	go r.run(attemptCtx, a, prev)

	return a, nil
}

// Deliver передаёт внешний сигнал активной попытке. Возвращает false, если попытки нет,
// она уже завершена или сигнал не несёт результата.
func (r *Reconciler) Deliver(bookingID string, sig Signal) bool {
	if sig.Kind == SignalNone {
		return false
	}

	a := r.Get(bookingID)
	if a == nil || a.terminal() {
		return false
	}

	select {
	case a.signals <- sig:
		return true
	default:
		// Буфер полон: попытка уже получила более ранние сигналы, первый из них и победит.
		return false
	}
}

// Abandon отменяет попытку (уход с экрана) и дожидается остановки её таймеров.
// Терминальное событие при этом не отправляется.
func (r *Reconciler) Abandon(bookingID string) error {
	r.mu.Lock()
	a := r.attempts[bookingID]
	if a != nil {
		delete(r.attempts, bookingID)
	}
	r.mu.Unlock()

	if a == nil {
		return ErrNoAttempt
	}

	a.abandon()
	<-a.done
	return nil
}

// Get возвращает активную попытку по бронированию или nil.
func (r *Reconciler) Get(bookingID string) *Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[bookingID]
}

// Active возвращает число активных попыток.
func (r *Reconciler) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

// Close отменяет все попытки и дожидается их остановки.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	pending := make([]*Attempt, 0, len(r.attempts))
	for id, a := range r.attempts {
		pending = append(pending, a)
		delete(r.attempts, id)
	}
	r.mu.Unlock()

	for _, a := range pending {
		a.abandon()
	}
	for _, a := range pending {
		<-a.done
	}
}

func (r *Reconciler) run(ctx context.Context, a *Attempt, prev *Attempt) {
	defer close(a.done)
	defer metrics.ReconciliationsActive.Dec()
	defer r.release(a)

	// Две попытки по одному бронированию не работают одновременно.
	if prev != nil {
		<-prev.done
	}

	started := time.Now()
	deadline := started.Add(r.cfg.Timeout)
	a.begin(started, deadline)

	ticker := time.NewTicker(r.cfg.PollInterval)
	timeout := time.NewTimer(r.cfg.Timeout)
	stop := func() {
		ticker.Stop()
		timeout.Stop()
	}
	defer stop()

	log := r.logger.With(zap.String("bookingID", a.BookingID), zap.String("attemptID", a.ID))
	log.Info("reconciliation started", zap.Duration("pollInterval", r.cfg.PollInterval), zap.Duration("timeout", r.cfg.Timeout))

	for {
		select {
		case <-ctx.Done():
			log.Info("reconciliation abandoned")
			return

		case <-timeout.C:
			stop()
			r.resolve(a, model.OutcomeTimedOut, "", model.SourceTimeout, started, log)
			return

		case sig := <-a.signals:
			kind := model.OutcomeConfirmed
			if sig.Kind == SignalFailed {
				kind = model.OutcomeFailed
			}
			source := sig.Source
			if source == "" {
				source = model.SourceRedirect
			}
			stop()
			r.resolve(a, kind, sig.OrderCode, source, started, log)
			return

		case <-ticker.C:
			a.setState(StatePolling)

			fetchCtx, cancel := context.WithDeadline(ctx, deadline)
			status, err := r.fetcher.GetBookingStatus(fetchCtx, a.BookingID)
			cancel()

			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				metrics.PollErrors.Inc()
				log.Warn("booking status fetch failed, retrying on next tick", zap.Error(err), zap.Bool("notFound", backend.IsNotFound(err)))
				continue
			}

			switch {
			case status.IsPaid():
				stop()
				r.resolve(a, model.OutcomeConfirmed, "", model.SourcePoll, started, log)
				return
			case status.IsCancelled():
				stop()
				r.resolve(a, model.OutcomeFailed, "", model.SourcePoll, started, log)
				return
			}
			log.Debug("booking not settled yet", zap.String("status", string(status)))
		}
	}
}

func (r *Reconciler) resolve(a *Attempt, kind model.OutcomeKind, orderCode, source string, started time.Time, log *zap.Logger) {
	if kind == model.OutcomeConfirmed {
		orderCode = pickOrderCode(orderCode, a.OrderCode)
	} else {
		orderCode = ""
	}

	outcome := model.Outcome{
		AttemptID:  a.ID,
		BookingID:  a.BookingID,
		Kind:       kind,
		OrderCode:  orderCode,
		Source:     source,
		ResolvedAt: time.Now(),
	}

	if !a.finish(outcome) {
		return
	}

	metrics.ReconciliationOutcomes.WithLabelValues(string(kind), source).Inc()
	metrics.ReconciliationDuration.Observe(outcome.ResolvedAt.Sub(started).Seconds())
	log.Info("reconciliation finished", zap.String("outcome", string(kind)), zap.String("source", source), zap.String("orderCode", orderCode))

	if r.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.sink.Publish(ctx, outcome); err != nil {
		log.Warn("publish reconciliation outcome failed", zap.Error(err))
	}
}

func (r *Reconciler) release(a *Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempts[a.BookingID] == a {
		delete(r.attempts, a.BookingID)
	}
}

func pickOrderCode(fromSignal, fromSession string) string {
	for _, c := range []string{fromSignal, fromSession} {
		if c != "" && c != backend.UnknownOrderCode {
			return c
		}
	}
	return ""
}
