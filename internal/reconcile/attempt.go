package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/mmeshcher/evbooking/internal/model"
)

// State: состояние попытки сверки.
type State string

// Состояния попытки. Последние четыре терминальные.
const (
	// StateIdle: попытка создана, цикл ещё не запущен.
	StateIdle State = "IDLE"
	// StateAwaiting: ждём перехода браузера, сообщения страницы или тика опроса.
	StateAwaiting State = "AWAITING_REDIRECT_OR_SIGNAL"
	// StatePolling: был хотя бы один опрос бэкенда.
	StatePolling State = "POLLING"
	// StateConfirmed: оплата подтверждена.
	StateConfirmed State = "CONFIRMED"
	// StateFailed: оплата отменена или отклонена.
	StateFailed State = "FAILED"
	// StateTimedOut: истёк общий таймаут попытки.
	StateTimedOut State = "TIMED_OUT"
	// StateAbandoned: пользователь ушёл с экрана, итог не отправляется.
	StateAbandoned State = "ABANDONED"
)

// Terminal сообщает, что после этого состояния сигналы игнорируются.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateTimedOut, StateAbandoned:
		return true
	}
	return false
}

func stateFor(kind model.OutcomeKind) State {
	switch kind {
	case model.OutcomeConfirmed:
		return StateConfirmed
	case model.OutcomeFailed:
		return StateFailed
	}
	return StateTimedOut
}

// Attempt: одна попытка сверки оплаты, живёт только в памяти процесса.
type Attempt struct {
	ID          string
	BookingID   string
	OrderCode   string
	CheckoutURL string
	// Owner: идентификатор пользователя, открывшего оплату. Пусто для непрозрачного токена.
	Owner string

	signals chan Signal
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	state     State
	resolved  bool
	startedAt time.Time
	deadline  time.Time
	outcome   *model.Outcome
}

// View: снимок попытки для отдачи наружу.
type View struct {
	AttemptID   string         `json:"attemptId"`
	BookingID   string         `json:"bookingId"`
	State       State          `json:"state"`
	OrderCode   string         `json:"orderCode,omitempty"`
	CheckoutURL string         `json:"checkoutUrl,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	Deadline    time.Time      `json:"deadline"`
	Outcome     *model.Outcome `json:"outcome,omitempty"`
}

// Snapshot возвращает текущее состояние попытки.
func (a *Attempt) Snapshot() View {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := View{
		AttemptID:   a.ID,
		BookingID:   a.BookingID,
		State:       a.state,
		OrderCode:   a.OrderCode,
		CheckoutURL: a.CheckoutURL,
		StartedAt:   a.startedAt,
		Deadline:    a.deadline,
	}
	if a.outcome != nil {
		o := *a.outcome
		v.Outcome = &o
	}
	return v
}

// Done закрывается, когда попытка остановила таймеры и больше ничего не отправит.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

func (a *Attempt) begin(started, deadline time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startedAt = started
	a.deadline = deadline
	if !a.resolved {
		a.state = StateAwaiting
	}
}

func (a *Attempt) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.resolved {
		a.state = s
	}
}

func (a *Attempt) terminal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Terminal()
}

// finish переводит попытку в терминальное состояние. Возвращает false, если это уже
// сделал другой путь завершения.
func (a *Attempt) finish(o model.Outcome) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolved {
		return false
	}
	a.resolved = true
	a.state = stateFor(o.Kind)
	a.outcome = &o
	return true
}

func (a *Attempt) abandon() {
	a.mu.Lock()
	if !a.resolved {
		a.resolved = true
		a.state = StateAbandoned
	}
	a.mu.Unlock()
	a.cancel()
}
