// Package notify доставляет терминальные события сверки оплаты: в открытые
// WebSocket-соединения UI, в Kafka и в журнал исходов.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/evbooking/internal/model"
)

// Sink получает терминальное событие сверки.
type Sink interface {
	Publish(ctx context.Context, outcome model.Outcome) error
}

// Event: кадр, который получает UI.
type Event struct {
	Type    string        `json:"type"`
	Outcome model.Outcome `json:"outcome"`
	Message string        `json:"message"`
}

// EventTypeOutcome: тип кадра с итогом сверки.
const EventTypeOutcome = "payment_outcome"

// NewEvent оборачивает итог в кадр для UI.
func NewEvent(o model.Outcome) Event {
	return Event{Type: EventTypeOutcome, Outcome: o, Message: o.Message()}
}

type namedSink struct {
	name string
	sink Sink
}

// Fanout рассылает событие во все получатели по очереди. Ошибка одного получателя
// логируется и не мешает остальным.
type Fanout struct {
	sinks  []namedSink
	logger *zap.Logger
}

// NewFanout создаёт пустой Fanout.
func NewFanout(logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{logger: logger}
}

// Add регистрирует получателя. Вызывается до запуска сервиса.
func (f *Fanout) Add(name string, sink Sink) *Fanout {
	if sink != nil {
		f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
	}
	return f
}

// Publish всегда возвращает nil: сбои отдельных получателей только логируются.
func (f *Fanout) Publish(ctx context.Context, outcome model.Outcome) error {
	for _, s := range f.sinks {
		if err := s.sink.Publish(ctx, outcome); err != nil {
			f.logger.Warn("outcome sink failed",
				zap.String("sink", s.name),
				zap.String("bookingID", outcome.BookingID),
				zap.String("attemptID", outcome.AttemptID),
				zap.Error(err),
			)
		}
	}
	return nil
}
