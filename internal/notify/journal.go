package notify

import (
	"context"
	"errors"

	"github.com/mmeshcher/evbooking/internal/model"
	"github.com/mmeshcher/evbooking/internal/repository"
)

// Recorder сохраняет итоги сверки.
type Recorder interface {
	Record(ctx context.Context, outcome model.Outcome) error
}

// JournalSink пишет итоги в журнал. Повторная запись той же попытки не ошибка.
type JournalSink struct {
	recorder Recorder
}

// NewJournalSink создаёт получателя, пишущего итоги в журнал.
func NewJournalSink(recorder Recorder) *JournalSink {
	return &JournalSink{recorder: recorder}
}

// Publish записывает итог. Повтор той же попытки не считается ошибкой.
func (j *JournalSink) Publish(ctx context.Context, outcome model.Outcome) error {
	err := j.recorder.Record(ctx, outcome)
	if errors.Is(err, repository.ErrOutcomeExists) {
		return nil
	}
	return err
}
