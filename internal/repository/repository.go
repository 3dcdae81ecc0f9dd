// Package repository хранит журнал итогов сверки оплаты.
package repository

import (
	"context"
	"errors"

	"github.com/mmeshcher/evbooking/internal/model"
)

var (
	// ErrOutcomeExists возвращается при повторной записи итога той же попытки.
	ErrOutcomeExists = errors.New("outcome already recorded")
	// ErrOutcomeNotFound возвращается, если по бронированию нет ни одного итога.
	ErrOutcomeNotFound = errors.New("outcome not found")
)

// Journal: журнал терминальных итогов сверки. Незавершённые попытки не сохраняются.
type Journal interface {
	Record(ctx context.Context, outcome model.Outcome) error
	LastOutcome(ctx context.Context, bookingID string) (*model.Outcome, error)
	Close() error
}
