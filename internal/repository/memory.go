package repository

import (
	"context"
	"sync"

	"github.com/mmeshcher/evbooking/internal/model"
)

// MemoryJournal хранит итоги в памяти процесса. Используется без DATABASE_URI.
type MemoryJournal struct {
	mu       sync.RWMutex
	attempts map[string]struct{}
	last     map[string]model.Outcome
}

// NewMemoryJournal создаёт пустой журнал.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		attempts: make(map[string]struct{}),
		last:     make(map[string]model.Outcome),
	}
}

// Record сохраняет итог. Повтор попытки возвращает ErrOutcomeExists.
func (m *MemoryJournal) Record(_ context.Context, outcome model.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.attempts[outcome.AttemptID]; ok {
		return ErrOutcomeExists
	}
	m.attempts[outcome.AttemptID] = struct{}{}

	if prev, ok := m.last[outcome.BookingID]; !ok || !outcome.ResolvedAt.Before(prev.ResolvedAt) {
		m.last[outcome.BookingID] = outcome
	}
	return nil
}

// LastOutcome возвращает самый поздний итог по бронированию.
func (m *MemoryJournal) LastOutcome(_ context.Context, bookingID string) (*model.Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.last[bookingID]
	if !ok {
		return nil, ErrOutcomeNotFound
	}
	return &o, nil
}

// Close ничего не делает.
func (m *MemoryJournal) Close() error { return nil }
