package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/evbooking/internal/model"
)

func TestMemoryJournal(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()

	_, err := j.LastOutcome(ctx, "B1")
	assert.ErrorIs(t, err, ErrOutcomeNotFound)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	first := model.Outcome{AttemptID: "A1", BookingID: "B1", Kind: model.OutcomeFailed, Source: model.SourceRedirect, ResolvedAt: base}
	second := model.Outcome{AttemptID: "A2", BookingID: "B1", Kind: model.OutcomeConfirmed, OrderCode: "OC1", Source: model.SourcePoll, ResolvedAt: base.Add(time.Minute)}

	require.NoError(t, j.Record(ctx, first))
	require.NoError(t, j.Record(ctx, second))
	assert.ErrorIs(t, j.Record(ctx, first), ErrOutcomeExists)

	last, err := j.LastOutcome(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, second, *last)

	// Поздняя запись более старого итога не перетирает свежий.
	older := model.Outcome{AttemptID: "A0", BookingID: "B1", Kind: model.OutcomeTimedOut, ResolvedAt: base.Add(-time.Hour)}
	require.NoError(t, j.Record(ctx, older))
	last, err = j.LastOutcome(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, "A2", last.AttemptID)
}

func TestWithRetry(t *testing.T) {
	orig := retryDelays
	retryDelays = []time.Duration{time.Millisecond, time.Millisecond}
	t.Cleanup(func() { retryDelays = orig })

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{name: "success first try", errs: []error{nil}, wantCalls: 1},
		{
			name:      "serialization failure then success",
			errs:      []error{&pgconn.PgError{Code: pgerrcode.SerializationFailure}, nil},
			wantCalls: 2,
		},
		{
			name:      "connection refused exhausts retries",
			errs:      []error{errors.New("dial: connection refused"), errors.New("dial: connection refused"), errors.New("dial: connection refused")},
			wantCalls: 3,
			wantErr:   true,
		},
		{
			name:      "unique violation not retried",
			errs:      []error{&pgconn.PgError{Code: pgerrcode.UniqueViolation}},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "context error not retried",
			errs:      []error{fmt.Errorf("exec: %w", context.DeadlineExceeded)},
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := withRetry(context.Background(), func() error {
				e := tt.errs[calls]
				calls++
				return e
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
