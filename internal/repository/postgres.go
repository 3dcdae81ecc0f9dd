package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/evbooking/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresJournal хранит итоги сверки в PostgreSQL.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal подключается к БД и применяет миграции.
func NewPostgresJournal(ctx context.Context, dsn string) (*PostgresJournal, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &PostgresJournal{pool: pool}
	if err := j.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return j, nil
}

func (j *PostgresJournal) migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(j.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close закрывает пул соединений.
func (j *PostgresJournal) Close() error {
	j.pool.Close()
	return nil
}

// Record сохраняет итог попытки. Повтор той же попытки даёт ErrOutcomeExists.
func (j *PostgresJournal) Record(ctx context.Context, o model.Outcome) error {
	var orderCode *string
	if o.OrderCode != "" {
		orderCode = &o.OrderCode
	}

	err := withRetry(ctx, func() error {
		_, err := j.pool.Exec(ctx,
			`INSERT INTO payment_outcomes (attempt_id, booking_id, kind, source, order_code, resolved_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			o.AttemptID, o.BookingID, string(o.Kind), o.Source, orderCode, o.ResolvedAt,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrOutcomeExists, o.AttemptID)
		}
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// LastOutcome возвращает последний итог по бронированию.
func (j *PostgresJournal) LastOutcome(ctx context.Context, bookingID string) (*model.Outcome, error) {
	var (
		o         model.Outcome
		kind      string
		orderCode *string
	)
	err := j.pool.QueryRow(ctx,
		`SELECT attempt_id::text, booking_id, kind, source, order_code, resolved_at
		 FROM payment_outcomes
		 WHERE booking_id = $1
		 ORDER BY resolved_at DESC
		 LIMIT 1`,
		bookingID,
	).Scan(&o.AttemptID, &o.BookingID, &kind, &o.Source, &orderCode, &o.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOutcomeNotFound
		}
		return nil, fmt.Errorf("select outcome: %w", err)
	}

	o.Kind = model.OutcomeKind(kind)
	if orderCode != nil {
		o.OrderCode = *orderCode
	}
	return &o, nil
}

var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, time.Second}

// withRetry повторяет операцию при сбоях соединения и конфликтах сериализации.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; ; i++ {
		err = fn()
		if err == nil || !retryable(err) || i >= len(retryDelays) {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(retryDelays[i]):
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
