// Package repository содержит реализацию доступа к данным в PostgreSQL.
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
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound — общий признак отсутствующей записи.
var ErrNotFound = errors.New("not found")

var (
	// ErrBookingNotFound возвращается, если бронирование не найдено.
	ErrBookingNotFound = fmt.Errorf("booking %w", ErrNotFound)
	// ErrSessionNotFound возвращается, если сессия замены не найдена.
	ErrSessionNotFound = fmt.Errorf("swap session %w", ErrNotFound)
	// ErrBatteryNotFound возвращается, если батарея не найдена.
	ErrBatteryNotFound = fmt.Errorf("battery %w", ErrNotFound)
	// ErrBatteryTypeNotFound возвращается, если тип батареи не найден.
	ErrBatteryTypeNotFound = fmt.Errorf("battery type %w", ErrNotFound)
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrVehicleNotFound возвращается, если транспортное средство не найдено.
	ErrVehicleNotFound = fmt.Errorf("vehicle %w", ErrNotFound)
	// ErrStationNotFound возвращается, если станция не найдена.
	ErrStationNotFound = fmt.Errorf("station %w", ErrNotFound)
	// ErrInvoiceNotFound возвращается, если счёт не найден.
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", ErrNotFound)
	// ErrInspectionNotFound возвращается, если для сессии ещё не было диагностики.
	ErrInspectionNotFound = fmt.Errorf("inspection %w", ErrNotFound)
)

var (
	// ErrActiveSessionExists возвращается при попытке открыть вторую активную сессию по бронированию.
	ErrActiveSessionExists = errors.New("booking already has an active swap session")
	// ErrBatteryHeld возвращается, если батарея уже закреплена за другой активной сессией.
	ErrBatteryHeld = errors.New("battery is held by another active swap session")
	// ErrStaleState возвращается, если статус записи изменился с момента чтения.
	ErrStaleState = errors.New("record status changed concurrently")
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
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

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

func withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(retryDelays) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Serialization Failure и Deadlock безопасно повторять целиком.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

const activeNewBatteryIndex = "swap_sessions_active_new_battery"

// sessionConflict переводит нарушение уникальности по сессиям в доменную ошибку.
func sessionConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	if pgErr.ConstraintName == activeNewBatteryIndex {
		return ErrBatteryHeld
	}
	return ErrActiveSessionExists
}

// inTx выполняет fn в одной транзакции; вся транзакция повторяется при временных ошибках.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
