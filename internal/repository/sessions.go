package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/swapstation/internal/model"
)

// SessionChange описывает сравнение-и-замену статуса сессии. Непустые
// указатели перезаписывают соответствующие ссылки.
type SessionChange struct {
	ID           string
	From         model.SessionStatus
	To           model.SessionStatus
	OldBatteryID *string
	NewBatteryID *string
	InvoiceID    *string
}

// BookingChange описывает сравнение-и-замену статуса бронирования.
type BookingChange struct {
	ID   string
	From model.BookingStatus
	To   model.BookingStatus
}

// InvoiceChange описывает сравнение-и-замену статуса счёта.
type InvoiceChange struct {
	ID   string
	From model.InvoiceStatus
	To   model.InvoiceStatus
}

const sessionColumns = `id, type, status, station_id, user_id, vehicle_id, booking_id,
	old_battery_id, new_battery_id, invoice_id, created_at, updated_at`

func scanSession(row pgx.Row) (*model.SwapSession, error) {
	var (
		s      model.SwapSession
		typ    string
		status string
	)
	err := row.Scan(&s.ID, &typ, &status, &s.StationID, &s.UserID, &s.VehicleID, &s.BookingID,
		&s.OldBatteryID, &s.NewBatteryID, &s.InvoiceID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Type = model.SessionType(typ)
	s.Status = model.SessionStatus(status)
	return &s, nil
}

// GetSession возвращает сессию замены по идентификатору.
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*model.SwapSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM swap_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// GetActiveSessionByBooking возвращает незавершённую сессию по бронированию.
func (r *PostgresRepository) GetActiveSessionByBooking(ctx context.Context, bookingID string) (*model.SwapSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM swap_sessions
		 WHERE booking_id = $1 AND status LIKE 'in-progress:%'
		 ORDER BY created_at DESC
		 LIMIT 1`, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return s, nil
}

// GetLastSessionByBooking возвращает последнюю сессию по бронированию в любом статусе.
func (r *PostgresRepository) GetLastSessionByBooking(ctx context.Context, bookingID string) (*model.SwapSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM swap_sessions
		 WHERE booking_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get last session: %w", err)
	}
	return s, nil
}

// GetActiveSessionByBattery возвращает активную сессию, за которой закреплена новая батарея.
func (r *PostgresRepository) GetActiveSessionByBattery(ctx context.Context, batteryID string) (*model.SwapSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM swap_sessions
		 WHERE new_battery_id = $1 AND status LIKE 'in-progress:%'
		 LIMIT 1`, batteryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get battery holder: %w", err)
	}
	return s, nil
}

// CreateSession сохраняет новую сессию и, для сессии по бронированию,
// переводит бронирование в работу в той же транзакции. Вторая активная
// сессия по тому же бронированию или с той же новой батареей отклоняется
// уникальным индексом.
func (r *PostgresRepository) CreateSession(ctx context.Context, s *model.SwapSession, booking *BookingChange) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO swap_sessions (id, type, status, station_id, user_id, vehicle_id, booking_id, old_battery_id, new_battery_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING created_at, updated_at`,
			s.ID, string(s.Type), string(s.Status), s.StationID, s.UserID, s.VehicleID,
			s.BookingID, s.OldBatteryID, s.NewBatteryID,
		).Scan(&s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			if conflict := sessionConflict(err); conflict != nil {
				return conflict
			}
			return fmt.Errorf("insert session: %w", err)
		}

		if booking != nil {
			if err := setBookingStatus(ctx, tx, *booking); err != nil {
				return err
			}
		}
		return nil
	})
}

// AdvanceSession атомарно меняет статус сессии, если он всё ещё равен ch.From.
func (r *PostgresRepository) AdvanceSession(ctx context.Context, ch SessionChange) (*model.SwapSession, error) {
	var out *model.SwapSession
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		s, err := applySessionChange(ctx, tx, ch)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// RecordInspection сохраняет результат диагностики и продвигает сессию.
func (r *PostgresRepository) RecordInspection(ctx context.Context, ch SessionChange, ins *model.Inspection) (*model.SwapSession, error) {
	var out *model.SwapSession
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		s, err := applySessionChange(ctx, tx, ch)
		if err != nil {
			return err
		}

		ids := ins.InternalFeeIDs
		if ids == nil {
			ids = []string{}
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO swap_session_inspections
			   (session_id, battery_id, battery_code, variant, soc, voltage, temperature, cycle_count, internal_fee_ids, inspected_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (session_id) DO UPDATE SET
			   battery_id = EXCLUDED.battery_id,
			   battery_code = EXCLUDED.battery_code,
			   variant = EXCLUDED.variant,
			   soc = EXCLUDED.soc,
			   voltage = EXCLUDED.voltage,
			   temperature = EXCLUDED.temperature,
			   cycle_count = EXCLUDED.cycle_count,
			   internal_fee_ids = EXCLUDED.internal_fee_ids,
			   inspected_at = EXCLUDED.inspected_at`,
			ins.SessionID, ins.BatteryID, ins.BatteryCode, ins.Variant, ins.SOC, ins.Voltage,
			ins.Temperature, ins.CycleCount, ids, ins.InspectedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert inspection: %w", err)
		}

		out = s
		return nil
	})
	return out, err
}

// GetInspection возвращает результат диагностики для сессии.
func (r *PostgresRepository) GetInspection(ctx context.Context, sessionID string) (*model.Inspection, error) {
	var ins model.Inspection
	err := r.pool.QueryRow(ctx,
		`SELECT session_id, battery_id, battery_code, variant, soc, voltage, temperature, cycle_count, internal_fee_ids, inspected_at
		 FROM swap_session_inspections WHERE session_id = $1`, sessionID,
	).Scan(&ins.SessionID, &ins.BatteryID, &ins.BatteryCode, &ins.Variant, &ins.SOC, &ins.Voltage,
		&ins.Temperature, &ins.CycleCount, &ins.InternalFeeIDs, &ins.InspectedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInspectionNotFound
		}
		return nil, fmt.Errorf("get inspection: %w", err)
	}
	return &ins, nil
}

// SettlePayment оплачивает счёт, завершает сессию и бронирование одной транзакцией.
func (r *PostgresRepository) SettlePayment(ctx context.Context, ch SessionChange, inv InvoiceChange, booking *BookingChange) (*model.SwapSession, error) {
	var out *model.SwapSession
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := setInvoiceStatus(ctx, tx, inv); err != nil {
			return err
		}
		s, err := applySessionChange(ctx, tx, ch)
		if err != nil {
			return err
		}
		if booking != nil {
			if err := setBookingStatus(ctx, tx, *booking); err != nil {
				return err
			}
		}
		out = s
		return nil
	})
	return out, err
}

// CancelSession деактивирует сессию, аннулирует неоплаченный счёт и
// возвращает бронирование одной транзакцией.
func (r *PostgresRepository) CancelSession(ctx context.Context, ch SessionChange, inv *InvoiceChange, booking *BookingChange) (*model.SwapSession, error) {
	var out *model.SwapSession
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		s, err := applySessionChange(ctx, tx, ch)
		if err != nil {
			return err
		}
		if inv != nil {
			if err := setInvoiceStatus(ctx, tx, *inv); err != nil {
				return err
			}
		}
		if booking != nil {
			if err := setBookingStatus(ctx, tx, *booking); err != nil {
				return err
			}
		}
		out = s
		return nil
	})
	return out, err
}

func applySessionChange(ctx context.Context, q querier, ch SessionChange) (*model.SwapSession, error) {
	s, err := scanSession(q.QueryRow(ctx,
		`UPDATE swap_sessions SET
		   status = $3,
		   old_battery_id = COALESCE($4, old_battery_id),
		   new_battery_id = COALESCE($5, new_battery_id),
		   invoice_id = COALESCE($6, invoice_id),
		   updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING `+sessionColumns,
		ch.ID, string(ch.From), string(ch.To), ch.OldBatteryID, ch.NewBatteryID, ch.InvoiceID,
	))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if conflict := sessionConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("update session: %w", err)
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM swap_sessions WHERE id = $1)`, ch.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return nil, ErrSessionNotFound
	}
	return nil, fmt.Errorf("%w: session %s is no longer %q", ErrStaleState, ch.ID, ch.From)
}

func setBookingStatus(ctx context.Context, q querier, ch BookingChange) error {
	tag, err := q.Exec(ctx,
		`UPDATE bookings SET status = $3 WHERE id = $1 AND status = $2`,
		ch.ID, string(ch.From), string(ch.To),
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: booking %s is no longer %q", ErrStaleState, ch.ID, ch.From)
	}
	return nil
}
