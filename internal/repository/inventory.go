package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/swapstation/internal/model"
)

const batteryColumns = `id, code, battery_type_id, station_id, current_capacity, cycle_count,
	soc, voltage, temperature, status, manufactured_at`

func scanBattery(row pgx.Row) (*model.Battery, error) {
	var (
		b      model.Battery
		status string
	)
	err := row.Scan(&b.ID, &b.Code, &b.BatteryTypeID, &b.StationID, &b.CurrentCapacity, &b.CycleCount,
		&b.SOC, &b.Voltage, &b.Temperature, &status, &b.ManufacturedAt)
	if err != nil {
		return nil, err
	}
	b.Status = model.BatteryStatus(status)
	return &b, nil
}

// GetBattery возвращает батарею по идентификатору.
func (r *PostgresRepository) GetBattery(ctx context.Context, id string) (*model.Battery, error) {
	b, err := scanBattery(r.pool.QueryRow(ctx, `SELECT `+batteryColumns+` FROM batteries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatteryNotFound
		}
		return nil, fmt.Errorf("get battery: %w", err)
	}
	return b, nil
}

// GetBatteryByCode возвращает батарею по коду на корпусе.
func (r *PostgresRepository) GetBatteryByCode(ctx context.Context, code string) (*model.Battery, error) {
	b, err := scanBattery(r.pool.QueryRow(ctx, `SELECT `+batteryColumns+` FROM batteries WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatteryNotFound
		}
		return nil, fmt.Errorf("get battery by code: %w", err)
	}
	return b, nil
}

// CompareAndSetBatteryStatus меняет статус батареи, только если текущий статус равен from.
func (r *PostgresRepository) CompareAndSetBatteryStatus(ctx context.Context, id string, from, to model.BatteryStatus) error {
	return withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE batteries SET status = $3 WHERE id = $1 AND status = $2`,
			id, string(from), string(to),
		)
		if err != nil {
			return fmt.Errorf("update battery status: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM batteries WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check battery: %w", err)
		}
		if !exists {
			return ErrBatteryNotFound
		}
		return fmt.Errorf("%w: battery %s is no longer %q", ErrStaleState, id, from)
	})
}

// GetBatteryType возвращает тип батареи.
func (r *PostgresRepository) GetBatteryType(ctx context.Context, id string) (*model.BatteryType, error) {
	var bt model.BatteryType
	err := r.pool.QueryRow(ctx, `SELECT id, name, variant FROM battery_types WHERE id = $1`, id).
		Scan(&bt.ID, &bt.Name, &bt.Variant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatteryTypeNotFound
		}
		return nil, fmt.Errorf("get battery type: %w", err)
	}
	return &bt, nil
}

// ListDamageFees возвращает позиции каталога дефектов по фильтру.
// Позиции без ограничения по семейству попадают в выборку при любом variant.
func (r *PostgresRepository) ListDamageFees(ctx context.Context, f model.DamageFeeFilter) ([]model.DamageFee, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, severity, amount, unit, type, variant, active
		 FROM damage_fees
		 WHERE ($1 = '' OR type = $1)
		   AND ($2 = '' OR variant IS NULL OR variant = $2)
		   AND (NOT $3 OR active)
		 ORDER BY type, name`,
		string(f.Type), f.Variant, f.ActiveOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("select damage fees: %w", err)
	}
	defer rows.Close()

	var res []model.DamageFee
	for rows.Next() {
		var (
			fee model.DamageFee
			typ string
		)
		if err := rows.Scan(&fee.ID, &fee.Name, &fee.Severity, &fee.Amount, &fee.Unit, &typ, &fee.Variant, &fee.Active); err != nil {
			return nil, fmt.Errorf("scan damage fee: %w", err)
		}
		fee.Type = model.DamageFeeType(typ)
		res = append(res, fee)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetBooking возвращает бронирование по идентификатору.
func (r *PostgresRepository) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	var (
		b      model.Booking
		status string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, schedule_time, note, status, user_id, vehicle_id, battery_id, station_id
		 FROM bookings WHERE id = $1`, id,
	).Scan(&b.ID, &b.ScheduleTime, &b.Note, &status, &b.UserID, &b.VehicleID, &b.BatteryID, &b.StationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	b.Status = model.BookingStatus(status)
	return &b, nil
}

// GetUser возвращает клиента по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `SELECT id, full_name, phone, email FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.FullName, &u.Phone, &u.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetVehicle возвращает транспортное средство по идентификатору.
func (r *PostgresRepository) GetVehicle(ctx context.Context, id string) (*model.Vehicle, error) {
	var v model.Vehicle
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, model_name, plate, battery_id FROM vehicles WHERE id = $1`, id).
		Scan(&v.ID, &v.UserID, &v.ModelName, &v.Plate, &v.BatteryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVehicleNotFound
		}
		return nil, fmt.Errorf("get vehicle: %w", err)
	}
	return &v, nil
}

// GetStation возвращает станцию по идентификатору.
func (r *PostgresRepository) GetStation(ctx context.Context, id string) (*model.Station, error) {
	var st model.Station
	err := r.pool.QueryRow(ctx, `SELECT id, name, address FROM stations WHERE id = $1`, id).
		Scan(&st.ID, &st.Name, &st.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStationNotFound
		}
		return nil, fmt.Errorf("get station: %w", err)
	}
	return &st, nil
}

// GetServicePricing возвращает цену замены на станции и скидки активной подписки клиента.
func (r *PostgresRepository) GetServicePricing(ctx context.Context, userID, stationID string) (*model.ServicePricing, error) {
	var p model.ServicePricing
	err := r.pool.QueryRow(ctx,
		`SELECT s.swap_price,
		        COALESCE(sp.swap_discount_bps, 0),
		        COALESCE(sp.damage_discount_bps, 0)
		 FROM stations s
		 LEFT JOIN LATERAL (
		     SELECT p.swap_discount_bps, p.damage_discount_bps
		     FROM subscriptions sub
		     JOIN subscription_plans p ON p.id = sub.plan_id
		     WHERE sub.user_id = $1 AND now() BETWEEN sub.starts_at AND sub.expires_at
		     ORDER BY sub.expires_at DESC
		     LIMIT 1
		 ) sp ON TRUE
		 WHERE s.id = $2`,
		userID, stationID,
	).Scan(&p.BasePrice, &p.SwapDiscountBps, &p.DamageDiscountBps)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStationNotFound
		}
		return nil, fmt.Errorf("get service pricing: %w", err)
	}
	return &p, nil
}
