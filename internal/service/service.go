// Package service реализует сценарий замены батареи на станции: поиск и
// возобновление сессии, регистрацию, диагностику, расчёт ущерба, установку,
// оплату и отмену.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/swapstation/internal/batterystatus"
	"github.com/mmeshcher/swapstation/internal/diagnostics"
	"github.com/mmeshcher/swapstation/internal/metrics"
	"github.com/mmeshcher/swapstation/internal/model"
	"github.com/mmeshcher/swapstation/internal/notify"
	"github.com/mmeshcher/swapstation/internal/repository"
)

var (
	// ErrValidation возвращается, если входные данные некорректны. Хранилище при этом не трогается.
	ErrValidation = errors.New("validation failed")
	// ErrConflict возвращается, если операция противоречит текущему состоянию сессии.
	ErrConflict = errors.New("conflict with current state")

	ErrAssessmentLocked   = fmt.Errorf("%w: damage assessment already submitted", ErrConflict)
	ErrInspectionRequired = fmt.Errorf("%w: battery inspection required", ErrConflict)
	ErrInvoiceRequired    = fmt.Errorf("%w: session has no invoice", ErrConflict)
	ErrInvoiceClosed      = fmt.Errorf("%w: invoice is not awaiting payment", ErrConflict)
	ErrBatteryUnavailable = fmt.Errorf("%w: battery is not available", ErrConflict)
	ErrBookingClosed      = fmt.Errorf("%w: booking is closed", ErrConflict)
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	GetSession(ctx context.Context, id string) (*model.SwapSession, error)
	GetActiveSessionByBooking(ctx context.Context, bookingID string) (*model.SwapSession, error)
	GetLastSessionByBooking(ctx context.Context, bookingID string) (*model.SwapSession, error)
	GetActiveSessionByBattery(ctx context.Context, batteryID string) (*model.SwapSession, error)
	CreateSession(ctx context.Context, s *model.SwapSession, booking *repository.BookingChange) error
	AdvanceSession(ctx context.Context, ch repository.SessionChange) (*model.SwapSession, error)
	RecordInspection(ctx context.Context, ch repository.SessionChange, ins *model.Inspection) (*model.SwapSession, error)
	GetInspection(ctx context.Context, sessionID string) (*model.Inspection, error)
	SettlePayment(ctx context.Context, ch repository.SessionChange, inv repository.InvoiceChange, booking *repository.BookingChange) (*model.SwapSession, error)
	CancelSession(ctx context.Context, ch repository.SessionChange, inv *repository.InvoiceChange, booking *repository.BookingChange) (*model.SwapSession, error)

	CreateInvoice(ctx context.Context, ch repository.SessionChange, inv *model.Invoice, lines []model.InvoiceDamageFee) (*model.SwapSession, error)
	GetInvoice(ctx context.Context, id string) (*model.Invoice, []model.InvoiceDamageFee, error)

	GetBattery(ctx context.Context, id string) (*model.Battery, error)
	GetBatteryByCode(ctx context.Context, code string) (*model.Battery, error)
	CompareAndSetBatteryStatus(ctx context.Context, id string, from, to model.BatteryStatus) error
	GetBatteryType(ctx context.Context, id string) (*model.BatteryType, error)
	ListDamageFees(ctx context.Context, f model.DamageFeeFilter) ([]model.DamageFee, error)

	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetVehicle(ctx context.Context, id string) (*model.Vehicle, error)
	GetStation(ctx context.Context, id string) (*model.Station, error)
	GetServicePricing(ctx context.Context, userID, stationID string) (*model.ServicePricing, error)
}

// Diagnostics возвращает живую телеметрию батареи по её коду.
type Diagnostics interface {
	Inspect(ctx context.Context, code string) (*diagnostics.Report, error)
}

// Notifier публикует события сессий.
type Notifier interface {
	Publish(ctx context.Context, evt notify.Event) error
}

// Service содержит бизнес-логику станции замены. Состояние сессии между
// вызовами не хранится: каждая операция читает его из репозитория.
type Service struct {
	repo     Repository
	diag     Diagnostics
	notifier Notifier
	guard    *batterystatus.Guard
	logger   *zap.Logger
	newID    func() string
}

// NewService создаёт сервис. diag может быть nil: тогда данные батареи берутся из
// инвентаря, а внутренние дефекты не определяются.
func NewService(repo Repository, diag Diagnostics, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		repo:     repo,
		diag:     diag,
		notifier: notifier,
		guard:    batterystatus.NewGuard(repo, logger),
		logger:   logger,
		newID:    func() string { return uuid.NewString() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ notify.EventType, sess *model.SwapSession) {
	if err := s.notifier.Publish(ctx, notify.NewEvent(typ, sess)); err != nil {
		s.logger.Warn("failed to publish session event",
			zap.String("event", string(typ)),
			zap.String("sessionID", sess.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) recordTransition(from, to model.SessionStatus) {
	metrics.SessionTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// optional превращает «не найдено» в отсутствие значения.
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
