package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/swapstation/internal/booking"
	"github.com/mmeshcher/swapstation/internal/model"
	"github.com/mmeshcher/swapstation/internal/repository"
	"github.com/mmeshcher/swapstation/internal/sessionstate"
	"github.com/mmeshcher/swapstation/internal/validation"
)

// SessionContext — всё, что нужно оператору для продолжения сессии.
type SessionContext struct {
	Flow         model.SessionType        `json:"flow"`
	Session      *model.SwapSession       `json:"session,omitempty"`
	Booking      *model.Booking           `json:"booking,omitempty"`
	User         *model.User              `json:"user,omitempty"`
	Vehicle      *model.Vehicle           `json:"vehicle,omitempty"`
	Station      *model.Station           `json:"station,omitempty"`
	OldBattery   *model.Battery           `json:"oldBattery,omitempty"`
	NewBattery   *model.Battery           `json:"newBattery,omitempty"`
	Inspection   *model.Inspection        `json:"inspection,omitempty"`
	Invoice      *model.Invoice           `json:"invoice,omitempty"`
	InvoiceLines []model.InvoiceDamageFee `json:"invoiceLines,omitempty"`
}

// Resolution — шаг мастера, с которого продолжается работа, и контекст сессии.
type Resolution struct {
	Step    int            `json:"step"`
	Context SessionContext `json:"context"`
}

// Resolve находит сессию по идентификатору сессии или бронирования и
// восстанавливает её контекст. Без идентификаторов начинается сессия без брони.
// Закрытое бронирование открывается только на своей завершённой сессии.
func (s *Service) Resolve(ctx context.Context, bookingID, sessionID string) (*Resolution, error) {
	switch {
	case sessionID != "":
		if !validation.IsValidSessionID(sessionID) {
			return nil, validationError("invalid session id %q", sessionID)
		}
		sess, err := s.repo.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.Status == model.SessionStatusCancelled {
			return nil, fmt.Errorf("%w: session %s was cancelled", repository.ErrSessionNotFound, sessionID)
		}
		return s.resolveSession(ctx, sess)

	case bookingID != "":
		if !validation.IsValidID(bookingID) {
			return nil, validationError("invalid booking id %q", bookingID)
		}
		b, err := s.repo.GetBooking(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if booking.IsTerminal(b.Status) {
			return s.resolveClosedBooking(ctx, b)
		}
		active, err := s.repo.GetActiveSessionByBooking(ctx, bookingID)
		switch {
		case err == nil:
			return s.resolveSession(ctx, active)
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
		return s.resolveBooking(ctx, b)
	}

	return &Resolution{Step: 0, Context: SessionContext{Flow: model.SessionTypeWalkIn}}, nil
}

func (s *Service) resolveSession(ctx context.Context, sess *model.SwapSession) (*Resolution, error) {
	hc := SessionContext{Flow: sess.Type, Session: sess}

	if sess.BookingID != nil {
		b, err := s.repo.GetBooking(ctx, *sess.BookingID)
		if err != nil {
			return nil, err
		}
		hc.Booking = b
	}

	if err := s.hydrateParties(ctx, &hc, sess.UserID, sess.VehicleID, sess.StationID); err != nil {
		return nil, err
	}

	oldID := sess.OldBatteryID
	if oldID == nil {
		oldID = hc.Vehicle.BatteryID
	}
	if err := s.hydrateBatteries(ctx, &hc, oldID, sess.NewBatteryID); err != nil {
		return nil, err
	}

	ins, err := optional(s.repo.GetInspection(ctx, sess.ID))
	if err != nil {
		return nil, err
	}
	hc.Inspection = ins

	if sess.InvoiceID != nil {
		inv, lines, err := s.repo.GetInvoice(ctx, *sess.InvoiceID)
		if err != nil {
			return nil, err
		}
		hc.Invoice = inv
		hc.InvoiceLines = lines
	}

	return &Resolution{Step: sessionstate.ResumeStep(sess.Status), Context: hc}, nil
}

// resolveClosedBooking возвращает завершённую сессию закрытого бронирования.
// Отменённое или пропущенное бронирование продолжить нельзя.
func (s *Service) resolveClosedBooking(ctx context.Context, b *model.Booking) (*Resolution, error) {
	last, err := optional(s.repo.GetLastSessionByBooking(ctx, b.ID))
	if err != nil {
		return nil, err
	}
	if last != nil && last.Status == model.SessionStatusCompleted {
		return s.resolveSession(ctx, last)
	}
	return nil, fmt.Errorf("%w: booking %s is %s", ErrBookingClosed, b.ID, b.Status)
}

func (s *Service) resolveBooking(ctx context.Context, b *model.Booking) (*Resolution, error) {
	hc := SessionContext{Flow: model.SessionTypeBooking, Booking: b}

	if err := s.hydrateParties(ctx, &hc, b.UserID, b.VehicleID, b.StationID); err != nil {
		return nil, err
	}

	var newID *string
	if b.BatteryID != "" {
		newID = &b.BatteryID
	}
	if err := s.hydrateBatteries(ctx, &hc, hc.Vehicle.BatteryID, newID); err != nil {
		return nil, err
	}

	return &Resolution{Step: 0, Context: hc}, nil
}

func (s *Service) hydrateParties(ctx context.Context, hc *SessionContext, userID, vehicleID, stationID string) error {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	v, err := s.repo.GetVehicle(ctx, vehicleID)
	if err != nil {
		return err
	}
	st, err := s.repo.GetStation(ctx, stationID)
	if err != nil {
		return err
	}
	hc.User, hc.Vehicle, hc.Station = u, v, st
	return nil
}

// hydrateBatteries подгружает батареи; отсутствующие ссылки пропускаются.
func (s *Service) hydrateBatteries(ctx context.Context, hc *SessionContext, oldID, newID *string) error {
	if oldID != nil {
		b, err := optional(s.repo.GetBattery(ctx, *oldID))
		if err != nil {
			return err
		}
		if b == nil {
			s.logger.Warn("old battery referenced but missing", zap.String("batteryID", *oldID))
		}
		hc.OldBattery = b
	}
	if newID != nil {
		b, err := optional(s.repo.GetBattery(ctx, *newID))
		if err != nil {
			return err
		}
		if b == nil {
			s.logger.Warn("new battery referenced but missing", zap.String("batteryID", *newID))
		}
		hc.NewBattery = b
	}
	return nil
}
