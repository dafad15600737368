package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/swapstation/internal/booking"
	"github.com/mmeshcher/swapstation/internal/damage"
	"github.com/mmeshcher/swapstation/internal/diagnostics"
	"github.com/mmeshcher/swapstation/internal/invoice"
	"github.com/mmeshcher/swapstation/internal/metrics"
	"github.com/mmeshcher/swapstation/internal/model"
	"github.com/mmeshcher/swapstation/internal/notify"
	"github.com/mmeshcher/swapstation/internal/repository"
	"github.com/mmeshcher/swapstation/internal/sessionstate"
	"github.com/mmeshcher/swapstation/internal/validation"
)

// CheckInRequest — данные регистрации. Для бронирования достаточно BookingID,
// для сессии без записи нужны клиент, транспорт и станция.
type CheckInRequest struct {
	BookingID    string `json:"bookingId"`
	UserID       string `json:"userId"`
	VehicleID    string `json:"vehicleId"`
	StationID    string `json:"stationId"`
	NewBatteryID string `json:"newBatteryId"`
}

// Diagnosis — результат проверки возвращённой батареи.
type Diagnosis struct {
	Found        bool               `json:"found"`
	Code         string             `json:"code"`
	Step         int                `json:"step"`
	Session      *model.SwapSession `json:"session"`
	Battery      *model.Battery     `json:"battery,omitempty"`
	Variant      string             `json:"variant,omitempty"`
	InternalFees []model.DamageFee  `json:"internalFees,omitempty"`
	ExternalFees []model.DamageFee  `json:"externalFees,omitempty"`
}

// Assessment — выставленный по итогам осмотра счёт.
type Assessment struct {
	Step    int                      `json:"step"`
	Session *model.SwapSession       `json:"session"`
	Invoice *model.Invoice           `json:"invoice"`
	Lines   []model.InvoiceDamageFee `json:"lines"`
}

// Installation — результат подтверждения установки новой батареи.
type Installation struct {
	Step       int                `json:"step"`
	Session    *model.SwapSession `json:"session"`
	NewBattery *model.Battery     `json:"newBattery"`
	OldBattery *model.Battery     `json:"oldBattery,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// Settlement — результат оплаты.
type Settlement struct {
	Step    int                `json:"step"`
	Session *model.SwapSession `json:"session"`
	Invoice *model.Invoice     `json:"invoice"`
}

// CancelReport — результат отмены. Warnings перечисляет ресурсы, которые не
// удалось вернуть; сама отмена при этом считается выполненной.
type CancelReport struct {
	Session           *model.SwapSession `json:"session"`
	ReleasedBatteries []string           `json:"releasedBatteries,omitempty"`
	Warnings          []string           `json:"warnings,omitempty"`
}

// CheckIn открывает сессию замены.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (*Resolution, error) {
	var (
		sess *model.SwapSession
		err  error
	)
	if req.BookingID != "" {
		sess, err = s.checkInBooking(ctx, req)
	} else {
		sess, err = s.checkInWalkIn(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	if sess.NewBatteryID != nil {
		s.holdBattery(ctx, *sess.NewBatteryID)
	}

	s.recordTransition("", sess.Status)
	s.publish(ctx, notify.EventCheckedIn, sess)
	s.logger.Info("session checked in",
		zap.String("sessionID", sess.ID),
		zap.String("type", string(sess.Type)),
		zap.String("stationID", sess.StationID),
	)

	res, err := s.resolveSession(ctx, sess)
	if err != nil {
		// сессия уже создана: отдаём её, контекст клиент подгрузит по идентификатору
		s.logger.Warn("failed to load checked-in session context",
			zap.String("sessionID", sess.ID),
			zap.Error(err),
		)
		return &Resolution{
			Step:    sessionstate.ResumeStep(sess.Status),
			Context: SessionContext{Flow: sess.Type, Session: sess},
		}, nil
	}
	return res, nil
}

func (s *Service) checkInBooking(ctx context.Context, req CheckInRequest) (*model.SwapSession, error) {
	if !validation.IsValidID(req.BookingID) {
		return nil, validationError("invalid booking id %q", req.BookingID)
	}

	b, err := s.repo.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == model.BookingStatusInProgress {
		if _, err := s.repo.GetActiveSessionByBooking(ctx, b.ID); err == nil {
			return nil, repository.ErrActiveSessionExists
		}
	}
	started, err := booking.OnSessionEvent(booking.EventCheckedIn, b)
	if err != nil {
		return nil, err
	}

	v, err := s.repo.GetVehicle(ctx, b.VehicleID)
	if err != nil {
		return nil, err
	}

	bookingID := b.ID
	sess := &model.SwapSession{
		ID:           s.newID(),
		Type:         model.SessionTypeBooking,
		Status:       model.SessionStatusCheckIn,
		StationID:    b.StationID,
		UserID:       b.UserID,
		VehicleID:    b.VehicleID,
		BookingID:    &bookingID,
		OldBatteryID: v.BatteryID,
	}
	if b.BatteryID != "" {
		if _, err := s.claimBattery(ctx, "", b.BatteryID, true); err != nil {
			return nil, err
		}
		newID := b.BatteryID
		sess.NewBatteryID = &newID
	}

	if err := s.repo.CreateSession(ctx, sess, &repository.BookingChange{ID: b.ID, From: b.Status, To: started.Status}); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) checkInWalkIn(ctx context.Context, req CheckInRequest) (*model.SwapSession, error) {
	for name, id := range map[string]string{"user": req.UserID, "vehicle": req.VehicleID, "station": req.StationID} {
		if !validation.IsValidID(id) {
			return nil, validationError("invalid %s id %q", name, id)
		}
	}
	if req.NewBatteryID != "" && !validation.IsValidID(req.NewBatteryID) {
		return nil, validationError("invalid battery id %q", req.NewBatteryID)
	}

	u, err := s.repo.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	v, err := s.repo.GetVehicle(ctx, req.VehicleID)
	if err != nil {
		return nil, err
	}
	if v.UserID != u.ID {
		return nil, validationError("vehicle %s does not belong to user %s", v.ID, u.ID)
	}
	if _, err := s.repo.GetStation(ctx, req.StationID); err != nil {
		return nil, err
	}

	sess := &model.SwapSession{
		ID:           s.newID(),
		Type:         model.SessionTypeWalkIn,
		Status:       model.SessionStatusCheckIn,
		StationID:    req.StationID,
		UserID:       u.ID,
		VehicleID:    v.ID,
		OldBatteryID: v.BatteryID,
	}
	if req.NewBatteryID != "" {
		if _, err := s.claimBattery(ctx, "", req.NewBatteryID, false); err != nil {
			return nil, err
		}
		newID := req.NewBatteryID
		sess.NewBatteryID = &newID
	}

	if err := s.repo.CreateSession(ctx, sess, nil); err != nil {
		return nil, err
	}
	return sess, nil
}

// claimBattery проверяет, что батарею можно закрепить за сессией sessionID.
// Батарея не должна принадлежать другой активной сессии. Чужая батарея должна
// быть свободна; батарея из бронирования (own) может быть уже зарезервирована.
func (s *Service) claimBattery(ctx context.Context, sessionID, batteryID string, own bool) (*model.Battery, error) {
	b, err := s.repo.GetBattery(ctx, batteryID)
	if err != nil {
		return nil, err
	}
	holder, err := optional(s.repo.GetActiveSessionByBattery(ctx, batteryID))
	if err != nil {
		return nil, err
	}
	if holder != nil && holder.ID != sessionID {
		return nil, fmt.Errorf("%w: battery %s, session %s", repository.ErrBatteryHeld, batteryID, holder.ID)
	}
	if !own && b.Status != model.BatteryStatusAvailable {
		return nil, fmt.Errorf("%w: battery %s is %s", ErrBatteryUnavailable, batteryID, b.Status)
	}
	return b, nil
}

// holdBattery резервирует батарею под сессию, если она свободна.
func (s *Service) holdBattery(ctx context.Context, id string) {
	b, err := s.repo.GetBattery(ctx, id)
	if err != nil {
		s.logger.Warn("failed to load battery for reservation", zap.String("batteryID", id), zap.Error(err))
		return
	}
	switch b.Status {
	case model.BatteryStatusReserved:
		return
	case model.BatteryStatusAvailable:
		if _, err := s.guard.Transition(ctx, b, model.BatteryStatusReserved); err != nil {
			s.logger.Warn("failed to reserve battery", zap.String("batteryID", id), zap.Error(err))
		}
	default:
		s.logger.Warn("battery is not available for reservation",
			zap.String("batteryID", id),
			zap.String("status", string(b.Status)),
		)
	}
}

// CheckBattery проверяет возвращённую батарею по коду. Если данных по коду нет,
// сессия не меняется и возвращается Diagnosis с Found == false.
func (s *Service) CheckBattery(ctx context.Context, sessionID, code string) (*Diagnosis, error) {
	if !validation.IsValidSessionID(sessionID) {
		return nil, validationError("invalid session id %q", sessionID)
	}
	code = validation.NormalizeBatteryCode(code)
	if !validation.IsValidBatteryCode(code) {
		return nil, validationError("invalid battery code %q", code)
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	next, err := sessionstate.Fire(sess.Status, sessionstate.EventDiagnosticSubmitted)
	if err != nil {
		return nil, err
	}

	battery, report, err := s.inspect(ctx, code)
	if err != nil {
		return nil, err
	}
	if battery == nil {
		return &Diagnosis{Found: false, Code: code, Step: sessionstate.ResumeStep(sess.Status), Session: sess}, nil
	}

	bt, err := s.repo.GetBatteryType(ctx, battery.BatteryTypeID)
	if err != nil {
		return nil, err
	}
	catalog, err := s.repo.ListDamageFees(ctx, model.DamageFeeFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.DamageFee, len(catalog))
	for _, f := range catalog {
		byID[f.ID] = f
	}
	internalFees := make([]model.DamageFee, 0, len(report.InternalFeeIDs))
	internalIDs := make([]string, 0, len(report.InternalFeeIDs))
	for _, id := range damage.Merge(report.InternalFeeIDs, nil) {
		f, ok := byID[id]
		if !ok {
			s.logger.Warn("diagnostics reported unknown damage fee", zap.String("feeID", id), zap.String("code", code))
			continue
		}
		internalFees = append(internalFees, f)
		internalIDs = append(internalIDs, id)
	}

	ins := &model.Inspection{
		SessionID:      sess.ID,
		BatteryID:      battery.ID,
		BatteryCode:    code,
		Variant:        bt.Variant,
		SOC:            report.SOC,
		Voltage:        report.Voltage,
		Temperature:    report.Temperature,
		CycleCount:     report.CycleCount,
		InternalFeeIDs: internalIDs,
		InspectedAt:    time.Now().UTC(),
	}
	oldID := battery.ID
	updated, err := s.repo.RecordInspection(ctx, repository.SessionChange{
		ID:           sess.ID,
		From:         sess.Status,
		To:           next,
		OldBatteryID: &oldID,
	}, ins)
	if err != nil {
		return nil, err
	}

	s.recordTransition(sess.Status, next)
	s.publish(ctx, notify.EventDiagnosed, updated)

	live := *battery
	live.SOC, live.Voltage, live.Temperature, live.CycleCount = report.SOC, report.Voltage, report.Temperature, report.CycleCount
	if report.CurrentCapacity > 0 {
		live.CurrentCapacity = report.CurrentCapacity
	}

	return &Diagnosis{
		Found:        true,
		Code:         code,
		Step:         sessionstate.ResumeStep(updated.Status),
		Session:      updated,
		Battery:      &live,
		Variant:      bt.Variant,
		InternalFees: internalFees,
		ExternalFees: damage.ApplicableExternal(catalog, bt.Variant),
	}, nil
}

// inspect возвращает батарею из инвентаря и её телеметрию. nil без ошибки
// означает, что по коду нет данных.
func (s *Service) inspect(ctx context.Context, code string) (*model.Battery, *diagnostics.Report, error) {
	var report *diagnostics.Report
	if s.diag != nil {
		r, err := s.diag.Inspect(ctx, code)
		if errors.Is(err, diagnostics.ErrNoData) {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		report = r
	}

	battery, err := optional(s.repo.GetBatteryByCode(ctx, code))
	if err != nil || battery == nil {
		return nil, nil, err
	}

	if report == nil {
		s.logger.Warn("diagnostics not configured, using inventory telemetry", zap.String("code", code))
		report = &diagnostics.Report{
			Code:            code,
			BatteryID:       battery.ID,
			SOC:             battery.SOC,
			Voltage:         battery.Voltage,
			Temperature:     battery.Temperature,
			CycleCount:      battery.CycleCount,
			CurrentCapacity: battery.CurrentCapacity,
		}
	}
	return battery, report, nil
}

// CalcDamage фиксирует выбранные дефекты и выставляет счёт. Повторный вызов
// после выставления счёта отклоняется.
func (s *Service) CalcDamage(ctx context.Context, sessionID string, feeIDs []string) (*Assessment, error) {
	if !validation.IsValidSessionID(sessionID) {
		return nil, validationError("invalid session id %q", sessionID)
	}
	for _, id := range feeIDs {
		if !validation.IsValidID(id) {
			return nil, validationError("invalid damage fee id %q", id)
		}
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.InvoiceID != nil {
		return nil, ErrAssessmentLocked
	}
	next, err := sessionstate.Fire(sess.Status, sessionstate.EventDamageCalculated)
	if err != nil {
		return nil, err
	}

	ins, err := s.repo.GetInspection(ctx, sess.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInspectionRequired
	}
	if err != nil {
		return nil, err
	}

	catalog, err := s.repo.ListDamageFees(ctx, model.DamageFeeFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	fees, err := damage.Assess(ins.InternalFeeIDs, feeIDs, catalog, ins.Variant)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	pricing, err := s.repo.GetServicePricing(ctx, sess.UserID, sess.StationID)
	if err != nil {
		return nil, err
	}
	amounts := invoice.Quote(*pricing)
	lines := invoice.Lines(fees, amounts.FeeDiscountBps)

	inv, err := invoice.Materialize(model.InvoiceTypeBooking, sess, amounts, lines)
	if err != nil {
		return nil, err
	}
	inv.ID = s.newID()
	for i := range lines {
		lines[i].ID = s.newID()
		lines[i].InvoiceID = inv.ID
	}

	updated, err := s.repo.CreateInvoice(ctx, repository.SessionChange{
		ID:   sess.ID,
		From: sess.Status,
		To:   next,
	}, inv, lines)
	if err != nil {
		return nil, err
	}

	metrics.InvoiceTotal.Observe(float64(inv.AmountTotal))
	s.recordTransition(sess.Status, next)
	s.publish(ctx, notify.EventInvoiced, updated)
	s.logger.Info("invoice issued",
		zap.String("sessionID", sess.ID),
		zap.String("invoiceID", inv.ID),
		zap.Int64("total", inv.AmountTotal),
		zap.Int("damageLines", len(lines)),
	)

	return &Assessment{
		Step:    sessionstate.ResumeStep(updated.Status),
		Session: updated,
		Invoice: inv,
		Lines:   lines,
	}, nil
}

// ConfirmInstallation фиксирует установку новой батареи. Возвращённая батарея
// уходит на зарядку или в неисправные; ошибка при этом только логируется.
func (s *Service) ConfirmInstallation(ctx context.Context, sessionID, newBatteryID string) (*Installation, error) {
	if !validation.IsValidSessionID(sessionID) {
		return nil, validationError("invalid session id %q", sessionID)
	}
	if newBatteryID != "" && !validation.IsValidID(newBatteryID) {
		return nil, validationError("invalid battery id %q", newBatteryID)
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	next, err := sessionstate.Fire(sess.Status, sessionstate.EventInstallationConfirmed)
	if err != nil {
		return nil, err
	}

	id := newBatteryID
	switch {
	case sess.NewBatteryID != nil && id != "" && id != *sess.NewBatteryID:
		return nil, validationError("battery %s differs from reserved battery %s", id, *sess.NewBatteryID)
	case sess.NewBatteryID != nil:
		id = *sess.NewBatteryID
	case id == "":
		return nil, validationError("new battery id is required")
	}
	if sess.OldBatteryID != nil && *sess.OldBatteryID == id {
		return nil, validationError("new battery %s is the returned battery", id)
	}

	nb, err := s.claimBattery(ctx, sess.ID, id, sess.NewBatteryID != nil)
	if err != nil {
		return nil, err
	}
	installed, err := s.guard.Transition(ctx, nb, model.BatteryStatusInUse)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.AdvanceSession(ctx, repository.SessionChange{
		ID:           sess.ID,
		From:         sess.Status,
		To:           next,
		NewBatteryID: &id,
	})
	if err != nil {
		if _, relErr := s.guard.Release(ctx, installed); relErr != nil {
			metrics.UnwindFailures.Inc()
			s.logger.Error("failed to release battery after lost session update",
				zap.String("sessionID", sess.ID),
				zap.String("batteryID", id),
				zap.Error(relErr),
			)
		}
		return nil, err
	}

	result := &Installation{Session: updated, NewBattery: installed}
	if sess.OldBatteryID != nil {
		old, warn := s.retireOldBattery(ctx, sess.ID, *sess.OldBatteryID)
		result.OldBattery = old
		if warn != "" {
			result.Warnings = append(result.Warnings, warn)
		}
	}
	result.Step = sessionstate.ResumeStep(updated.Status)

	s.recordTransition(sess.Status, next)
	s.publish(ctx, notify.EventInstallationConfirmed, updated)
	return result, nil
}

// retireOldBattery переводит возвращённую батарею в faulty при внутренних
// дефектах, иначе в in_charged.
func (s *Service) retireOldBattery(ctx context.Context, sessionID, batteryID string) (*model.Battery, string) {
	ob, err := s.repo.GetBattery(ctx, batteryID)
	if err != nil {
		s.logger.Warn("failed to load returned battery", zap.String("batteryID", batteryID), zap.Error(err))
		return nil, fmt.Sprintf("returned battery %s: %v", batteryID, err)
	}

	target := model.BatteryStatusInCharged
	ins, err := optional(s.repo.GetInspection(ctx, sessionID))
	if err != nil {
		s.logger.Warn("failed to load inspection", zap.String("sessionID", sessionID), zap.Error(err))
	}
	if ins != nil && len(ins.InternalFeeIDs) > 0 {
		target = model.BatteryStatusFaulty
	}
	if ob.Status == target {
		return ob, ""
	}

	moved, err := s.guard.Transition(ctx, ob, target)
	if err != nil {
		s.logger.Warn("failed to move returned battery",
			zap.String("batteryID", batteryID),
			zap.String("target", string(target)),
			zap.Error(err),
		)
		return ob, fmt.Sprintf("returned battery %s: %v", batteryID, err)
	}
	return moved, ""
}

// Pay фиксирует оплату счёта и завершает сессию и бронирование одной транзакцией.
func (s *Service) Pay(ctx context.Context, sessionID string) (*Settlement, error) {
	if !validation.IsValidSessionID(sessionID) {
		return nil, validationError("invalid session id %q", sessionID)
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	next, err := sessionstate.Fire(sess.Status, sessionstate.EventPaymentSettled)
	if err != nil {
		return nil, err
	}
	if sess.InvoiceID == nil {
		return nil, ErrInvoiceRequired
	}
	inv, _, err := s.repo.GetInvoice(ctx, *sess.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != model.InvoiceStatusProcessing {
		return nil, ErrInvoiceClosed
	}

	var bc *repository.BookingChange
	if sess.BookingID != nil {
		b, err := s.repo.GetBooking(ctx, *sess.BookingID)
		if err != nil {
			return nil, err
		}
		if done, err := booking.OnSessionEvent(booking.EventCompleted, b); err == nil {
			bc = &repository.BookingChange{ID: b.ID, From: b.Status, To: done.Status}
		} else {
			s.logger.Warn("booking left unchanged on payment",
				zap.String("bookingID", b.ID),
				zap.String("status", string(b.Status)),
			)
		}
	}

	updated, err := s.repo.SettlePayment(ctx,
		repository.SessionChange{ID: sess.ID, From: sess.Status, To: next},
		repository.InvoiceChange{ID: inv.ID, From: inv.Status, To: model.InvoiceStatusPaid},
		bc,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = model.InvoiceStatusPaid

	s.recordTransition(sess.Status, next)
	s.publish(ctx, notify.EventPaid, updated)
	s.logger.Info("session completed",
		zap.String("sessionID", sess.ID),
		zap.String("invoiceID", inv.ID),
		zap.Int64("total", inv.AmountTotal),
	)

	return &Settlement{Step: sessionstate.ResumeStep(updated.Status), Session: updated, Invoice: inv}, nil
}

// Cancel отменяет активную сессию. Сессия, счёт и бронирование меняются одной
// транзакцией; затем новая батарея возвращается в available. Ошибки возврата
// попадают в Warnings и не отменяют результат.
func (s *Service) Cancel(ctx context.Context, sessionID string) (*CancelReport, error) {
	if !validation.IsValidSessionID(sessionID) {
		return nil, validationError("invalid session id %q", sessionID)
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	next, err := sessionstate.Fire(sess.Status, sessionstate.EventCancelled)
	if err != nil {
		return nil, err
	}

	report := &CancelReport{}
	warn := func(msg string) {
		metrics.UnwindFailures.Inc()
		s.logger.Warn("cancel unwind failed", zap.String("sessionID", sess.ID), zap.String("reason", msg))
		report.Warnings = append(report.Warnings, msg)
	}

	// чтение связанных записей тоже часть отката: ошибка не мешает отмене
	var bc *repository.BookingChange
	if sess.BookingID != nil {
		b, err := optional(s.repo.GetBooking(ctx, *sess.BookingID))
		switch {
		case err != nil:
			warn(fmt.Sprintf("booking %s: %v", *sess.BookingID, err))
		case b == nil:
			warn(fmt.Sprintf("booking %s not found", *sess.BookingID))
		default:
			if to, ok := booking.CancelTarget(b.Status); ok {
				bc = &repository.BookingChange{ID: b.ID, From: b.Status, To: to}
			}
		}
	}

	var ic *repository.InvoiceChange
	if sess.InvoiceID != nil {
		inv, _, err := s.repo.GetInvoice(ctx, *sess.InvoiceID)
		switch {
		case err != nil:
			warn(fmt.Sprintf("invoice %s: %v", *sess.InvoiceID, err))
		case inv.Status == model.InvoiceStatusProcessing:
			ic = &repository.InvoiceChange{ID: inv.ID, From: inv.Status, To: model.InvoiceStatusCancelled}
		}
	}

	updated, err := s.repo.CancelSession(ctx, repository.SessionChange{ID: sess.ID, From: sess.Status, To: next}, ic, bc)
	if err != nil {
		return nil, err
	}
	report.Session = updated

	if sess.NewBatteryID != nil {
		released, msg := s.releaseNewBattery(ctx, sess, *sess.NewBatteryID)
		if msg != "" {
			report.Warnings = append(report.Warnings, msg)
			metrics.UnwindFailures.Inc()
		}
		if released {
			report.ReleasedBatteries = append(report.ReleasedBatteries, *sess.NewBatteryID)
		}
	}

	metrics.SessionCancellations.WithLabelValues(string(sess.Status)).Inc()
	s.recordTransition(sess.Status, next)
	s.publish(ctx, notify.EventCancelled, updated)
	s.logger.Info("session cancelled",
		zap.String("sessionID", sess.ID),
		zap.String("from", string(sess.Status)),
		zap.Int("warnings", len(report.Warnings)),
	)

	return report, nil
}

// releaseNewBattery возвращает в available батарею, зарезервированную или
// установленную этой сессией. Батарею, закреплённую за другой активной
// сессией, не трогает. При ошибке возвращает текст предупреждения.
func (s *Service) releaseNewBattery(ctx context.Context, sess *model.SwapSession, id string) (bool, string) {
	b, err := s.repo.GetBattery(ctx, id)
	if err != nil {
		s.logger.Warn("failed to load battery for release", zap.String("batteryID", id), zap.Error(err))
		return false, fmt.Sprintf("battery %s: %v", id, err)
	}

	holder, err := optional(s.repo.GetActiveSessionByBattery(ctx, id))
	if err != nil {
		s.logger.Warn("failed to check battery holder", zap.String("batteryID", id), zap.Error(err))
		return false, fmt.Sprintf("battery %s: %v", id, err)
	}
	if holder != nil && holder.ID != sess.ID {
		s.logger.Info("battery kept for another session",
			zap.String("batteryID", id),
			zap.String("holderID", holder.ID),
		)
		return false, ""
	}

	switch {
	case b.Status == model.BatteryStatusReserved:
	case b.Status == model.BatteryStatusInUse && sess.Status == model.SessionStatusPay:
	default:
		return false, ""
	}

	if _, err := s.guard.Release(ctx, b); err != nil {
		s.logger.Warn("failed to release battery",
			zap.String("sessionID", sess.ID),
			zap.String("batteryID", id),
			zap.Error(err),
		)
		return false, fmt.Sprintf("battery %s: %v", id, err)
	}
	return true, ""
}
