package service

import (
	"context"

	"github.com/mmeshcher/swapstation/internal/batterystatus"
	"github.com/mmeshcher/swapstation/internal/model"
	"github.com/mmeshcher/swapstation/internal/validation"
)

// StatusOptions — текущий статус батареи и статусы, доступные оператору.
type StatusOptions struct {
	Battery *model.Battery        `json:"battery"`
	Options []model.BatteryStatus `json:"options"`
}

func isKnownBatteryStatus(st model.BatteryStatus) bool {
	for _, v := range model.BatteryStatuses {
		if v == st {
			return true
		}
	}
	return false
}

// BatteryStatusOptions возвращает варианты смены статуса для батареи.
func (s *Service) BatteryStatusOptions(ctx context.Context, batteryID string) (*StatusOptions, error) {
	if !validation.IsValidID(batteryID) {
		return nil, validationError("invalid battery id %q", batteryID)
	}
	b, err := s.repo.GetBattery(ctx, batteryID)
	if err != nil {
		return nil, err
	}
	return &StatusOptions{Battery: b, Options: batterystatus.Options(b.Status)}, nil
}

// TransitionBattery вручную меняет статус батареи по таблице переходов.
func (s *Service) TransitionBattery(ctx context.Context, batteryID string, to model.BatteryStatus) (*model.Battery, error) {
	if !validation.IsValidID(batteryID) {
		return nil, validationError("invalid battery id %q", batteryID)
	}
	if !isKnownBatteryStatus(to) {
		return nil, validationError("unknown battery status %q", to)
	}
	b, err := s.repo.GetBattery(ctx, batteryID)
	if err != nil {
		return nil, err
	}
	return s.guard.Transition(ctx, b, to)
}

// ListDamageFees возвращает активные позиции каталога дефектов.
func (s *Service) ListDamageFees(ctx context.Context, feeType model.DamageFeeType, variant string) ([]model.DamageFee, error) {
	switch feeType {
	case "", model.DamageFeeInternal, model.DamageFeeExternal:
	default:
		return nil, validationError("unknown damage fee type %q", feeType)
	}
	return s.repo.ListDamageFees(ctx, model.DamageFeeFilter{Type: feeType, Variant: variant, ActiveOnly: true})
}
