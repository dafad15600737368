// Package batterystatus проверяет и применяет переходы складского статуса батареи.
package batterystatus

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/swapstation/internal/metrics"
	"github.com/mmeshcher/swapstation/internal/model"
)

// ErrInvalidTransition возвращается, если целевого статуса нет в таблице переходов.
var ErrInvalidTransition = errors.New("invalid battery status transition")

// allowedTransitions — таблица допустимых переходов. Переход в тот же статус не разрешён.
var allowedTransitions = map[model.BatteryStatus][]model.BatteryStatus{
	model.BatteryStatusAvailable: {model.BatteryStatusInUse, model.BatteryStatusInTransit, model.BatteryStatusFaulty, model.BatteryStatusReserved},
	model.BatteryStatusInUse:     {model.BatteryStatusInCharged, model.BatteryStatusFaulty},
	model.BatteryStatusInCharged: {model.BatteryStatusAvailable, model.BatteryStatusFaulty},
	model.BatteryStatusInTransit: {model.BatteryStatusAvailable, model.BatteryStatusFaulty},
	model.BatteryStatusFaulty:    {model.BatteryStatusAvailable},
	model.BatteryStatusReserved:  {model.BatteryStatusAvailable, model.BatteryStatusInUse, model.BatteryStatusFaulty},
}

// CanTransition сообщает, допустим ли переход from -> to.
func CanTransition(from, to model.BatteryStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTargets возвращает копию списка допустимых целевых статусов.
func AllowedTargets(from model.BatteryStatus) []model.BatteryStatus {
	targets := allowedTransitions[from]
	out := make([]model.BatteryStatus, len(targets))
	copy(out, targets)
	return out
}

// Options возвращает варианты выбора статуса для оператора: текущий статус
// (без изменения) и затем допустимые целевые статусы.
func Options(current model.BatteryStatus) []model.BatteryStatus {
	return append([]model.BatteryStatus{current}, AllowedTargets(current)...)
}

// PathTo ищет кратчайшую цепочку допустимых переходов от from к to (без from).
// Пустой результат при from == to; nil, если пути нет.
func PathTo(from, to model.BatteryStatus) []model.BatteryStatus {
	if from == to {
		return []model.BatteryStatus{}
	}

	prev := map[model.BatteryStatus]model.BatteryStatus{from: from}
	queue := []model.BatteryStatus{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range allowedTransitions[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []model.BatteryStatus
				for s := to; s != from; s = prev[s] {
					path = append([]model.BatteryStatus{s}, path...)
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// TransitionError описывает отклонённый переход.
type TransitionError struct {
	BatteryID string
	From      model.BatteryStatus
	To        model.BatteryStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("battery %s: %s -> %s not allowed", e.BatteryID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Store атомарно меняет статус батареи, если текущий статус в хранилище равен from.
type Store interface {
	CompareAndSetBatteryStatus(ctx context.Context, id string, from, to model.BatteryStatus) error
}

// Guard применяет переходы статуса батареи через хранилище.
type Guard struct {
	store  Store
	logger *zap.Logger
}

// NewGuard создаёт новый Guard.
func NewGuard(store Store, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{store: store, logger: logger}
}

// Transition переводит батарею в статус to. При ошибке возвращается исходная
// батарея без изменений.
func (g *Guard) Transition(ctx context.Context, b *model.Battery, to model.BatteryStatus) (*model.Battery, error) {
	if b == nil {
		return nil, errors.New("battery is nil")
	}
	if !CanTransition(b.Status, to) {
		metrics.BatteryTransitions.WithLabelValues(string(b.Status), string(to), "rejected").Inc()
		return b, &TransitionError{BatteryID: b.ID, From: b.Status, To: to}
	}

	if err := g.store.CompareAndSetBatteryStatus(ctx, b.ID, b.Status, to); err != nil {
		metrics.BatteryTransitions.WithLabelValues(string(b.Status), string(to), "error").Inc()
		return b, fmt.Errorf("set battery %s status: %w", b.ID, err)
	}
	metrics.BatteryTransitions.WithLabelValues(string(b.Status), string(to), "ok").Inc()

	g.logger.Info("battery status changed",
		zap.String("batteryID", b.ID),
		zap.String("from", string(b.Status)),
		zap.String("to", string(to)),
	)

	updated := *b
	updated.Status = to
	return &updated, nil
}

// Release возвращает батарею в available по кратчайшему допустимому пути.
// Каждый шаг — отдельный атомарный переход.
func (g *Guard) Release(ctx context.Context, b *model.Battery) (*model.Battery, error) {
	if b == nil {
		return nil, errors.New("battery is nil")
	}
	path := PathTo(b.Status, model.BatteryStatusAvailable)
	if path == nil {
		return b, &TransitionError{BatteryID: b.ID, From: b.Status, To: model.BatteryStatusAvailable}
	}

	cur := b
	for _, step := range path {
		next, err := g.Transition(ctx, cur, step)
		if err != nil {
			return cur, err
		}
		cur = next
	}
	return cur, nil
}
