// Package damage объединяет автоматически обнаруженные и выбранные оператором дефекты батареи.
package damage

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/swapstation/internal/model"
)

var (
	// ErrUnknownFee возвращается, если идентификатор дефекта отсутствует в каталоге или неактивен.
	ErrUnknownFee = errors.New("unknown damage fee")
	// ErrNotApplicable возвращается, если внешний дефект не подходит к химии осмотренной батареи.
	ErrNotApplicable = errors.New("damage fee not applicable to battery variant")
	// ErrNotSelectable возвращается, если оператор выбрал внутренний дефект, которого не обнаружила диагностика.
	ErrNotSelectable = errors.New("internal damage fee was not detected")
)

// Applicable сообщает, подходит ли позиция каталога к химическому семейству батареи.
// Позиции без ограничения по семейству подходят всегда.
func Applicable(fee model.DamageFee, variant string) bool {
	return fee.Variant == nil || *fee.Variant == variant
}

// ApplicableExternal отбирает активные внешние дефекты, доступные для батареи данного семейства.
func ApplicableExternal(catalog []model.DamageFee, variant string) []model.DamageFee {
	out := make([]model.DamageFee, 0, len(catalog))
	for _, f := range catalog {
		if f.Type != model.DamageFeeExternal || !f.Active {
			continue
		}
		if Applicable(f, variant) {
			out = append(out, f)
		}
	}
	return out
}

// Selection — набор выбранных дефектов. Внутренние дефекты включены всегда
// и не снимаются; внешние переключаются как флажки.
type Selection struct {
	internal map[string]struct{}
	selected map[string]struct{}
	order    []string
}

// NewSelection создаёт набор, в который уже включены внутренние дефекты.
func NewSelection(internalIDs []string) *Selection {
	s := &Selection{
		internal: make(map[string]struct{}, len(internalIDs)),
		selected: make(map[string]struct{}, len(internalIDs)),
	}
	for _, id := range internalIDs {
		s.internal[id] = struct{}{}
		s.add(id)
	}
	return s
}

func (s *Selection) add(id string) {
	if _, ok := s.selected[id]; ok {
		return
	}
	s.selected[id] = struct{}{}
	s.order = append(s.order, id)
}

// Add включает дефект в набор. Повторное добавление ничего не меняет.
func (s *Selection) Add(id string) {
	s.add(id)
}

// Toggle переключает внешний дефект и возвращает, выбран ли он теперь.
// Внутренние дефекты остаются выбранными.
func (s *Selection) Toggle(id string) bool {
	if _, ok := s.internal[id]; ok {
		return true
	}
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return false
	}
	s.add(id)
	return true
}

// Contains сообщает, выбран ли дефект.
func (s *Selection) Contains(id string) bool {
	_, ok := s.selected[id]
	return ok
}

// IDs возвращает выбранные идентификаторы: сначала внутренние, затем внешние в порядке выбора.
func (s *Selection) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Merge объединяет внутренние дефекты с выбором оператора без повторов.
func Merge(internalIDs, selectedIDs []string) []string {
	sel := NewSelection(internalIDs)
	for _, id := range selectedIDs {
		sel.Add(id)
	}
	return sel.IDs()
}

// Resolve сопоставляет идентификаторы с каталогом. Внешние дефекты проверяются
// на соответствие семейству батареи; внутренние принимаются как есть.
func Resolve(ids []string, catalog []model.DamageFee, variant string) ([]model.DamageFee, error) {
	byID := make(map[string]model.DamageFee, len(catalog))
	for _, f := range catalog {
		byID[f.ID] = f
	}

	out := make([]model.DamageFee, 0, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok || !f.Active {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFee, id)
		}
		if f.Type == model.DamageFeeExternal && !Applicable(f, variant) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrNotApplicable, id, variant)
		}
		out = append(out, f)
	}
	return out, nil
}

// Assess формирует окончательный список дефектов: все обнаруженные внутренние
// плюс выбранные оператором внешние, без повторов.
func Assess(internalIDs, selectedIDs []string, catalog []model.DamageFee, variant string) ([]model.DamageFee, error) {
	types := make(map[string]model.DamageFeeType, len(catalog))
	for _, f := range catalog {
		types[f.ID] = f.Type
	}

	sel := NewSelection(internalIDs)
	for _, id := range selectedIDs {
		if !sel.Contains(id) && types[id] == model.DamageFeeInternal {
			return nil, fmt.Errorf("%w: %s", ErrNotSelectable, id)
		}
		sel.Add(id)
	}

	return Resolve(sel.IDs(), catalog, variant)
}
