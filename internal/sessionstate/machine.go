// Package sessionstate описывает конечный автомат сессии замены батареи.
package sessionstate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmeshcher/swapstation/internal/model"
)

// ErrInvalidTransition возвращается при событии, недопустимом в текущем статусе сессии.
var ErrInvalidTransition = errors.New("invalid swap session transition")

const inProgressPrefix = "in-progress:"

// Substate — разобранный статус сессии.
type Substate int

const (
	Unknown Substate = iota
	CheckIn
	CheckPin
	CalcDamage
	Confirm
	Pay
	Completed
	Cancelled
)

var substateNames = map[Substate]string{
	CheckIn:    "check-in",
	CheckPin:   "check-pin",
	CalcDamage: "calc-damage",
	Confirm:    "confirm",
	Pay:        "pay",
}

func (s Substate) String() string {
	switch s {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	if name, ok := substateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Parse разбирает строковый статус. Нераспознанные значения дают Unknown.
func Parse(status model.SessionStatus) Substate {
	raw := string(status)
	switch raw {
	case string(model.SessionStatusCompleted):
		return Completed
	case string(model.SessionStatusCancelled):
		return Cancelled
	}
	if !strings.HasPrefix(raw, inProgressPrefix) {
		return Unknown
	}
	name := strings.TrimPrefix(raw, inProgressPrefix)
	for s, n := range substateNames {
		if n == name {
			return s
		}
	}
	return Unknown
}

// Encode возвращает строковый статус для подстатуса.
func Encode(s Substate) (model.SessionStatus, error) {
	switch s {
	case Completed:
		return model.SessionStatusCompleted, nil
	case Cancelled:
		return model.SessionStatusCancelled, nil
	}
	name, ok := substateNames[s]
	if !ok {
		return "", fmt.Errorf("encode substate %d: unknown", int(s))
	}
	return model.SessionStatus(inProgressPrefix + name), nil
}

// ResumeStep возвращает шаг мастера, на который нужно вернуть оператора
// для сохранённого статуса. Всё, чего нет в таблице, даёт шаг 0.
func ResumeStep(status model.SessionStatus) int {
	switch status {
	case model.SessionStatusCheckIn, model.SessionStatusCalcDamage:
		return 1
	case model.SessionStatusConfirm:
		return 2
	case model.SessionStatusPay, model.SessionStatusCompleted:
		return 3
	default:
		return 0
	}
}

// IsTerminal сообщает, что сессия завершена или отменена.
func IsTerminal(status model.SessionStatus) bool {
	s := Parse(status)
	return s == Completed || s == Cancelled
}

// IsActive сообщает, что сессия находится в одном из подстатусов "in-progress".
func IsActive(status model.SessionStatus) bool {
	switch Parse(status) {
	case CheckIn, CheckPin, CalcDamage, Confirm, Pay:
		return true
	}
	return false
}

// Event — событие продвижения сессии.
type Event string

const (
	EventDiagnosticSubmitted   Event = "diagnostic_submitted"
	EventDamageCalculated      Event = "damage_calculated"
	EventInstallationConfirmed Event = "installation_confirmed"
	EventPaymentSettled        Event = "payment_settled"
	EventCancelled             Event = "cancelled"
)

type edge struct {
	from  Substate
	event Event
}

// transitions — допустимые переходы. Отмена обрабатывается отдельно.
// Повторная диагностика в calc-damage перезаписывает результат осмотра.
var transitions = map[edge]Substate{
	{CheckIn, EventDiagnosticSubmitted}:    CalcDamage,
	{CheckPin, EventDiagnosticSubmitted}:   CalcDamage,
	{CalcDamage, EventDiagnosticSubmitted}: CalcDamage,
	{CalcDamage, EventDamageCalculated}:    Confirm,
	{Confirm, EventInstallationConfirmed}:  Pay,
	{Pay, EventPaymentSettled}:             Completed,
}

// Fire вычисляет следующий статус сессии для события.
func Fire(current model.SessionStatus, ev Event) (model.SessionStatus, error) {
	from := Parse(current)

	if ev == EventCancelled {
		if !IsActive(current) {
			return current, fmt.Errorf("%w: cannot cancel session in %q", ErrInvalidTransition, current)
		}
		return model.SessionStatusCancelled, nil
	}

	to, ok := transitions[edge{from, ev}]
	if !ok {
		return current, fmt.Errorf("%w: %s not allowed in %q", ErrInvalidTransition, ev, current)
	}
	return Encode(to)
}
