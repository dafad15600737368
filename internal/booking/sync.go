// Package booking синхронизирует статус бронирования с событиями сессии замены.
package booking

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/swapstation/internal/model"
)

// ErrInvalidTransition возвращается, если событие не может изменить бронирование.
var ErrInvalidTransition = errors.New("invalid booking transition")

// Event — событие сессии, влияющее на бронирование.
type Event string

const (
	EventCheckedIn Event = "checked_in"
	EventCompleted Event = "completed"
	EventCancelled Event = "cancelled"
)

var transitions = map[Event]struct {
	from model.BookingStatus
	to   model.BookingStatus
}{
	EventCheckedIn: {model.BookingStatusScheduled, model.BookingStatusInProgress},
	EventCompleted: {model.BookingStatusInProgress, model.BookingStatusCompleted},
	EventCancelled: {model.BookingStatusInProgress, model.BookingStatusCanceled},
}

// IsTerminal сообщает, что бронирование больше не меняется.
func IsTerminal(s model.BookingStatus) bool {
	switch s {
	case model.BookingStatusCompleted, model.BookingStatusCanceled, model.BookingStatusMissed:
		return true
	}
	return false
}

// Next возвращает статус бронирования после события.
func Next(ev Event, current model.BookingStatus) (model.BookingStatus, error) {
	tr, ok := transitions[ev]
	if !ok {
		return current, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}
	if current != tr.from {
		return current, fmt.Errorf("%w: %s in status %q", ErrInvalidTransition, ev, current)
	}
	return tr.to, nil
}

// OnSessionEvent возвращает копию бронирования в новом статусе.
func OnSessionEvent(ev Event, b *model.Booking) (*model.Booking, error) {
	if b == nil {
		return nil, errors.New("booking is nil")
	}
	to, err := Next(ev, b.Status)
	if err != nil {
		return b, err
	}
	updated := *b
	updated.Status = to
	return &updated, nil
}

// CancelTarget возвращает статус для отмены сессии. Если бронирование уже не
// в работе (например, missed), его статус не трогаем: ok = false.
func CancelTarget(current model.BookingStatus) (model.BookingStatus, bool) {
	to, err := Next(EventCancelled, current)
	if err != nil {
		return current, false
	}
	return to, true
}
