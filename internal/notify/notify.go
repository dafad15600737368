// Package notify публикует события сессий замены для внешних наблюдателей
// (счётчики уведомлений, табло станции).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/swapstation/internal/model"
)

// DefaultChannel — канал Redis для событий сессий.
const DefaultChannel = "swapstation:sessions"

// EventType описывает вид события сессии.
type EventType string

const (
	EventCheckedIn             EventType = "checked_in"
	EventDiagnosed             EventType = "diagnosed"
	EventInvoiced              EventType = "invoiced"
	EventInstallationConfirmed EventType = "installation_confirmed"
	EventPaid                  EventType = "paid"
	EventCancelled             EventType = "cancelled"
)

// Event — сообщение о продвижении сессии.
type Event struct {
	Type      EventType           `json:"type"`
	SessionID string              `json:"sessionId"`
	BookingID *string             `json:"bookingId,omitempty"`
	StationID string              `json:"stationId"`
	Status    model.SessionStatus `json:"status"`
	At        time.Time           `json:"at"`
}

// NewEvent собирает событие из текущего состояния сессии.
func NewEvent(typ EventType, s *model.SwapSession) Event {
	return Event{
		Type:      typ,
		SessionID: s.ID,
		BookingID: s.BookingID,
		StationID: s.StationID,
		Status:    s.Status,
		At:        time.Now().UTC(),
	}
}

// Nop не публикует ничего.
type Nop struct{}

// Publish ничего не делает.
func (Nop) Publish(context.Context, Event) error { return nil }

// RedisPublisher публикует события в канал Redis Pub/Sub.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher подключается к Redis по URL и проверяет соединение.
func NewRedisPublisher(ctx context.Context, url, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if channel == "" {
		channel = DefaultChannel
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPublisher{client: client, channel: channel}, nil
}

// Publish отправляет событие в канал. Станционный канал получает копию.
func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	if evt.StationID != "" {
		pipe.Publish(ctx, StationChannel(p.channel, evt.StationID), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// StationChannel возвращает канал событий конкретной станции.
func StationChannel(base, stationID string) string {
	return fmt.Sprintf("%s:station:%s", base, stationID)
}
