package ws

import (
	"context"

	"github.com/mahdimonir/professionals-bd-sub001/internal/events"
)

// Sink доставляет пользовательские уведомления в открытые WebSocket соединения.
type Sink struct {
	hub *Hub
}

// NewSink создаёт канал доставки поверх хаба.
func NewSink(hub *Hub) *Sink {
	return &Sink{hub: hub}
}

func (s *Sink) Name() string { return "ws" }

// Deliver реализует events.Sink. Административные уведомления в WebSocket не уходят.
func (s *Sink) Deliver(ctx context.Context, msg events.Message) error {
	if msg.Audience != events.AudienceUser || s.hub.Connected(msg.UserID) == 0 {
		return nil
	}
	return s.hub.BroadcastToUser(ctx, msg.UserID, string(msg.Kind), msg.Data)
}
