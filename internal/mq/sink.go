package mq

import (
	"context"
	"fmt"

	"github.com/mahdimonir/professionals-bd-sub001/internal/events"
)

// JSONPublisher - то, что нужно каналу уведомлений от издателя.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// Sink отправляет уведомления в брокер, откуда их забирает почтовый сервис.
type Sink struct {
	pub JSONPublisher
}

// NewSink создаёт канал доставки через брокер.
func NewSink(pub JSONPublisher) *Sink {
	return &Sink{pub: pub}
}

func (s *Sink) Name() string { return "rabbitmq" }

// Deliver публикует сообщение с ключом notify.<audience>.<kind>.
func (s *Sink) Deliver(ctx context.Context, msg events.Message) error {
	return s.pub.PublishJSON(ctx, RoutingKey(msg), msg)
}

// RoutingKey возвращает ключ маршрутизации уведомления.
func RoutingKey(msg events.Message) string {
	return fmt.Sprintf("notify.%s.%s", msg.Audience, msg.Kind)
}
