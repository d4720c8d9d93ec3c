// Package events доставляет уведомления участникам вне транзакций бронирования.
// Отправка никогда не блокирует и не откатывает бизнес-операцию.
package events

import (
	"context"

	"github.com/google/uuid"
)

// Kind - тип уведомления.
type Kind string

const (
	KindBookingConfirmed     Kind = "booking-confirmed"
	KindBookingStatusChanged Kind = "booking-status-changed"
	KindBookingRescheduled   Kind = "booking-rescheduled"
	KindDisputeRaised        Kind = "dispute-raised"
	KindDisputeResolved      Kind = "dispute-resolved"
)

// Audience определяет канал получателя.
type Audience string

const (
	// AudienceUser - конкретный пользователь из Message.UserID.
	AudienceUser Audience = "user"
	// AudienceAdmins - общий канал модераторов и администраторов.
	AudienceAdmins Audience = "admins"
)

// Message - одно уведомление.
type Message struct {
	Kind     Kind           `json:"kind"`
	Audience Audience       `json:"audience"`
	UserID   uuid.UUID      `json:"user_id,omitempty"`
	Data     map[string]any `json:"data"`
}

// ToUser создаёт уведомление конкретному пользователю.
func ToUser(kind Kind, userID uuid.UUID, data map[string]any) Message {
	return Message{Kind: kind, Audience: AudienceUser, UserID: userID, Data: data}
}

// ToAdmins создаёт уведомление в административный канал.
func ToAdmins(kind Kind, data map[string]any) Message {
	return Message{Kind: kind, Audience: AudienceAdmins, Data: data}
}

// Sink - один канал доставки.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// Notifier принимает уведомления без возврата ошибки.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Nop отбрасывает уведомления.
type Nop struct{}

func (Nop) Notify(context.Context, Message) {}
