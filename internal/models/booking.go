package models

import (
	"time"

	"github.com/google/uuid"
)

// Booking описывает бронирование консультации.
type Booking struct {
	ID                 uuid.UUID     `db:"id" json:"id"`
	UserID             uuid.UUID     `db:"user_id" json:"user_id"`
	ProfessionalID     uuid.UUID     `db:"professional_id" json:"professional_id"`
	StartTime          time.Time     `db:"start_time" json:"start_time"`
	EndTime            time.Time     `db:"end_time" json:"end_time"`
	Price              float64       `db:"price" json:"price"`
	Status             BookingStatus `db:"status" json:"status"`
	Notes              *string       `db:"notes" json:"notes,omitempty"`
	CancellationReason *string       `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID    `db:"cancelled_by" json:"cancelled_by,omitempty"`
	HoldRefreshes      int           `db:"hold_refreshes" json:"-"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// IsParticipant сообщает, является ли пользователь клиентом или специалистом бронирования.
func (b *Booking) IsParticipant(userID uuid.UUID) bool {
	return b.UserID == userID || b.ProfessionalID == userID
}

// HoldExpired сообщает, истекло ли удержание PENDING-брони.
func (b *Booking) HoldExpired(now time.Time, hold time.Duration) bool {
	return now.Sub(b.CreatedAt) > hold
}

// IsLive сообщает, блокирует ли бронь свой интервал для других.
func (b *Booking) IsLive(now time.Time, hold time.Duration) bool {
	switch b.Status {
	case BookingStatusConfirmed, BookingStatusPaid, BookingStatusCompleted:
		return true
	case BookingStatusPending:
		return !b.HoldExpired(now, hold)
	default:
		return false
	}
}

// Overlaps проверяет пересечение полуоткрытых интервалов [start, end).
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && b.EndTime.After(start)
}

// Duration возвращает длительность бронирования.
func (b *Booking) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}
