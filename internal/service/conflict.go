package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository"
)

// DefaultHoldWindow - сколько PENDING-бронь удерживает интервал без оплаты.
const DefaultHoldWindow = 15 * time.Minute

// ConflictResolver решает, занят ли интервал специалиста живой бронью.
// Живость PENDING-брони вычисляется относительно текущего момента при каждой проверке.
type ConflictResolver struct {
	bookings BookingRepository
	hold     time.Duration
	now      func() time.Time
}

// NewConflictResolver создаёт резолвер.
func NewConflictResolver(bookings BookingRepository, hold time.Duration) *ConflictResolver {
	if hold <= 0 {
		hold = DefaultHoldWindow
	}
	return &ConflictResolver{bookings: bookings, hold: hold, now: time.Now}
}

// WithClock подменяет источник текущего времени.
func (r *ConflictResolver) WithClock(now func() time.Time) *ConflictResolver {
	r.now = now
	return r
}

// Hold возвращает окно удержания.
func (r *ConflictResolver) Hold() time.Duration {
	return r.hold
}

// Now возвращает текущий момент по часам резолвера.
func (r *ConflictResolver) Now() time.Time {
	return r.now()
}

// HasConflict проверяет пересечение [start, end) с живыми бронями специалиста.
// Вызывается внутри транзакции, держащей блокировку специалиста.
func (r *ConflictResolver) HasConflict(ctx context.Context, tx repository.BookingTx, professionalID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	overlapping, err := tx.FindOverlapping(ctx, professionalID, start, end, exclude)
	if err != nil {
		return false, err
	}
	return len(r.live(overlapping)) > 0, nil
}

// LiveBookings возвращает живые брони специалиста, пересекающие [from, to).
func (r *ConflictResolver) LiveBookings(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]models.Booking, error) {
	bookings, err := r.bookings.ListForProfessionalBetween(ctx, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	return r.live(bookings), nil
}

func (r *ConflictResolver) live(bookings []models.Booking) []models.Booking {
	now := r.now()
	live := bookings[:0:0]
	for _, b := range bookings {
		if b.IsLive(now, r.hold) {
			live = append(live, b)
		}
	}
	return live
}
