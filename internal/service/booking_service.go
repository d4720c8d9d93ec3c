package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mahdimonir/professionals-bd-sub001/internal/events"
	"github.com/mahdimonir/professionals-bd-sub001/internal/logger"
	"github.com/mahdimonir/professionals-bd-sub001/internal/metrics"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/pkg/apperror"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository/common"
	"github.com/mahdimonir/professionals-bd-sub001/internal/slots"
)

const (
	// DefaultMinBookingDuration - минимальная длительность бронирования.
	DefaultMinBookingDuration = 15 * time.Minute

	reasonSlotTaken    = "slot expired and taken"
	reasonRefreshLimit = "hold refresh limit reached"
)

// BookingOptions настраивает жизненный цикл бронирований.
type BookingOptions struct {
	MinDuration time.Duration
	// MaxHoldRefreshes ограничивает продления истёкшего удержания при повторной оплате.
	MaxHoldRefreshes int
}

// CreateBookingInput - запрос клиента на бронирование.
type CreateBookingInput struct {
	UserID         uuid.UUID
	ProfessionalID uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	Notes          *string
}

// BookingService владеет созданием, отменой, сменой статуса и переносом бронирований.
// Каждая мутация выполняется под блокировкой специалиста.
type BookingService struct {
	bookings  BookingRepository
	directory Directory
	conflicts *ConflictResolver
	slots     *slots.Generator
	notifier  events.Notifier
	opts      BookingOptions
}

// NewBookingService создаёт сервис бронирований.
func NewBookingService(
	bookings BookingRepository,
	directory Directory,
	conflicts *ConflictResolver,
	generator *slots.Generator,
	notifier events.Notifier,
	opts BookingOptions,
) *BookingService {
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultMinBookingDuration
	}
	if notifier == nil {
		notifier = events.Nop{}
	}
	return &BookingService{
		bookings:  bookings,
		directory: directory,
		conflicts: conflicts,
		slots:     generator,
		notifier:  notifier,
		opts:      opts,
	}
}

// Create создаёт PENDING-бронь по текущей цене специалиста.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	professional, err := s.directory.GetProfessional(ctx, in.ProfessionalID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrProfessionalNotFound
		}
		return nil, apperror.Internal(err)
	}

	start, end := in.StartTime.UTC(), in.EndTime.UTC()
	if err := s.validateRange(start, end); err != nil {
		return nil, err
	}

	if len(professional.Schedule) > 0 {
		loc, err := professional.Location()
		if err != nil {
			return nil, apperror.Internal(fmt.Errorf("часовой пояс специалиста %q: %w", professional.Timezone, err))
		}
		if !professional.Schedule.Covers(start, end, loc) {
			return nil, apperror.New(apperror.ErrCodeOutsideAvailability, "время вне расписания специалиста")
		}
	}

	booking := &models.Booking{
		UserID:         in.UserID,
		ProfessionalID: professional.UserID,
		StartTime:      start,
		EndTime:        end,
		Price:          professional.SessionPrice,
		Status:         models.BookingStatusPending,
		Notes:          in.Notes,
	}

	err = s.bookings.WithProfessionalLock(ctx, professional.UserID, func(tx repository.BookingTx) error {
		conflict, err := s.conflicts.HasConflict(ctx, tx, professional.UserID, start, end, nil)
		if err != nil {
			return err
		}
		if conflict {
			return apperror.ErrSlotTaken
		}
		booking.CreatedAt = s.conflicts.Now()
		return tx.Insert(ctx, booking)
	})
	if err != nil {
		if apperror.IsConflict(err) {
			metrics.IncBookingConflict("create")
		}
		return nil, asAppError(err)
	}

	metrics.IncBookingCreated()
	return booking, nil
}

// Cancel отменяет бронь по запросу клиента или специалиста.
func (s *BookingService) Cancel(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*models.Booking, error) {
	booking, err := s.mutate(ctx, bookingID, func(tx repository.BookingTx, b *models.Booking) error {
		if !b.IsParticipant(actorID) {
			return apperror.ErrForbidden
		}
		if b.Status.IsTerminal() {
			return apperror.New(apperror.ErrCodeInvalidState, fmt.Sprintf("бронь уже в статусе %s", b.Status))
		}
		return s.cancelLocked(ctx, tx, b, actorID, reason)
	})
	if err != nil {
		return nil, err
	}

	s.notifyStatus(ctx, booking, actorID)
	return booking, nil
}

// CancelByResolution отменяет бронь по решению спора. Завершённые и отменённые брони не трогает.
func (s *BookingService) CancelByResolution(ctx context.Context, bookingID, resolverID uuid.UUID, reason string) (*models.Booking, bool, error) {
	cancelled := false
	booking, err := s.mutate(ctx, bookingID, func(tx repository.BookingTx, b *models.Booking) error {
		if b.Status.IsTerminal() {
			return nil
		}
		cancelled = true
		return s.cancelLocked(ctx, tx, b, resolverID, reason)
	})
	if err != nil {
		return nil, false, err
	}
	if cancelled {
		s.notifyStatus(ctx, booking, resolverID)
	}
	return booking, cancelled, nil
}

// UpdateStatus переводит бронь в CONFIRMED или COMPLETED. Доступно только специалисту брони.
func (s *BookingService) UpdateStatus(ctx context.Context, bookingID uuid.UUID, status models.BookingStatus, actorID uuid.UUID) (*models.Booking, error) {
	if status != models.BookingStatusConfirmed && status != models.BookingStatusCompleted {
		return nil, apperror.New(apperror.ErrCodeValidation, "специалист может установить только CONFIRMED или COMPLETED")
	}

	booking, err := s.mutate(ctx, bookingID, func(tx repository.BookingTx, b *models.Booking) error {
		if b.ProfessionalID != actorID {
			return apperror.ErrForbidden
		}
		if !b.Status.CanTransition(status) {
			return apperror.New(apperror.ErrCodeInvalidState, fmt.Sprintf("переход %s → %s недопустим", b.Status, status))
		}
		if err := tx.UpdateStatus(ctx, b.ID, status); err != nil {
			return err
		}
		b.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBookingTransition(string(status))
	s.notifyStatus(ctx, booking, actorID)
	return booking, nil
}

// Reschedule переносит подтверждённую бронь. Доступно специалисту брони
// и ролям с правом переопределения (решение спора).
func (s *BookingService) Reschedule(ctx context.Context, bookingID uuid.UUID, newStart, newEnd time.Time, actor models.Actor) (*models.Booking, error) {
	start, end := newStart.UTC(), newEnd.UTC()

	var previous models.Booking
	booking, err := s.mutate(ctx, bookingID, func(tx repository.BookingTx, b *models.Booking) error {
		if b.ProfessionalID != actor.ID && !actor.Role.CanOverrideBookings() {
			return apperror.ErrForbidden
		}
		if b.Status != models.BookingStatusConfirmed {
			return apperror.New(apperror.ErrCodeInvalidState, "переносить можно только подтверждённую бронь")
		}
		if err := s.validateRange(start, end); err != nil {
			return err
		}

		conflict, err := s.conflicts.HasConflict(ctx, tx, b.ProfessionalID, start, end, &b.ID)
		if err != nil {
			return err
		}
		if conflict {
			return apperror.ErrSlotTaken
		}

		if err := tx.UpdateTimes(ctx, b.ID, start, end); err != nil {
			return err
		}
		previous = *b
		b.StartTime, b.EndTime = start, end
		return nil
	})
	if err != nil {
		if apperror.IsConflict(err) {
			metrics.IncBookingConflict("reschedule")
		}
		return nil, err
	}

	data := map[string]any{
		"booking_id":          booking.ID,
		"previous_start":      previous.StartTime,
		"previous_end":        previous.EndTime,
		"start_time":          booking.StartTime,
		"end_time":            booking.EndTime,
		"rescheduled_by":      actor.ID,
		"rescheduled_by_role": actor.Role,
	}
	s.notifier.Notify(ctx, events.ToUser(events.KindBookingRescheduled, booking.UserID, data))
	s.notifier.Notify(ctx, events.ToUser(events.KindBookingRescheduled, booking.ProfessionalID, data))
	return booking, nil
}

// MarkPaid переводит бронь в PAID по подтверждению шлюза.
// Возвращает false, если бронь уже оплачена или продвинулась дальше.
// Для отменённой брони возвращает InvalidState: оплата её не восстанавливает.
// Если удержание истекло и интервал уже занят, бронь отменяется и тоже возвращается InvalidState.
func (s *BookingService) MarkPaid(ctx context.Context, bookingID uuid.UUID) (*models.Booking, bool, error) {
	applied := false
	var rejection error
	booking, err := s.mutate(ctx, bookingID, func(tx repository.BookingTx, b *models.Booking) error {
		switch b.Status {
		case models.BookingStatusPaid, models.BookingStatusConfirmed, models.BookingStatusCompleted:
			return nil
		case models.BookingStatusCancelled:
			return apperror.New(apperror.ErrCodeInvalidState, "бронь отменена до подтверждения оплаты")
		}

		if b.HoldExpired(s.conflicts.Now(), s.conflicts.Hold()) {
			conflict, err := s.conflicts.HasConflict(ctx, tx, b.ProfessionalID, b.StartTime, b.EndTime, &b.ID)
			if err != nil {
				return err
			}
			if conflict {
				rejection = apperror.New(apperror.ErrCodeInvalidState, "удержание истекло, время уже занято")
				return s.cancelLocked(ctx, tx, b, b.UserID, reasonSlotTaken)
			}
		}

		if err := tx.UpdateStatus(ctx, b.ID, models.BookingStatusPaid); err != nil {
			return err
		}
		b.Status = models.BookingStatusPaid
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if rejection != nil {
		metrics.IncBookingConflict("paid")
		s.notifyStatus(ctx, booking, booking.UserID)
		return nil, false, rejection
	}
	if applied {
		metrics.IncBookingTransition(string(models.BookingStatusPaid))
	}
	return booking, applied, nil
}

// RevalidateHold проверяет удержание PENDING-брони перед оплатой.
// Истёкшее удержание продлевается, если интервал свободен и лимит продлений не исчерпан,
// иначе бронь отменяется. Отмена фиксируется, даже когда метод возвращает ошибку.
func (s *BookingService) RevalidateHold(ctx context.Context, bookingID, payerID uuid.UUID) (*models.Booking, error) {
	var rejection error
	booking, err := s.mutate(ctx, bookingID, func(tx repository.BookingTx, b *models.Booking) error {
		if b.Status != models.BookingStatusPending {
			return apperror.New(apperror.ErrCodeInvalidState, fmt.Sprintf("бронь в статусе %s не ожидает оплаты", b.Status))
		}

		now := s.conflicts.Now()
		if !b.HoldExpired(now, s.conflicts.Hold()) {
			return nil
		}

		conflict, err := s.conflicts.HasConflict(ctx, tx, b.ProfessionalID, b.StartTime, b.EndTime, &b.ID)
		if err != nil {
			return err
		}
		switch {
		case conflict:
			rejection = apperror.New(apperror.ErrCodeConflict, "удержание истекло, время уже занято")
			return s.cancelLocked(ctx, tx, b, payerID, reasonSlotTaken)
		case b.HoldRefreshes >= s.opts.MaxHoldRefreshes:
			rejection = apperror.New(apperror.ErrCodeInvalidState, "исчерпан лимит продлений удержания")
			return s.cancelLocked(ctx, tx, b, payerID, reasonRefreshLimit)
		}

		if err := tx.RefreshHold(ctx, b.ID, now); err != nil {
			return err
		}
		b.CreatedAt = now
		b.HoldRefreshes++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		if apperror.IsConflict(rejection) {
			metrics.IncBookingConflict("hold")
		}
		s.notifyStatus(ctx, booking, payerID)
		return booking, rejection
	}
	return booking, nil
}

// ListAvailableSlots возвращает свободные слоты специалиста на дату.
func (s *BookingService) ListAvailableSlots(ctx context.Context, professionalID uuid.UUID, date slots.Date) ([]slots.Slot, error) {
	professional, err := s.directory.GetProfessional(ctx, professionalID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrProfessionalNotFound
		}
		return nil, apperror.Internal(err)
	}

	free, err := s.slots.Available(ctx, professional, date)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if free == nil {
		free = []slots.Slot{}
	}
	return free, nil
}

// Get возвращает бронь участнику или администратору.
func (s *BookingService) Get(ctx context.Context, bookingID uuid.UUID, actor models.Actor) (*models.Booking, error) {
	booking, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.IsParticipant(actor.ID) && !actor.Role.CanOverrideBookings() {
		return nil, apperror.ErrForbidden
	}
	return booking, nil
}

// ListMine возвращает брони, где пользователь клиент или специалист.
func (s *BookingService) ListMine(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	limit, offset = page(limit, offset)
	bookings, err := s.bookings.ListByParticipant(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return bookings, nil
}

func (s *BookingService) validateRange(start, end time.Time) error {
	if !end.After(start) {
		return apperror.New(apperror.ErrCodeInvalidRange, "окончание должно быть позже начала")
	}
	if end.Sub(start) < s.opts.MinDuration {
		return apperror.New(apperror.ErrCodeInvalidRange, fmt.Sprintf("минимальная длительность %s", s.opts.MinDuration))
	}
	return nil
}

func (s *BookingService) load(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, asAppError(err)
	}
	return booking, nil
}

// mutate перечитывает бронь под блокировкой её специалиста и применяет fn.
func (s *BookingService) mutate(ctx context.Context, bookingID uuid.UUID, fn func(tx repository.BookingTx, b *models.Booking) error) (*models.Booking, error) {
	current, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var booking *models.Booking
	err = s.bookings.WithProfessionalLock(ctx, current.ProfessionalID, func(tx repository.BookingTx) error {
		b, err := tx.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := fn(tx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}
	return booking, nil
}

func (s *BookingService) cancelLocked(ctx context.Context, tx repository.BookingTx, b *models.Booking, actorID uuid.UUID, reason string) error {
	if err := tx.Cancel(ctx, b.ID, actorID, reason); err != nil {
		return err
	}
	b.Status = models.BookingStatusCancelled
	b.CancelledBy = &actorID
	if reason != "" {
		b.CancellationReason = &reason
	}
	metrics.IncBookingTransition(string(models.BookingStatusCancelled))
	return nil
}

// notifyStatus сообщает участникам брони о смене статуса, кроме инициатора.
func (s *BookingService) notifyStatus(ctx context.Context, b *models.Booking, actorID uuid.UUID) {
	kind := events.KindBookingStatusChanged
	if b.Status == models.BookingStatusConfirmed {
		kind = events.KindBookingConfirmed
	}
	data := map[string]any{
		"booking_id": b.ID,
		"status":     b.Status,
		"start_time": b.StartTime,
		"end_time":   b.EndTime,
	}
	if b.CancellationReason != nil {
		data["reason"] = *b.CancellationReason
	}

	for _, recipient := range []uuid.UUID{b.UserID, b.ProfessionalID} {
		if recipient == actorID {
			continue
		}
		s.notifier.Notify(ctx, events.ToUser(kind, recipient, data))
	}
}

// asAppError переводит ошибки хранилища в таксономию приложения.
func asAppError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repository.ErrBookingNotFound):
		return apperror.ErrBookingNotFound
	case errors.Is(err, repository.ErrPaymentNotFound):
		return apperror.ErrPaymentNotFound
	case errors.Is(err, repository.ErrDisputeNotFound):
		return apperror.ErrDisputeNotFound
	case errors.Is(err, common.ErrNotFound):
		return apperror.New(apperror.ErrCodeNotFound, "объект не найден")
	}
	logger.Log.WithFields(logrus.Fields{"error": err}).Error("service: ошибка хранилища")
	return apperror.Internal(err)
}
