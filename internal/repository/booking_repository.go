package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository/common"
)

// ErrBookingNotFound возвращается, когда бронирование не найдено.
var ErrBookingNotFound = fmt.Errorf("booking: %w", common.ErrNotFound)

// BookingTx - операции над бронированиями внутри транзакции,
// которая держит блокировку специалиста.
type BookingTx interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	// FindOverlapping возвращает неотменённые брони специалиста, пересекающие [start, end).
	// Живость PENDING-броней проверяет вызывающий.
	FindOverlapping(ctx context.Context, professionalID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]models.Booking, error)
	Insert(ctx context.Context, booking *models.Booking) error
	UpdateTimes(ctx context.Context, id uuid.UUID, start, end time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.BookingStatus) error
	Cancel(ctx context.Context, id, cancelledBy uuid.UUID, reason string) error
	RefreshHold(ctx context.Context, id uuid.UUID, at time.Time) error
}

// BookingRepository хранит бронирования в PostgreSQL.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository создаёт экземпляр репозитория.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// GetByID возвращает бронирование по идентификатору.
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return common.GetByID[models.Booking](ctx, r.db, "bookings", id, ErrBookingNotFound)
}

// ListByParticipant возвращает брони, где пользователь клиент или специалист.
func (r *BookingRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	var bookings []models.Booking
	query := `
		SELECT * FROM bookings
		WHERE user_id = $1 OR professional_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &bookings, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("booking repository: list by participant %w", err)
	}
	return bookings, nil
}

// ListForProfessionalBetween возвращает неотменённые брони специалиста, пересекающие интервал.
func (r *BookingRepository) ListForProfessionalBetween(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]models.Booking, error) {
	return findOverlapping(ctx, r.db, professionalID, from, to, nil)
}

// WithProfessionalLock открывает транзакцию и берёт advisory-блокировку специалиста.
// Все проверки пересечений и записи внутри fn сериализованы для этого специалиста.
func (r *BookingRepository) WithProfessionalLock(ctx context.Context, professionalID uuid.UUID, fn func(tx BookingTx) error) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := common.AdvisoryXactLock(ctx, tx, "professional:"+professionalID.String()); err != nil {
			return fmt.Errorf("booking repository: %w", err)
		}
		return fn(&bookingTx{tx: tx})
	})
}

func findOverlapping(ctx context.Context, q sqlx.QueryerContext, professionalID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]models.Booking, error) {
	var bookings []models.Booking
	query := `
		SELECT * FROM bookings
		WHERE professional_id = $1
			AND status <> 'CANCELLED'
			AND start_time < $3
			AND end_time > $2
			AND ($4::uuid IS NULL OR id <> $4::uuid)
		ORDER BY start_time
	`
	if err := sqlx.SelectContext(ctx, q, &bookings, query, professionalID, start, end, exclude); err != nil {
		return nil, fmt.Errorf("booking repository: find overlapping %w", err)
	}
	return bookings, nil
}

type bookingTx struct {
	tx *sqlx.Tx
}

func (t *bookingTx) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := t.tx.GetContext(ctx, &booking, `SELECT * FROM bookings WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("booking repository: get for update %w", err)
	}
	return &booking, nil
}

func (t *bookingTx) FindOverlapping(ctx context.Context, professionalID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]models.Booking, error) {
	return findOverlapping(ctx, t.tx, professionalID, start, end, exclude)
}

func (t *bookingTx) Insert(ctx context.Context, booking *models.Booking) error {
	query := `
		INSERT INTO bookings (user_id, professional_id, start_time, end_time, price, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id, created_at, updated_at
	`
	if err := t.tx.QueryRowxContext(
		ctx,
		query,
		booking.UserID,
		booking.ProfessionalID,
		booking.StartTime,
		booking.EndTime,
		booking.Price,
		booking.Status,
		booking.Notes,
		booking.CreatedAt,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt); err != nil {
		return fmt.Errorf("booking repository: insert %w", err)
	}
	return nil
}

func (t *bookingTx) UpdateTimes(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	return t.exec(ctx, "update times",
		`UPDATE bookings SET start_time = $2, end_time = $3, updated_at = NOW() WHERE id = $1`,
		id, start, end)
}

func (t *bookingTx) UpdateStatus(ctx context.Context, id uuid.UUID, status models.BookingStatus) error {
	return t.exec(ctx, "update status",
		`UPDATE bookings SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
}

func (t *bookingTx) Cancel(ctx context.Context, id, cancelledBy uuid.UUID, reason string) error {
	return t.exec(ctx, "cancel",
		`UPDATE bookings
		SET status = 'CANCELLED', cancelled_by = $2, cancellation_reason = $3, updated_at = NOW()
		WHERE id = $1`,
		id, cancelledBy, reason)
}

func (t *bookingTx) RefreshHold(ctx context.Context, id uuid.UUID, at time.Time) error {
	return t.exec(ctx, "refresh hold",
		`UPDATE bookings SET created_at = $2, hold_refreshes = hold_refreshes + 1, updated_at = NOW() WHERE id = $1`,
		id, at)
}

func (t *bookingTx) exec(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("booking repository: %s %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("booking repository: %s rows affected %w", op, err)
	}
	if affected == 0 {
		return ErrBookingNotFound
	}
	return nil
}
