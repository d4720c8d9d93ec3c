package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository/common"
)

// ErrDisputeNotFound возвращается, когда спор не найден.
var ErrDisputeNotFound = fmt.Errorf("dispute: %w", common.ErrNotFound)

// ErrDisputeAlreadyOpen возвращается при попытке открыть второй спор того же типа.
var ErrDisputeAlreadyOpen = fmt.Errorf("dispute: %w", common.ErrAlreadyExists)

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	query := `
		INSERT INTO disputes (booking_id, user_id, description, type, status, requested_refund, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		d.BookingID, d.UserID, d.Description, d.Type, d.Status, d.RequestedRefund, jsonOrEmpty(d.Metadata),
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return ErrDisputeAlreadyOpen
		}
		return fmt.Errorf("dispute repository: create %w", err)
	}
	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, ErrDisputeNotFound)
}

// Resolve закрывает открытый спор. Возвращает false, если спор уже не OPEN.
func (r *DisputeRepository) Resolve(ctx context.Context, id uuid.UUID, status models.DisputeStatus, resolvedBy uuid.UUID, note *string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes
		SET status = $2, resolved_by = $3, resolution_note = $4, resolved_at = $5
		WHERE id = $1 AND status = 'OPEN'
	`, id, status, resolvedBy, note, at)
	if err != nil {
		return false, fmt.Errorf("dispute repository: resolve %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dispute repository: resolve rows affected %w", err)
	}
	return affected > 0, nil
}

// Reopen возвращает спор в OPEN, если он всё ещё в статусе from.
func (r *DisputeRepository) Reopen(ctx context.Context, id uuid.UUID, from models.DisputeStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes
		SET status = 'OPEN', resolved_by = NULL, resolution_note = NULL, resolved_at = NULL
		WHERE id = $1 AND status = $2
	`, id, from)
	if err != nil {
		return false, fmt.Errorf("dispute repository: reopen %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dispute repository: reopen rows affected %w", err)
	}
	return affected > 0, nil
}

// ListByUser возвращает споры по броням, где пользователь участник.
func (r *DisputeRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT d.* FROM disputes d
		JOIN bookings b ON d.booking_id = b.id
		WHERE b.user_id = $1 OR b.professional_id = $1
		ORDER BY d.created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list by user %w", err)
	}
	return disputes, nil
}

// ListByStatus возвращает очередь споров для модерации.
func (r *DisputeRepository) ListByStatus(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT * FROM disputes WHERE status = $1
		ORDER BY created_at LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list by status %w", err)
	}
	return disputes, nil
}
