package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
)

// AuditRepository пишет журнал административных действий.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append добавляет запись. Записи никогда не изменяются.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (actor_id, action, entity_type, entity_id, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowxContext(ctx, query,
		entry.ActorID, entry.Action, entry.EntityType, entry.EntityID, jsonOrEmpty(entry.Details),
	).Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return fmt.Errorf("audit repository: append %w", err)
	}
	return nil
}
