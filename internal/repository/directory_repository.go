package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository/common"
)

var (
	// ErrUserNotFound возвращается, когда пользователя нет в справочнике.
	ErrUserNotFound = fmt.Errorf("user: %w", common.ErrNotFound)
	// ErrProfessionalNotFound возвращается, когда у пользователя нет профиля специалиста.
	ErrProfessionalNotFound = fmt.Errorf("professional: %w", common.ErrNotFound)
)

// DirectoryRepository читает пользователей и профили специалистов,
// которые синхронизирует внешний сервис аккаунтов.
type DirectoryRepository struct {
	db *sqlx.DB
}

func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// GetUser возвращает пользователя и его роль.
func (r *DirectoryRepository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return common.GetByID[models.User](ctx, r.db, "users", id, ErrUserNotFound)
}

// GetProfessional возвращает цену сессии, часовой пояс и расписание специалиста.
func (r *DirectoryRepository) GetProfessional(ctx context.Context, id uuid.UUID) (*models.Professional, error) {
	return common.GetByField[models.Professional](ctx, r.db, "professionals", "user_id", id, ErrProfessionalNotFound)
}
