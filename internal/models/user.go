package models

import (
	"time"

	"github.com/google/uuid"
)

// User - минимальные сведения о пользователе из справочника.
type User struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Role Role      `db:"role" json:"role"`
}

// Professional - профиль специалиста, нужный для бронирования.
type Professional struct {
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	SessionPrice float64   `db:"session_price" json:"session_price"`
	Timezone     string    `db:"timezone" json:"timezone"`
	Schedule     Schedule  `db:"schedule" json:"schedule"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Location возвращает часовой пояс специалиста. Пустое значение трактуется как UTC.
func (p *Professional) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.Timezone)
}
