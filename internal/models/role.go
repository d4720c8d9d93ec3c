package models

import (
	"strings"

	"github.com/google/uuid"
)

// Role - закрытый набор ролей платформы.
type Role string

const (
	RoleClient       Role = "CLIENT"
	RoleProfessional Role = "PROFESSIONAL"
	RoleModerator    Role = "MODERATOR"
	RoleAdmin        Role = "ADMIN"
)

// ParseRole приводит строку из токена к роли. "USER" считается клиентом.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CLIENT", "USER":
		return RoleClient, true
	case "PROFESSIONAL":
		return RoleProfessional, true
	case "MODERATOR":
		return RoleModerator, true
	case "ADMIN":
		return RoleAdmin, true
	default:
		return "", false
	}
}

// CanOverrideBookings разрешает переносить чужие бронирования.
func (r Role) CanOverrideBookings() bool {
	return r == RoleAdmin || r == RoleModerator
}

// CanResolveDisputes разрешает закрывать споры.
func (r Role) CanResolveDisputes() bool {
	return r == RoleAdmin || r == RoleModerator
}

// Actor - тот, кто выполняет операцию.
type Actor struct {
	ID   uuid.UUID
	Role Role
}
