package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mahdimonir/professionals-bd-sub001/internal/gateway"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository"
)

// BookingRepository - хранилище бронирований с блокировкой по специалисту.
type BookingRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error)
	ListForProfessionalBetween(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]models.Booking, error)
	WithProfessionalLock(ctx context.Context, professionalID uuid.UUID, fn func(tx repository.BookingTx) error) error
}

// PaymentRepository - хранилище платежей и журнала платежей.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment, log *models.PaymentLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByTransactionID(ctx context.Context, method models.PaymentMethod, transactionID string) (*models.Payment, error)
	GetLatestByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Payment, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to models.PaymentStatus, from ...models.PaymentStatus) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, amount float64, refundTrxID string) (bool, error)
	SetInvoiceURL(ctx context.Context, id uuid.UUID, url string) error
	AppendLog(ctx context.Context, log *models.PaymentLog) error
}

// DisputeRepository - хранилище споров.
type DisputeRepository interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	Resolve(ctx context.Context, id uuid.UUID, status models.DisputeStatus, resolvedBy uuid.UUID, note *string, at time.Time) (bool, error)
	Reopen(ctx context.Context, id uuid.UUID, from models.DisputeStatus) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error)
	ListByStatus(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error)
}

// AuditRepository - журнал административных действий.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditLog) error
}

// Directory - справочник пользователей и специалистов.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetProfessional(ctx context.Context, id uuid.UUID) (*models.Professional, error)
}

// GatewayRegistry выдаёт адаптер платёжного шлюза.
type GatewayRegistry interface {
	Get(method models.PaymentMethod) (gateway.Adapter, error)
}

// InvoiceGenerator формирует счёт по оплаченному платежу.
type InvoiceGenerator interface {
	Generate(ctx context.Context, payment *models.Payment, booking *models.Booking) (string, error)
}
