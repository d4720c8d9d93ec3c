package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository/common"
)

// ErrPaymentNotFound возвращается, когда платёж не найден.
var ErrPaymentNotFound = fmt.Errorf("payment: %w", common.ErrNotFound)

// PaymentRepository хранит платежи и журнал обмена со шлюзами.
type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create сохраняет платёж и запись INITIATE в одной транзакции.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment, log *models.PaymentLog) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO payments (booking_id, amount, currency, method, transaction_id, payment_url, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at
		`
		if err := tx.QueryRowxContext(
			ctx,
			query,
			payment.BookingID,
			payment.Amount,
			payment.Currency,
			payment.Method,
			payment.TransactionID,
			payment.PaymentURL,
			payment.Status,
		).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
			if common.IsUniqueViolation(err) {
				return fmt.Errorf("payment repository: create %w", common.ErrAlreadyExists)
			}
			return fmt.Errorf("payment repository: create %w", err)
		}

		if log != nil {
			log.PaymentID = &payment.ID
			if err := insertPaymentLog(ctx, tx, log); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID возвращает платёж по идентификатору.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return common.GetByID[models.Payment](ctx, r.db, "payments", id, ErrPaymentNotFound)
}

// GetByTransactionID ищет платёж по идентификатору транзакции шлюза.
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, method models.PaymentMethod, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	query := `SELECT * FROM payments WHERE method = $1 AND transaction_id = $2`
	if err := r.db.GetContext(ctx, &payment, query, method, transactionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: get by transaction %w", err)
	}
	return &payment, nil
}

// GetLatestByBookingID возвращает последнюю попытку оплаты бронирования.
func (r *PaymentRepository) GetLatestByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	query := `SELECT * FROM payments WHERE booking_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &payment, query, bookingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: get latest by booking %w", err)
	}
	return &payment, nil
}

// ListByBooking возвращает все попытки оплаты бронирования.
func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	query := `SELECT * FROM payments WHERE booking_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &payments, query, bookingID); err != nil {
		return nil, fmt.Errorf("payment repository: list by booking %w", err)
	}
	return payments, nil
}

// TransitionStatus переводит платёж в статус to, только если текущий статус входит в from.
// Возвращает false, если переход уже применён другим запросом или недопустим.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, id uuid.UUID, to models.PaymentStatus, from ...models.PaymentStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	query := `
		UPDATE payments SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`
	res, err := r.db.ExecContext(ctx, query, id, to, pq.Array(allowed))
	if err != nil {
		return false, fmt.Errorf("payment repository: transition status %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment repository: transition rows affected %w", err)
	}
	return affected > 0, nil
}

// MarkRefunded переводит оплаченный платёж в REFUNDED.
func (r *PaymentRepository) MarkRefunded(ctx context.Context, id uuid.UUID, amount float64, refundTrxID string) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'REFUNDED', refund_amount = $2, refund_trx_id = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1 AND status = 'PAID'
	`
	res, err := r.db.ExecContext(ctx, query, id, amount, refundTrxID)
	if err != nil {
		return false, fmt.Errorf("payment repository: mark refunded %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment repository: mark refunded rows affected %w", err)
	}
	return affected > 0, nil
}

// SetInvoiceURL сохраняет ссылку на счёт.
func (r *PaymentRepository) SetInvoiceURL(ctx context.Context, id uuid.UUID, url string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE payments SET invoice_url = $2, updated_at = NOW() WHERE id = $1`, id, url); err != nil {
		return fmt.Errorf("payment repository: set invoice url %w", err)
	}
	return nil
}

// AppendLog добавляет запись в журнал платежей.
func (r *PaymentRepository) AppendLog(ctx context.Context, log *models.PaymentLog) error {
	return insertPaymentLog(ctx, r.db, log)
}

// ListLogs возвращает журнал платежа в хронологическом порядке.
func (r *PaymentRepository) ListLogs(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentLog, error) {
	var logs []models.PaymentLog
	if err := r.db.SelectContext(ctx, &logs, `SELECT * FROM payment_logs WHERE payment_id = $1 ORDER BY created_at`, paymentID); err != nil {
		return nil, fmt.Errorf("payment repository: list logs %w", err)
	}
	return logs, nil
}

func insertPaymentLog(ctx context.Context, q sqlx.QueryerContext, log *models.PaymentLog) error {
	query := `
		INSERT INTO payment_logs (payment_id, action, request, response)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	if err := q.QueryRowxContext(
		ctx,
		query,
		log.PaymentID,
		log.Action,
		jsonOrEmpty(log.Request),
		jsonOrEmpty(log.Response),
	).Scan(&log.ID, &log.CreatedAt); err != nil {
		return fmt.Errorf("payment repository: append log %w", err)
	}
	return nil
}

// jsonOrEmpty подставляет {} вместо пустого значения для NOT NULL JSONB колонок.
func jsonOrEmpty(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
