package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Payment представляет попытку оплаты бронирования через шлюз.
type Payment struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	BookingID     uuid.UUID     `db:"booking_id" json:"booking_id"`
	Amount        float64       `db:"amount" json:"amount"`
	Currency      string        `db:"currency" json:"currency"`
	Method        PaymentMethod `db:"method" json:"method"`
	TransactionID string        `db:"transaction_id" json:"transaction_id"`
	PaymentURL    string        `db:"payment_url" json:"payment_url"`
	Status        PaymentStatus `db:"status" json:"status"`
	RefundAmount  *float64      `db:"refund_amount" json:"refund_amount,omitempty"`
	RefundTrxID   *string       `db:"refund_trx_id" json:"refund_trx_id,omitempty"`
	InvoiceURL    *string       `db:"invoice_url" json:"invoice_url,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// PaymentLog - неизменяемая запись журнала обмена со шлюзом.
type PaymentLog struct {
	ID        uuid.UUID        `db:"id" json:"id"`
	PaymentID *uuid.UUID       `db:"payment_id" json:"payment_id,omitempty"`
	Action    PaymentLogAction `db:"action" json:"action"`
	Request   json.RawMessage  `db:"request" json:"request"`
	Response  json.RawMessage  `db:"response" json:"response"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
