package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Dispute - спор по бронированию.
type Dispute struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	BookingID       uuid.UUID       `db:"booking_id" json:"booking_id"`
	UserID          uuid.UUID       `db:"user_id" json:"user_id"`
	Description     string          `db:"description" json:"description"`
	Type            DisputeType     `db:"type" json:"type"`
	Status          DisputeStatus   `db:"status" json:"status"`
	RequestedRefund *float64        `db:"requested_refund" json:"requested_refund,omitempty"`
	Metadata        json.RawMessage `db:"metadata" json:"metadata"`
	ResolutionNote  *string         `db:"resolution_note" json:"resolution_note,omitempty"`
	ResolvedBy      *uuid.UUID      `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// RescheduleProposal - предлагаемый новый интервал из метаданных спора.
type RescheduleProposal struct {
	NewStartTime time.Time `json:"newStartTime"`
	NewEndTime   time.Time `json:"newEndTime"`
}

// ParseRescheduleProposal разбирает метаданные RESCHEDULE_REQUEST.
// Оба поля обязательны.
func ParseRescheduleProposal(raw json.RawMessage) (RescheduleProposal, bool) {
	var payload struct {
		NewStartTime *time.Time `json:"newStartTime"`
		NewEndTime   *time.Time `json:"newEndTime"`
	}
	if len(raw) == 0 {
		return RescheduleProposal{}, false
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return RescheduleProposal{}, false
	}
	if payload.NewStartTime == nil || payload.NewEndTime == nil {
		return RescheduleProposal{}, false
	}
	return RescheduleProposal{
		NewStartTime: payload.NewStartTime.UTC(),
		NewEndTime:   payload.NewEndTime.UTC(),
	}, true
}
