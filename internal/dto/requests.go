package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CreateBookingRequest represents the request to book a consultation
type CreateBookingRequest struct {
	ProfessionalID string  `json:"professional_id" binding:"required,uuid"`
	StartTime      string  `json:"start_time" binding:"required"`
	EndTime        string  `json:"end_time" binding:"required"`
	Notes          *string `json:"notes" binding:"omitempty,max=2000"`
}

// CancelBookingRequest represents the request to cancel a booking
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// UpdateBookingStatusRequest represents the professional's status change
type UpdateBookingStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=CONFIRMED COMPLETED"`
}

// RescheduleBookingRequest represents the request to move a confirmed booking
type RescheduleBookingRequest struct {
	StartTime string `json:"start_time" binding:"required"`
	EndTime   string `json:"end_time" binding:"required"`
}

// InitiatePaymentRequest represents the request to open a gateway session
type InitiatePaymentRequest struct {
	BookingID string  `json:"booking_id" binding:"required,uuid"`
	Method    string  `json:"method" binding:"required"`
	Amount    float64 `json:"amount" binding:"required,gt=0"`
	Name      string  `json:"name"`
	Email     string  `json:"email" binding:"omitempty,email"`
	Phone     string  `json:"phone"`
}

// RaiseDisputeRequest represents a participant's complaint about a booking
type RaiseDisputeRequest struct {
	BookingID       string          `json:"booking_id" binding:"required,uuid"`
	Description     string          `json:"description" binding:"required"`
	Type            string          `json:"type"`
	RequestedRefund *float64        `json:"requested_refund" binding:"omitempty,gt=0"`
	Metadata        json.RawMessage `json:"metadata"`
}

// ResolveDisputeRequest represents a moderator's decision
type ResolveDisputeRequest struct {
	Approved     *bool    `json:"approved" binding:"required"`
	RefundAmount *float64 `json:"refund_amount" binding:"omitempty,gt=0"`
	Note         *string  `json:"note"`
}

// ParseRange converts start and end strings to UTC times
func (r *CreateBookingRequest) ParseRange() (time.Time, time.Time, error) {
	return parseRange(r.StartTime, r.EndTime)
}

// ParseProfessionalID converts professional id string to UUID
func (r *CreateBookingRequest) ParseProfessionalID() (uuid.UUID, error) {
	return uuid.Parse(r.ProfessionalID)
}

// ParseRange converts start and end strings to UTC times
func (r *RescheduleBookingRequest) ParseRange() (time.Time, time.Time, error) {
	return parseRange(r.StartTime, r.EndTime)
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return s.UTC(), e.UTC(), nil
}
