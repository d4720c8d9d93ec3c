package dto

import (
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/slots"
)

// SlotsResponse represents free slots of a professional for one date
type SlotsResponse struct {
	ProfessionalID string       `json:"professional_id"`
	Date           string       `json:"date"`
	Slots          []slots.Slot `json:"slots"`
}

// BookingListResponse represents a page of bookings
type BookingListResponse struct {
	Data       []models.Booking `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

// DisputeListResponse represents a page of disputes
type DisputeListResponse struct {
	Data       []models.Dispute `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

// Pagination represents pagination metadata
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse represents a standard success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
