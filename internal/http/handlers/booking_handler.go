package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mahdimonir/professionals-bd-sub001/internal/dto"
	"github.com/mahdimonir/professionals-bd-sub001/internal/http/handlers/common"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/service"
	"github.com/mahdimonir/professionals-bd-sub001/internal/slots"
	"github.com/mahdimonir/professionals-bd-sub001/internal/validation"
)

// BookingHandler обслуживает маршруты бронирований и слотов.
type BookingHandler struct {
	bookings *service.BookingService
}

// NewBookingHandler создаёт новый хэндлер.
func NewBookingHandler(bookings *service.BookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// ListSlots обрабатывает GET /professionals/:id/slots?date=YYYY-MM-DD.
func (h *BookingHandler) ListSlots(c *gin.Context) {
	professionalID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	date, err := slots.ParseDate(c.Query("date"))
	if err != nil {
		common.RespondBadRequest(c, "параметр date должен быть в формате YYYY-MM-DD")
		return
	}

	free, err := h.bookings.ListAvailableSlots(c.Request.Context(), professionalID, date)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SlotsResponse{
		ProfessionalID: professionalID.String(),
		Date:           date.String(),
		Slots:          free,
	})
}

// CreateBooking обрабатывает POST /bookings.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	professionalID, err := req.ParseProfessionalID()
	if err != nil {
		common.RespondBadRequest(c, "неверный professional_id")
		return
	}
	start, end, err := req.ParseRange()
	if err != nil {
		common.RespondBadRequest(c, "start_time и end_time должны быть в формате RFC3339")
		return
	}

	booking, err := h.bookings.Create(c.Request.Context(), service.CreateBookingInput{
		UserID:         actor.ID,
		ProfessionalID: professionalID,
		StartTime:      start,
		EndTime:        end,
		Notes:          req.Notes,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// GetBooking обрабатывает GET /bookings/:id.
func (h *BookingHandler) GetBooking(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	bookingID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	booking, err := h.bookings.Get(c.Request.Context(), bookingID, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// ListMyBookings обрабатывает GET /bookings/my.
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	bookings, err := h.bookings.ListMine(c.Request.Context(), actor.ID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}

	c.JSON(http.StatusOK, dto.BookingListResponse{
		Data:       bookings,
		Pagination: dto.Pagination{Limit: limit, Offset: offset},
	})
}

// CancelBooking обрабатывает POST /bookings/:id/cancel.
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	bookingID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}
	if err := validation.ValidateCancelReason(req.Reason); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	booking, err := h.bookings.Cancel(c.Request.Context(), bookingID, actor.ID, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// UpdateStatus обрабатывает PATCH /bookings/:id/status.
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	bookingID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.UpdateBookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "status должен быть CONFIRMED или COMPLETED")
		return
	}

	booking, err := h.bookings.UpdateStatus(c.Request.Context(), bookingID, models.BookingStatus(req.Status), actor.ID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// Reschedule обрабатывает PUT /bookings/:id/reschedule.
func (h *BookingHandler) Reschedule(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	bookingID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.RescheduleBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	start, end, err := req.ParseRange()
	if err != nil {
		common.RespondBadRequest(c, "start_time и end_time должны быть в формате RFC3339")
		return
	}

	booking, err := h.bookings.Reschedule(c.Request.Context(), bookingID, start, end, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}
