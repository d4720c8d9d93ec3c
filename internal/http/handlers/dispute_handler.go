package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mahdimonir/professionals-bd-sub001/internal/dto"
	"github.com/mahdimonir/professionals-bd-sub001/internal/http/handlers/common"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/service"
	"github.com/mahdimonir/professionals-bd-sub001/internal/validation"
)

type DisputeHandler struct {
	svc *service.DisputeService
}

func NewDisputeHandler(s *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{svc: s}
}

// RaiseDispute POST /disputes
func (h *DisputeHandler) RaiseDispute(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.RaiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		common.RespondBadRequest(c, "неверный booking_id")
		return
	}
	if err := validation.ValidateDisputeDescription(req.Description); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.Raise(c.Request.Context(), service.RaiseDisputeInput{
		UserID:          actor.ID,
		BookingID:       bookingID,
		Description:     req.Description,
		Type:            models.DisputeType(strings.ToUpper(strings.TrimSpace(req.Type))),
		RequestedRefund: req.RequestedRefund,
		Metadata:        req.Metadata,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

// GetDispute GET /disputes/:id
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.Get(c.Request.Context(), disputeID, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// ListMyDisputes GET /disputes/my
func (h *DisputeHandler) ListMyDisputes(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	disputes, err := h.svc.ListMine(c.Request.Context(), actor.ID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	respondDisputes(c, disputes, limit, offset)
}

// ListForModeration GET /admin/disputes?status=OPEN
func (h *DisputeHandler) ListForModeration(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	status := models.DisputeStatus(strings.ToUpper(c.Query("status")))
	limit, offset := common.GetPagination(c)
	disputes, err := h.svc.ListByStatus(c.Request.Context(), actor, status, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	respondDisputes(c, disputes, limit, offset)
}

// ResolveDispute POST /admin/disputes/:id/resolve
func (h *DisputeHandler) ResolveDispute(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if err := validation.ValidateNote(req.Note); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.Resolve(c.Request.Context(), service.ResolveDisputeInput{
		DisputeID:    disputeID,
		Resolver:     actor,
		Approved:     *req.Approved,
		RefundAmount: req.RefundAmount,
		Note:         req.Note,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

func respondDisputes(c *gin.Context, disputes []models.Dispute, limit, offset int) {
	if disputes == nil {
		disputes = []models.Dispute{}
	}
	c.JSON(http.StatusOK, dto.DisputeListResponse{
		Data:       disputes,
		Pagination: dto.Pagination{Limit: limit, Offset: offset},
	})
}
