package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mahdimonir/professionals-bd-sub001/internal/dto"
	"github.com/mahdimonir/professionals-bd-sub001/internal/gateway"
	"github.com/mahdimonir/professionals-bd-sub001/internal/http/handlers/common"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/service"
	"github.com/mahdimonir/professionals-bd-sub001/internal/storage"
	"github.com/mahdimonir/professionals-bd-sub001/internal/validation"
)

const (
	maxWebhookBody = 1 << 20
	xlsxMIME       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ArtifactOpener открывает сохранённый файл счёта.
type ArtifactOpener interface {
	Open(ctx context.Context, relativePath string) (*os.File, error)
}

// PaymentHandler обслуживает оплату, уведомления шлюзов и выдачу счетов.
type PaymentHandler struct {
	payments  *service.PaymentService
	artifacts ArtifactOpener
}

func NewPaymentHandler(payments *service.PaymentService, artifacts ArtifactOpener) *PaymentHandler {
	return &PaymentHandler{payments: payments, artifacts: artifacts}
}

// Initiate POST /payments/initiate
func (h *PaymentHandler) Initiate(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		common.RespondBadRequest(c, "неверный booking_id")
		return
	}
	method, ok := models.ParsePaymentMethod(req.Method)
	if !ok {
		common.RespondBadRequest(c, "неизвестный способ оплаты")
		return
	}
	if err := validation.ValidatePayer(req.Name, req.Email, req.Phone); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.Initiate(c.Request.Context(), service.InitiatePaymentInput{
		BookingID: bookingID,
		PayerID:   actor.ID,
		Method:    method,
		Amount:    req.Amount,
		Payer:     gateway.Payer{Name: req.Name, Email: req.Email, Phone: req.Phone},
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

// Webhook GET|POST /payments/webhook/:method
// Шлюзы присылают как form-urlencoded, так и JSON; query и форма объединяются.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	method, ok := models.ParsePaymentMethod(c.Param("method"))
	if !ok {
		common.RespondError(c, http.StatusNotFound, "неизвестный платёжный шлюз")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать тело запроса")
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err := c.Request.ParseForm(); err != nil {
		common.RespondBadRequest(c, "некорректная форма уведомления")
		return
	}

	result, err := h.payments.HandleWebhook(c.Request.Context(), method, gateway.Payload{
		Form: c.Request.Form,
		Body: body,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListBookingPayments GET /bookings/:id/payments
func (h *PaymentHandler) ListBookingPayments(c *gin.Context) {
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

	payments, err := h.payments.ListByBooking(c.Request.Context(), bookingID, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// DownloadInvoice GET /payments/:id/invoice
func (h *PaymentHandler) DownloadInvoice(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	relative, err := h.payments.InvoicePath(c.Request.Context(), paymentID, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	f, err := h.artifacts.Open(c.Request.Context(), relative)
	if err != nil {
		if errors.Is(err, storage.ErrArtifactNotFound) {
			common.RespondError(c, http.StatusNotFound, "файл счёта не найден")
			return
		}
		common.RespondAppError(c, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.DataFromReader(http.StatusOK, info.Size(), xlsxMIME, f, map[string]string{
		"Content-Disposition": `attachment; filename="` + path.Base(relative) + `"`,
	})
}
