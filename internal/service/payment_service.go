package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mahdimonir/professionals-bd-sub001/internal/events"
	"github.com/mahdimonir/professionals-bd-sub001/internal/gateway"
	"github.com/mahdimonir/professionals-bd-sub001/internal/goroutine"
	"github.com/mahdimonir/professionals-bd-sub001/internal/invoice"
	"github.com/mahdimonir/professionals-bd-sub001/internal/logger"
	"github.com/mahdimonir/professionals-bd-sub001/internal/metrics"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/pkg/apperror"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository"
)

const amountTolerance = 0.005

// Исходы обработки уведомления шлюза.
const (
	WebhookApplied   = "applied"
	WebhookDuplicate = "duplicate"
	WebhookUnknown   = "unknown"
	WebhookRejected  = "rejected"
)

// InitiatePaymentInput - запрос на оплату брони.
type InitiatePaymentInput struct {
	BookingID uuid.UUID
	PayerID   uuid.UUID
	Method    models.PaymentMethod
	Amount    float64
	Payer     gateway.Payer
}

// WebhookResult - итог обработки уведомления шлюза.
type WebhookResult struct {
	Outcome   string               `json:"outcome"`
	PaymentID *uuid.UUID           `json:"payment_id,omitempty"`
	Status    models.PaymentStatus `json:"status,omitempty"`
}

// PaymentService создаёт платёжные сессии и сверяет уведомления шлюзов с бронированиями.
type PaymentService struct {
	payments PaymentRepository
	bookings *BookingService
	gateways GatewayRegistry
	invoices InvoiceGenerator
	notifier events.Notifier
	runner   goroutine.Runner
	currency string
}

// NewPaymentService создаёт сервис платежей.
func NewPaymentService(
	payments PaymentRepository,
	bookings *BookingService,
	gateways GatewayRegistry,
	invoices InvoiceGenerator,
	notifier events.Notifier,
	runner goroutine.Runner,
	currency string,
) *PaymentService {
	if notifier == nil {
		notifier = events.Nop{}
	}
	if currency == "" {
		currency = "BDT"
	}
	return &PaymentService{
		payments: payments,
		bookings: bookings,
		gateways: gateways,
		invoices: invoices,
		notifier: notifier,
		runner:   runner,
		currency: currency,
	}
}

// Initiate проверяет бронь, при необходимости продлевает удержание и открывает сессию в шлюзе.
func (s *PaymentService) Initiate(ctx context.Context, in InitiatePaymentInput) (*models.Payment, error) {
	adapter, err := s.gateways.Get(in.Method)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "платёжный метод не поддерживается")
	}

	booking, err := s.bookings.load(ctx, in.BookingID)
	if err != nil {
		return nil, err
	}
	if math.Abs(in.Amount-booking.Price) > amountTolerance {
		return nil, apperror.ErrAmountMismatch
	}
	if booking.UserID != in.PayerID {
		return nil, apperror.ErrForbidden
	}
	if booking.Status != models.BookingStatusPending {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "бронь не ожидает оплаты")
	}

	booking, err = s.bookings.RevalidateHold(ctx, booking.ID, in.PayerID)
	if err != nil {
		return nil, err
	}

	session, err := adapter.Initiate(ctx, gateway.InitiateRequest{
		BookingID: booking.ID,
		Amount:    booking.Price,
		Currency:  s.currency,
		Payer:     in.Payer,
	})
	if err != nil {
		s.appendLog(ctx, &models.PaymentLog{
			Action:   models.PaymentLogActionInitiate,
			Request:  mustRaw(map[string]any{"booking_id": booking.ID, "method": in.Method, "amount": booking.Price}),
			Response: mustRaw(map[string]any{"error": err.Error()}),
		})
		logger.Log.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"method":     in.Method,
			"error":      err,
		}).Warn("payment: шлюз отклонил создание сессии")
		return nil, apperror.Wrap(err, apperror.ErrCodePaymentFailed, "не удалось создать платёж в шлюзе")
	}

	payment := &models.Payment{
		BookingID:     booking.ID,
		Amount:        booking.Price,
		Currency:      s.currency,
		Method:        in.Method,
		TransactionID: session.TransactionID,
		PaymentURL:    session.PaymentURL,
		Status:        models.PaymentStatusPending,
	}
	log := &models.PaymentLog{
		Action:   models.PaymentLogActionInitiate,
		Request:  session.Request,
		Response: session.Response,
	}
	if err := s.payments.Create(ctx, payment, log); err != nil {
		return nil, apperror.Internal(err)
	}
	return payment, nil
}

// HandleWebhook применяет уведомление шлюза. Повторная доставка не меняет итоговое состояние
// и не повторяет побочные эффекты. Неизвестная транзакция не является ошибкой.
func (s *PaymentService) HandleWebhook(ctx context.Context, method models.PaymentMethod, payload gateway.Payload) (*WebhookResult, error) {
	adapter, err := s.gateways.Get(method)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeNotFound, "платёжный метод не поддерживается")
	}

	cb, err := adapter.Reconcile(ctx, payload)
	if err != nil {
		s.appendLog(ctx, &models.PaymentLog{
			Action:   models.PaymentLogActionWebhook,
			Request:  payloadRaw(payload),
			Response: mustRaw(map[string]any{"outcome": WebhookRejected, "error": err.Error()}),
		})
		metrics.IncWebhook(string(method), WebhookRejected)
		if errors.Is(err, gateway.ErrMalformedCallback) {
			return nil, apperror.Wrap(err, apperror.ErrCodeBadRequest, "некорректное уведомление шлюза")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodePaymentFailed, "не удалось сверить платёж со шлюзом")
	}

	payment, err := s.locate(ctx, method, adapter, cb.TransactionID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		s.appendLog(ctx, &models.PaymentLog{
			Action:   models.PaymentLogActionWebhook,
			Request:  cb.Raw,
			Response: mustRaw(map[string]any{"outcome": WebhookUnknown}),
		})
		metrics.IncWebhook(string(method), WebhookUnknown)
		logger.Log.WithFields(logrus.Fields{
			"method":         method,
			"transaction_id": cb.TransactionID,
		}).Info("payment: уведомление по неизвестной транзакции пропущено")
		return &WebhookResult{Outcome: WebhookUnknown}, nil
	}

	applied, err := s.payments.TransitionStatus(ctx, payment.ID, cb.Status, models.PaymentStatusPending)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	result := &WebhookResult{Outcome: WebhookDuplicate, PaymentID: &payment.ID, Status: payment.Status}
	if applied {
		result.Outcome = WebhookApplied
		result.Status = cb.Status
		payment.Status = cb.Status
	}

	// Шлюз подтвердил списание по платежу, который уже помечен FAILED.
	if !applied && payment.Status == models.PaymentStatusFailed && cb.Status == models.PaymentStatusPaid {
		logger.Log.WithFields(logrus.Fields{
			"booking_id": payment.BookingID,
			"payment_id": payment.ID,
			"method":     method,
		}).Warn("payment: PAID после FAILED, требуется ручная сверка")
	}

	// Повторная доставка PAID заново утверждает статус брони: если прошлая попытка
	// упала между платежом и бронью, побочные эффекты выполнятся сейчас.
	var booking *models.Booking
	bookingApplied := false
	if payment.Status == models.PaymentStatusPaid && cb.Status == models.PaymentStatusPaid {
		b, ok, err := s.bookings.MarkPaid(ctx, payment.BookingID)
		switch {
		case err == nil:
			booking, bookingApplied = b, ok
		case apperror.Is(err, apperror.ErrCodeInvalidState):
			logger.Log.WithFields(logrus.Fields{
				"booking_id": payment.BookingID,
				"payment_id": payment.ID,
				"reason":     err.Error(),
			}).Warn("payment: оплата пришла по отменённой брони, требуется ручной возврат")
		default:
			s.appendLog(ctx, &models.PaymentLog{
				PaymentID: &payment.ID,
				Action:    models.PaymentLogActionWebhook,
				Request:   cb.Raw,
				Response:  mustRaw(map[string]any{"outcome": result.Outcome, "error": err.Error()}),
			})
			return nil, err
		}
	}

	s.appendLog(ctx, &models.PaymentLog{
		PaymentID: &payment.ID,
		Action:    models.PaymentLogActionWebhook,
		Request:   cb.Raw,
		Response: mustRaw(map[string]any{
			"outcome":  result.Outcome,
			"status":   result.Status,
			"verified": cb.Verified,
		}),
	})
	metrics.IncWebhook(string(method), result.Outcome)

	if (applied || bookingApplied) && booking != nil {
		s.afterPaid(ctx, *payment, *booking)
	}
	return result, nil
}

// ListByBooking возвращает платежи брони её участнику или администратору.
func (s *PaymentService) ListByBooking(ctx context.Context, bookingID uuid.UUID, actor models.Actor) ([]models.Payment, error) {
	if _, err := s.bookings.Get(ctx, bookingID, actor); err != nil {
		return nil, err
	}
	payments, err := s.payments.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return payments, nil
}

// InvoicePath возвращает относительный путь счёта в хранилище.
func (s *PaymentService) InvoicePath(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (string, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return "", asAppError(err)
	}
	if _, err := s.bookings.Get(ctx, payment.BookingID, actor); err != nil {
		return "", err
	}
	if payment.InvoiceURL == nil {
		return "", apperror.New(apperror.ErrCodeNotFound, "счёт ещё не сформирован")
	}
	return path.Join(payment.BookingID.String(), invoice.FileName(payment.ID)), nil
}

// locate ищет платёж по номеру транзакции, затем по брони из составного номера.
func (s *PaymentService) locate(ctx context.Context, method models.PaymentMethod, adapter gateway.Adapter, transactionID string) (*models.Payment, error) {
	payment, err := s.payments.GetByTransactionID(ctx, method, transactionID)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, apperror.Internal(err)
	}

	bookingID, ok := adapter.BookingRef(transactionID)
	if !ok {
		return nil, nil
	}
	payment, err = s.payments.GetLatestByBookingID(ctx, bookingID)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if payment.Method != method {
		return nil, nil
	}
	return payment, nil
}

// afterPaid формирует счёт и уведомляет участников. Ошибки только логируются.
func (s *PaymentService) afterPaid(ctx context.Context, payment models.Payment, booking models.Booking) {
	s.runner.Run(ctx, "payment-paid", func(ctx context.Context) {
		fields := logrus.Fields{"booking_id": booking.ID, "payment_id": payment.ID}

		if s.invoices != nil {
			url, err := s.invoices.Generate(ctx, &payment, &booking)
			if err != nil {
				logger.Log.WithFields(fields).WithError(err).Warn("payment: не удалось сформировать счёт")
			} else if err := s.payments.SetInvoiceURL(ctx, payment.ID, url); err != nil {
				logger.Log.WithFields(fields).WithError(err).Warn("payment: не удалось сохранить ссылку на счёт")
			}
		}

		data := map[string]any{
			"booking_id": booking.ID,
			"payment_id": payment.ID,
			"amount":     payment.Amount,
			"currency":   payment.Currency,
			"status":     booking.Status,
			"start_time": booking.StartTime,
			"end_time":   booking.EndTime,
		}
		s.notifier.Notify(ctx, events.ToUser(events.KindBookingConfirmed, booking.UserID, data))
		s.notifier.Notify(ctx, events.ToUser(events.KindBookingConfirmed, booking.ProfessionalID, data))
	})
}

// appendLog пишет журнал платежа. Ошибка записи не прерывает сверку.
func (s *PaymentService) appendLog(ctx context.Context, entry *models.PaymentLog) {
	if err := s.payments.AppendLog(ctx, entry); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"action": entry.Action,
			"error":  err,
		}).Error("payment: не удалось записать журнал")
	}
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func payloadRaw(p gateway.Payload) json.RawMessage {
	if len(p.Form) > 0 {
		return mustRaw(p.Form)
	}
	if json.Valid(p.Body) {
		return p.Body
	}
	return mustRaw(map[string]string{"body": string(p.Body)})
}
