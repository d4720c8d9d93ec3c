package service

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mahdimonir/professionals-bd-sub001/internal/events"
	"github.com/mahdimonir/professionals-bd-sub001/internal/gateway"
	"github.com/mahdimonir/professionals-bd-sub001/internal/invoice"
	"github.com/mahdimonir/professionals-bd-sub001/internal/logger"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/pkg/apperror"
)

func (e *engine) expectSession(trxID string) {
	e.adapter.On("Initiate", mock.Anything, mock.Anything).Return(&gateway.Session{
		TransactionID: trxID,
		PaymentURL:    "https://sandbox.example/pay/" + trxID,
		Request:       json.RawMessage(`{"tran_id":"` + trxID + `"}`),
		Response:      json.RawMessage(`{"status":"SUCCESS"}`),
	}, nil).Once()
}

func (e *engine) expectCallback(trxID string, status models.PaymentStatus) {
	e.adapter.On("Reconcile", mock.Anything, mock.Anything).Return(&gateway.Callback{
		TransactionID: trxID,
		Status:        status,
		Verified:      true,
		Raw:           json.RawMessage(`{"tran_id":"` + trxID + `"}`),
	}, nil).Once()
}

func (e *engine) initiate(booking models.Booking) (*models.Payment, error) {
	return e.paymentSvc.Initiate(context.Background(), InitiatePaymentInput{
		BookingID: booking.ID,
		PayerID:   booking.UserID,
		Method:    models.PaymentMethodSSLCommerz,
		Amount:    booking.Price,
	})
}

// captureLogs подменяет хуки глобального логгера на время теста.
func captureLogs(t *testing.T) *logtest.Hook {
	t.Helper()
	previous := logger.Log.ReplaceHooks(make(logrus.LevelHooks))
	hook := logtest.NewLocal(logger.Log)
	t.Cleanup(func() { logger.Log.ReplaceHooks(previous) })
	return hook
}

func warningsFor(hook *logtest.Hook, paymentID uuid.UUID) []string {
	var messages []string
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["payment_id"] == paymentID {
			messages = append(messages, entry.Message)
		}
	}
	return messages
}

func TestPaymentService_Initiate(t *testing.T) {
	e := newEngine()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	e.expectSession("trx-1")

	payment, err := e.initiate(booking)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, "trx-1", payment.TransactionID)
	assert.Equal(t, 450.0, payment.Amount)
	assert.Equal(t, "BDT", payment.Currency)

	logs := e.payments.logsFor(models.PaymentLogActionInitiate)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].PaymentID)
	assert.Equal(t, payment.ID, *logs[0].PaymentID)
	e.adapter.AssertExpectations(t)
}

func TestPaymentService_Initiate_AmountMismatch(t *testing.T) {
	e := newEngine()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)

	_, err := e.paymentSvc.Initiate(context.Background(), InitiatePaymentInput{
		BookingID: booking.ID,
		PayerID:   booking.UserID,
		Method:    models.PaymentMethodSSLCommerz,
		Amount:    400,
	})
	assert.True(t, apperror.Is(err, apperror.ErrCodeAmountMismatch))
	assert.Zero(t, e.payments.count())
	e.adapter.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}

func TestPaymentService_Initiate_Rejections(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	paid := e.seed(models.BookingStatusPaid, 3*time.Hour, time.Hour)

	_, err := e.paymentSvc.Initiate(ctx, InitiatePaymentInput{
		BookingID: booking.ID, PayerID: booking.UserID, Method: models.PaymentMethodBKash, Amount: 450,
	})
	assert.True(t, apperror.IsValidation(err))

	_, err = e.paymentSvc.Initiate(ctx, InitiatePaymentInput{
		BookingID: booking.ID, PayerID: uuid.New(), Method: models.PaymentMethodSSLCommerz, Amount: 450,
	})
	assert.True(t, apperror.IsForbidden(err))

	_, err = e.initiate(paid)
	assert.True(t, apperror.Is(err, apperror.ErrCodeInvalidState))

	_, err = e.paymentSvc.Initiate(ctx, InitiatePaymentInput{
		BookingID: uuid.New(), PayerID: booking.UserID, Method: models.PaymentMethodSSLCommerz, Amount: 450,
	})
	assert.True(t, apperror.IsNotFound(err))

	assert.Zero(t, e.payments.count())
}

func TestPaymentService_Initiate_GatewayFailure(t *testing.T) {
	e := newEngine()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	e.adapter.On("Initiate", mock.Anything, mock.Anything).Return(nil, errors.New("503 от шлюза")).Once()

	_, err := e.initiate(booking)
	assert.True(t, apperror.Is(err, apperror.ErrCodePaymentFailed))
	assert.Zero(t, e.payments.count())

	logs := e.payments.logsFor(models.PaymentLogActionInitiate)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].PaymentID)
	assert.Contains(t, string(logs[0].Response), "503")
}

func TestPaymentService_Initiate_RefreshesExpiredHold(t *testing.T) {
	e := newEngine()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	e.clock.Advance(20 * time.Minute)
	e.expectSession("trx-1")

	_, err := e.initiate(booking)
	require.NoError(t, err)

	stored := e.bookings.get(booking.ID)
	assert.Equal(t, models.BookingStatusPending, stored.Status)
	assert.Equal(t, e.clock.Now(), stored.CreatedAt)
	assert.Equal(t, 1, stored.HoldRefreshes)
}

func TestPaymentService_Initiate_ExpiredHoldTaken(t *testing.T) {
	e := newEngine()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	e.clock.Advance(20 * time.Minute)

	_, err := e.bookingSvc.Create(context.Background(), CreateBookingInput{
		UserID:         uuid.New(),
		ProfessionalID: e.professional.UserID,
		StartTime:      booking.StartTime,
		EndTime:        booking.EndTime,
	})
	require.NoError(t, err)

	_, err = e.initiate(booking)
	assert.True(t, apperror.IsConflict(err))

	stored := e.bookings.get(booking.ID)
	assert.Equal(t, models.BookingStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancellationReason)
	assert.Equal(t, "slot expired and taken", *stored.CancellationReason)
	assert.Zero(t, e.payments.count())
	e.adapter.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}

func TestPaymentService_Initiate_RefreshLimit(t *testing.T) {
	e := newEngine()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	require.NoError(t, e.bookings.update(booking.ID, func(b *models.Booking) { b.HoldRefreshes = 2 }))
	e.clock.Advance(20 * time.Minute)

	_, err := e.initiate(booking)
	assert.True(t, apperror.Is(err, apperror.ErrCodeInvalidState))
	assert.Equal(t, models.BookingStatusCancelled, e.bookings.get(booking.ID).Status)
}

func TestPaymentService_Webhook_PaidIsIdempotent(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	e.expectSession("trx-1")
	payment, err := e.initiate(booking)
	require.NoError(t, err)

	e.expectCallback("trx-1", models.PaymentStatusPaid)
	result, err := e.paymentSvc.HandleWebhook(ctx, models.PaymentMethodSSLCommerz, gateway.Payload{})
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, result.Outcome)
	assert.Equal(t, models.PaymentStatusPaid, result.Status)
	assert.Equal(t, models.BookingStatusPaid, e.bookings.get(booking.ID).Status)
	assert.Equal(t, 1, e.invoices.count())
	assert.Len(t, e.notifier.to(booking.UserID), 1)
	assert.Len(t, e.notifier.to(booking.ProfessionalID), 1)

	e.expectCallback("trx-1", models.PaymentStatusPaid)
	result, err = e.paymentSvc.HandleWebhook(ctx, models.PaymentMethodSSLCommerz, gateway.Payload{})
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, result.Outcome)
	assert.Equal(t, models.PaymentStatusPaid, result.Status)
	assert.Equal(t, 1, e.invoices.count())
	assert.Len(t, e.notifier.to(booking.UserID), 1)

	stored, err := e.payments.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.Status)
	require.NotNil(t, stored.InvoiceURL)
	assert.Len(t, e.payments.logsFor(models.PaymentLogActionWebhook), 2)
}

func TestPaymentService_Webhook_Failed(t *testing.T) {
	e := newEngine()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	e.expectSession("trx-1")
	_, err := e.initiate(booking)
	require.NoError(t, err)

	e.expectCallback("trx-1", models.PaymentStatusFailed)
	result, err := e.paymentSvc.HandleWebhook(context.Background(), models.PaymentMethodSSLCommerz, gateway.Payload{})
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, result.Outcome)
	assert.Equal(t, models.PaymentStatusFailed, result.Status)
	assert.Equal(t, models.BookingStatusPending, e.bookings.get(booking.ID).Status)
	assert.Zero(t, e.invoices.count())

	// Поздний PAID не оживляет проваленный платёж.
	e.expectCallback("trx-1", models.PaymentStatusPaid)
	result, err = e.paymentSvc.HandleWebhook(context.Background(), models.PaymentMethodSSLCommerz, gateway.Payload{})
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, result.Outcome)
	assert.Equal(t, models.PaymentStatusFailed, result.Status)
	assert.Equal(t, models.BookingStatusPending, e.bookings.get(booking.ID).Status)
}

func TestPaymentService_Webhook_PaidAfterFailedNeedsReconciliation(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	hook := captureLogs(t)
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	e.expectSession("trx-1")
	payment, err := e.initiate(booking)
	require.NoError(t, err)

	e.expectCallback("trx-1", models.PaymentStatusFailed)
	_, err = e.paymentSvc.HandleWebhook(ctx, models.PaymentMethodSSLCommerz, gateway.Payload{})
	require.NoError(t, err)
	assert.Empty(t, warningsFor(hook, payment.ID))

	e.expectCallback("trx-1", models.PaymentStatusPaid)
	result, err := e.paymentSvc.HandleWebhook(ctx, models.PaymentMethodSSLCommerz, gateway.Payload{})
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, result.Outcome)
	assert.Equal(t, models.PaymentStatusFailed, result.Status)

	stored, err := e.payments.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.Status)
	assert.Equal(t, []string{"payment: PAID после FAILED, требуется ручная сверка"}, warningsFor(hook, payment.ID))
}

func TestPaymentService_Webhook_LatePaidAfterHoldTaken(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	hook := captureLogs(t)
	held := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	e.expectSession("trx-a")
	payment, err := e.initiate(held)
	require.NoError(t, err)

	e.clock.Advance(16 * time.Minute)
	taken, err := e.bookingSvc.Create(ctx, CreateBookingInput{
		UserID:         uuid.New(),
		ProfessionalID: e.professional.UserID,
		StartTime:      held.StartTime,
		EndTime:        held.EndTime,
	})
	require.NoError(t, err)

	e.expectCallback("trx-a", models.PaymentStatusPaid)
	result, err := e.paymentSvc.HandleWebhook(ctx, models.PaymentMethodSSLCommerz, gateway.Payload{})
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, result.Outcome)
	assert.Equal(t, models.PaymentStatusPaid, result.Status)

	stored := e.bookings.get(held.ID)
	assert.NotEqual(t, models.BookingStatusPaid, stored.Status)
	assert.Equal(t, models.BookingStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancellationReason)
	assert.Equal(t, "slot expired and taken", *stored.CancellationReason)
	assert.Equal(t, models.BookingStatusPending, e.bookings.get(taken.ID).Status)
	assertNoLiveOverlap(t, e)

	assert.Zero(t, e.invoices.count())
	assert.NotContains(t, e.notifier.kinds(), events.KindBookingConfirmed)
	assert.Equal(t, []string{"payment: оплата пришла по отменённой брони, требуется ручной возврат"}, warningsFor(hook, payment.ID))
}

func TestPaymentService_Webhook_UnknownTransaction(t *testing.T) {
	e := newEngine()
	e.expectCallback("missing", models.PaymentStatusPaid)
	e.adapter.On("BookingRef", "missing").Return(uuid.Nil, false).Once()

	result, err := e.paymentSvc.HandleWebhook(context.Background(), models.PaymentMethodSSLCommerz, gateway.Payload{})
	require.NoError(t, err)
	assert.Equal(t, WebhookUnknown, result.Outcome)
	assert.Nil(t, result.PaymentID)

	logs := e.payments.logsFor(models.PaymentLogActionWebhook)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].PaymentID)
	assert.Zero(t, e.invoices.count())
}

func TestPaymentService_Webhook_FallsBackToBookingRef(t *testing.T) {
	e := newEngine()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	e.expectSession("trx-1")
	payment, err := e.initiate(booking)
	require.NoError(t, err)

	e.expectCallback("trx-renamed", models.PaymentStatusPaid)
	e.adapter.On("BookingRef", "trx-renamed").Return(booking.ID, true).Once()

	result, err := e.paymentSvc.HandleWebhook(context.Background(), models.PaymentMethodSSLCommerz, gateway.Payload{})
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, result.Outcome)
	require.NotNil(t, result.PaymentID)
	assert.Equal(t, payment.ID, *result.PaymentID)
	assert.Equal(t, models.BookingStatusPaid, e.bookings.get(booking.ID).Status)
}

func TestPaymentService_Webhook_Malformed(t *testing.T) {
	e := newEngine()
	e.adapter.On("Reconcile", mock.Anything, mock.Anything).Return(nil, gateway.ErrMalformedCallback).Once()

	_, err := e.paymentSvc.HandleWebhook(context.Background(), models.PaymentMethodSSLCommerz,
		gateway.Payload{Body: []byte("not json")})
	assert.True(t, apperror.Is(err, apperror.ErrCodeBadRequest))
	assert.Len(t, e.payments.logsFor(models.PaymentLogActionWebhook), 1)
}

func TestPaymentService_Webhook_PaidAfterCancel(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	e.expectSession("trx-1")
	_, err := e.initiate(booking)
	require.NoError(t, err)

	_, err = e.bookingSvc.Cancel(ctx, booking.ID, booking.UserID, "передумал")
	require.NoError(t, err)

	e.expectCallback("trx-1", models.PaymentStatusPaid)
	result, err := e.paymentSvc.HandleWebhook(ctx, models.PaymentMethodSSLCommerz, gateway.Payload{})
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, result.Outcome)
	assert.Equal(t, models.BookingStatusCancelled, e.bookings.get(booking.ID).Status)
	assert.Zero(t, e.invoices.count())
	assert.NotContains(t, e.notifier.kinds(), events.KindBookingConfirmed)
}

func TestPaymentService_InvoicePath(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	booking := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	e.expectSession("trx-1")
	payment, err := e.initiate(booking)
	require.NoError(t, err)
	client := models.Actor{ID: booking.UserID, Role: models.RoleClient}

	_, err = e.paymentSvc.InvoicePath(ctx, payment.ID, client)
	assert.True(t, apperror.IsNotFound(err))

	e.expectCallback("trx-1", models.PaymentStatusPaid)
	_, err = e.paymentSvc.HandleWebhook(ctx, models.PaymentMethodSSLCommerz, gateway.Payload{})
	require.NoError(t, err)

	got, err := e.paymentSvc.InvoicePath(ctx, payment.ID, client)
	require.NoError(t, err)
	assert.Equal(t, path.Join(booking.ID.String(), invoice.FileName(payment.ID)), got)

	_, err = e.paymentSvc.InvoicePath(ctx, payment.ID, models.Actor{ID: uuid.New(), Role: models.RoleClient})
	assert.True(t, apperror.IsForbidden(err))

	listed, err := e.paymentSvc.ListByBooking(ctx, booking.ID, client)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
