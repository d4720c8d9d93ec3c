package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahdimonir/professionals-bd-sub001/internal/events"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/pkg/apperror"
)

var testAdmin = models.Actor{ID: uuid.New(), Role: models.RoleAdmin}

// paidBooking кладёт оплаченную бронь и её платёж.
func (e *engine) paidBooking(t *testing.T, status models.BookingStatus, offset time.Duration) (models.Booking, *models.Payment) {
	t.Helper()
	booking := e.seed(status, offset, time.Hour)
	payment := &models.Payment{
		BookingID:     booking.ID,
		Amount:        booking.Price,
		Currency:      "BDT",
		Method:        models.PaymentMethodSSLCommerz,
		TransactionID: "trx-" + booking.ID.String(),
		Status:        models.PaymentStatusPaid,
	}
	require.NoError(t, e.payments.Create(context.Background(), payment, &models.PaymentLog{Action: models.PaymentLogActionInitiate}))
	return booking, payment
}

func (e *engine) raise(t *testing.T, booking models.Booking, typ models.DisputeType, metadata string) *models.Dispute {
	t.Helper()
	dispute, err := e.disputeSvc.Raise(context.Background(), RaiseDisputeInput{
		UserID:      booking.UserID,
		BookingID:   booking.ID,
		Description: "специалист не вышел на связь",
		Type:        typ,
		Metadata:    json.RawMessage(metadata),
	})
	require.NoError(t, err)
	return dispute
}

func refund(v float64) *float64 { return &v }

func TestDisputeService_Raise(t *testing.T) {
	e := newEngine()
	booking, _ := e.paidBooking(t, models.BookingStatusPaid, time.Hour)

	dispute := e.raise(t, booking, "", "")
	assert.Equal(t, models.DisputeTypeBooking, dispute.Type)
	assert.Equal(t, models.DisputeStatusOpen, dispute.Status)
	assert.JSONEq(t, `{}`, string(dispute.Metadata))

	var toAdmins int
	for _, m := range e.notifier.messages {
		if m.Audience == events.AudienceAdmins {
			toAdmins++
		}
	}
	assert.Equal(t, 1, toAdmins)
	assert.Len(t, e.notifier.to(booking.ProfessionalID), 1)

	_, err := e.disputeSvc.Raise(context.Background(), RaiseDisputeInput{
		UserID: booking.UserID, BookingID: booking.ID, Description: "ещё раз",
	})
	assert.True(t, apperror.IsConflict(err))
}

func TestDisputeService_Raise_Rules(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	pending := e.seed(models.BookingStatusPending, time.Hour, time.Hour)
	paid := e.seed(models.BookingStatusPaid, 3*time.Hour, time.Hour)

	tests := []struct {
		name  string
		input RaiseDisputeInput
		check func(error) bool
	}{
		{
			name:  "пустое описание",
			input: RaiseDisputeInput{UserID: paid.UserID, BookingID: paid.ID, Description: "  "},
			check: apperror.IsValidation,
		},
		{
			name:  "неизвестный тип",
			input: RaiseDisputeInput{UserID: paid.UserID, BookingID: paid.ID, Description: "x", Type: "OTHER"},
			check: apperror.IsValidation,
		},
		{
			name:  "отрицательный возврат",
			input: RaiseDisputeInput{UserID: paid.UserID, BookingID: paid.ID, Description: "x", RequestedRefund: refund(-1)},
			check: apperror.IsValidation,
		},
		{
			name:  "metadata не JSON",
			input: RaiseDisputeInput{UserID: paid.UserID, BookingID: paid.ID, Description: "x", Metadata: json.RawMessage("{")},
			check: apperror.IsValidation,
		},
		{
			name:  "чужая бронь",
			input: RaiseDisputeInput{UserID: uuid.New(), BookingID: paid.ID, Description: "x"},
			check: apperror.IsForbidden,
		},
		{
			name:  "неоплаченная бронь",
			input: RaiseDisputeInput{UserID: pending.UserID, BookingID: pending.ID, Description: "x"},
			check: func(err error) bool { return apperror.Is(err, apperror.ErrCodeInvalidState) },
		},
		{
			name:  "перенос неподтверждённой брони",
			input: RaiseDisputeInput{UserID: paid.UserID, BookingID: paid.ID, Description: "x", Type: models.DisputeTypeReschedule},
			check: func(err error) bool { return apperror.Is(err, apperror.ErrCodeInvalidState) },
		},
		{
			name:  "нет брони",
			input: RaiseDisputeInput{UserID: paid.UserID, BookingID: uuid.New(), Description: "x"},
			check: apperror.IsNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.disputeSvc.Raise(ctx, tt.input)
			require.Error(t, err)
			assert.True(t, tt.check(err), "неожиданная ошибка: %v", err)
		})
	}
}

func TestDisputeService_ResolveRefund(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	booking, payment := e.paidBooking(t, models.BookingStatusConfirmed, time.Hour)
	dispute := e.raise(t, booking, models.DisputeTypeBooking, "")
	note := "возврат согласован"

	resolved, err := e.disputeSvc.Resolve(ctx, ResolveDisputeInput{
		DisputeID:    dispute.ID,
		Resolver:     testAdmin,
		Approved:     true,
		RefundAmount: refund(450),
		Note:         &note,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, testAdmin.ID, *resolved.ResolvedBy)
	assert.Equal(t, testNow, *resolved.ResolvedAt)

	storedPayment, err := e.payments.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, storedPayment.Status)
	assert.Equal(t, 450.0, *storedPayment.RefundAmount)
	assert.Equal(t, "refund_"+dispute.ID.String(), *storedPayment.RefundTrxID)

	storedBooking := e.bookings.get(booking.ID)
	assert.Equal(t, models.BookingStatusCancelled, storedBooking.Status)
	assert.Equal(t, "refund approved via dispute "+dispute.ID.String(), *storedBooking.CancellationReason)

	require.Len(t, e.audit.entries, 1)
	assert.Equal(t, "DISPUTE_RESOLVED", e.audit.entries[0].Action)
	assert.Equal(t, dispute.ID, e.audit.entries[0].EntityID)

	var resolvedForClient int
	for _, m := range e.notifier.to(booking.UserID) {
		if m.Kind == events.KindDisputeResolved {
			resolvedForClient++
			assert.Equal(t, 450.0, m.Data["refund_amount"])
		}
	}
	assert.Equal(t, 1, resolvedForClient)

	_, err = e.disputeSvc.Resolve(ctx, ResolveDisputeInput{DisputeID: dispute.ID, Resolver: testAdmin, Approved: false})
	assert.True(t, apperror.Is(err, apperror.ErrCodeInvalidState))
}

// flakyRefunds отказывает в MarkRefunded заданное число раз.
type flakyRefunds struct {
	*memPayments
	failures int
}

func (f *flakyRefunds) MarkRefunded(ctx context.Context, id uuid.UUID, amount float64, refundTrxID string) (bool, error) {
	if f.failures > 0 {
		f.failures--
		return false, errors.New("connection reset")
	}
	return f.memPayments.MarkRefunded(ctx, id, amount, refundTrxID)
}

func TestDisputeService_ResolveRefund_StorageFailureIsRetryable(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	e.disputeSvc = NewDisputeService(e.disputes, &flakyRefunds{memPayments: e.payments, failures: 1}, e.bookingSvc, e.audit, e.notifier)
	e.disputeSvc.now = e.clock.Now
	booking, payment := e.paidBooking(t, models.BookingStatusPaid, time.Hour)
	dispute := e.raise(t, booking, models.DisputeTypeBooking, "")
	in := ResolveDisputeInput{DisputeID: dispute.ID, Resolver: testAdmin, Approved: true, RefundAmount: refund(450)}

	_, err := e.disputeSvc.Resolve(ctx, in)
	assert.True(t, apperror.Is(err, apperror.ErrCodeInternal))

	stored, _ := e.disputes.GetByID(ctx, dispute.ID)
	assert.Equal(t, models.DisputeStatusOpen, stored.Status)
	storedPayment, _ := e.payments.GetByID(ctx, payment.ID)
	assert.Equal(t, models.PaymentStatusPaid, storedPayment.Status)
	assert.Equal(t, models.BookingStatusPaid, e.bookings.get(booking.ID).Status)

	resolved, err := e.disputeSvc.Resolve(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, resolved.Status)
	storedPayment, _ = e.payments.GetByID(ctx, payment.ID)
	assert.Equal(t, models.PaymentStatusRefunded, storedPayment.Status)
	assert.Equal(t, models.BookingStatusCancelled, e.bookings.get(booking.ID).Status)
	require.Len(t, e.audit.entries, 1)
}

func TestDisputeService_ResolveRefund_ResumesAfterRecordedRefund(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	booking, payment := e.paidBooking(t, models.BookingStatusPaid, time.Hour)
	dispute := e.raise(t, booking, models.DisputeTypeBooking, "")

	// Возврат уже записан прошлой попыткой, отмена брони не успела.
	ok, err := e.payments.MarkRefunded(ctx, payment.ID, 450, "refund_"+dispute.ID.String())
	require.NoError(t, err)
	require.True(t, ok)

	resolved, err := e.disputeSvc.Resolve(ctx, ResolveDisputeInput{
		DisputeID: dispute.ID, Resolver: testAdmin, Approved: true, RefundAmount: refund(450),
	})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, resolved.Status)
	assert.Equal(t, models.BookingStatusCancelled, e.bookings.get(booking.ID).Status)
}

func TestDisputeService_ResolveRefund_CompletedBookingStays(t *testing.T) {
	e := newEngine()
	booking, payment := e.paidBooking(t, models.BookingStatusCompleted, -2*time.Hour)
	dispute := e.raise(t, booking, models.DisputeTypeBooking, "")

	_, err := e.disputeSvc.Resolve(context.Background(), ResolveDisputeInput{
		DisputeID: dispute.ID, Resolver: testAdmin, Approved: true, RefundAmount: refund(200),
	})
	require.NoError(t, err)

	stored, _ := e.payments.GetByID(context.Background(), payment.ID)
	assert.Equal(t, models.PaymentStatusRefunded, stored.Status)
	assert.Equal(t, models.BookingStatusCompleted, e.bookings.get(booking.ID).Status)
}

func TestDisputeService_ResolveRefund_ExceedsPayment(t *testing.T) {
	e := newEngine()
	booking, payment := e.paidBooking(t, models.BookingStatusPaid, time.Hour)
	dispute := e.raise(t, booking, models.DisputeTypeBooking, "")

	_, err := e.disputeSvc.Resolve(context.Background(), ResolveDisputeInput{
		DisputeID: dispute.ID, Resolver: testAdmin, Approved: true, RefundAmount: refund(500),
	})
	assert.True(t, apperror.IsValidation(err))

	stored, _ := e.disputes.GetByID(context.Background(), dispute.ID)
	assert.Equal(t, models.DisputeStatusOpen, stored.Status)
	storedPayment, _ := e.payments.GetByID(context.Background(), payment.ID)
	assert.Equal(t, models.PaymentStatusPaid, storedPayment.Status)
}

func TestDisputeService_Reject(t *testing.T) {
	e := newEngine()
	booking, payment := e.paidBooking(t, models.BookingStatusPaid, time.Hour)
	dispute := e.raise(t, booking, models.DisputeTypeBooking, "")

	resolved, err := e.disputeSvc.Resolve(context.Background(), ResolveDisputeInput{
		DisputeID: dispute.ID, Resolver: testAdmin, Approved: false,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusClosed, resolved.Status)

	stored, _ := e.payments.GetByID(context.Background(), payment.ID)
	assert.Equal(t, models.PaymentStatusPaid, stored.Status)
	assert.Equal(t, models.BookingStatusPaid, e.bookings.get(booking.ID).Status)
}

func TestDisputeService_Resolve_RequiresModerator(t *testing.T) {
	e := newEngine()
	booking, _ := e.paidBooking(t, models.BookingStatusPaid, time.Hour)
	dispute := e.raise(t, booking, models.DisputeTypeBooking, "")

	_, err := e.disputeSvc.Resolve(context.Background(), ResolveDisputeInput{
		DisputeID: dispute.ID,
		Resolver:  models.Actor{ID: booking.ProfessionalID, Role: models.RoleProfessional},
		Approved:  true,
	})
	assert.True(t, apperror.IsForbidden(err))
}

func TestDisputeService_ResolveReschedule(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	booking := e.seed(models.BookingStatusConfirmed, 24*time.Hour, time.Hour)
	newStart := testNow.Add(48 * time.Hour)
	metadata := `{"newStartTime":"` + newStart.Format(time.RFC3339) + `","newEndTime":"` + newStart.Add(time.Hour).Format(time.RFC3339) + `"}`
	dispute := e.raise(t, booking, models.DisputeTypeReschedule, metadata)

	resolved, err := e.disputeSvc.Resolve(ctx, ResolveDisputeInput{DisputeID: dispute.ID, Resolver: testAdmin, Approved: true})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, resolved.Status)

	stored := e.bookings.get(booking.ID)
	assert.True(t, newStart.Equal(stored.StartTime))
	assert.True(t, newStart.Add(time.Hour).Equal(stored.EndTime))
	assert.Equal(t, models.BookingStatusConfirmed, stored.Status)

	require.Len(t, e.audit.entries, 1)
	assert.Equal(t, "DISPUTE_RESCHEDULE_RESOLVED", e.audit.entries[0].Action)
	assert.Contains(t, e.notifier.kinds(), events.KindBookingRescheduled)
}

func TestDisputeService_ResolveReschedule_MissingProposal(t *testing.T) {
	e := newEngine()
	booking := e.seed(models.BookingStatusConfirmed, 24*time.Hour, time.Hour)
	dispute := e.raise(t, booking, models.DisputeTypeReschedule, `{"newStartTime":"2024-06-05T10:00:00Z"}`)

	_, err := e.disputeSvc.Resolve(context.Background(), ResolveDisputeInput{DisputeID: dispute.ID, Resolver: testAdmin, Approved: true})
	assert.True(t, apperror.Is(err, apperror.ErrCodeInvalidState))

	stored, _ := e.disputes.GetByID(context.Background(), dispute.ID)
	assert.Equal(t, models.DisputeStatusOpen, stored.Status)
}

func TestDisputeService_ResolveReschedule_ConflictKeepsDisputeOpen(t *testing.T) {
	e := newEngine()
	booking := e.seed(models.BookingStatusConfirmed, 24*time.Hour, time.Hour)
	e.seed(models.BookingStatusPaid, 48*time.Hour, time.Hour)
	newStart := testNow.Add(48 * time.Hour)
	metadata := `{"newStartTime":"` + newStart.Format(time.RFC3339) + `","newEndTime":"` + newStart.Add(time.Hour).Format(time.RFC3339) + `"}`
	dispute := e.raise(t, booking, models.DisputeTypeReschedule, metadata)

	_, err := e.disputeSvc.Resolve(context.Background(), ResolveDisputeInput{DisputeID: dispute.ID, Resolver: testAdmin, Approved: true})
	assert.True(t, apperror.IsConflict(err))

	stored, _ := e.disputes.GetByID(context.Background(), dispute.ID)
	assert.Equal(t, models.DisputeStatusOpen, stored.Status)
	assert.Nil(t, stored.ResolvedBy)
	assert.Nil(t, stored.ResolvedAt)
	assert.True(t, testNow.Add(24*time.Hour).Equal(e.bookings.get(booking.ID).StartTime))
	assert.Empty(t, e.audit.entries)
}

func TestDisputeService_ResolveReschedule_AlreadyClaimedLeavesBooking(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	booking := e.seed(models.BookingStatusConfirmed, 24*time.Hour, time.Hour)
	newStart := testNow.Add(48 * time.Hour)
	metadata := `{"newStartTime":"` + newStart.Format(time.RFC3339) + `","newEndTime":"` + newStart.Add(time.Hour).Format(time.RFC3339) + `"}`
	dispute := e.raise(t, booking, models.DisputeTypeReschedule, metadata)

	// Другой модератор успел закрыть спор после того, как этот его прочитал.
	stale := *dispute
	ok, err := e.disputes.Resolve(ctx, dispute.ID, models.DisputeStatusClosed, uuid.New(), nil, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.disputeSvc.resolveReschedule(ctx, ResolveDisputeInput{DisputeID: dispute.ID, Resolver: testAdmin, Approved: true}, &stale, &booking)
	assert.True(t, apperror.Is(err, apperror.ErrCodeInvalidState))

	assert.True(t, testNow.Add(24*time.Hour).Equal(e.bookings.get(booking.ID).StartTime))
	stored, _ := e.disputes.GetByID(ctx, dispute.ID)
	assert.Equal(t, models.DisputeStatusClosed, stored.Status)
	assert.Empty(t, e.audit.entries)
}

func TestDisputeService_ListByStatus(t *testing.T) {
	e := newEngine()
	booking, _ := e.paidBooking(t, models.BookingStatusPaid, time.Hour)
	e.raise(t, booking, models.DisputeTypeBooking, "")

	open, err := e.disputeSvc.ListByStatus(context.Background(), testAdmin, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	_, err = e.disputeSvc.ListByStatus(context.Background(), models.Actor{ID: e.client, Role: models.RoleClient}, "", 0, 0)
	assert.True(t, apperror.IsForbidden(err))

	_, err = e.disputeSvc.ListByStatus(context.Background(), testAdmin, "PENDING", 0, 0)
	assert.True(t, apperror.IsValidation(err))
}
