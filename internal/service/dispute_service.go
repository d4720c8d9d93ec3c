package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mahdimonir/professionals-bd-sub001/internal/events"
	"github.com/mahdimonir/professionals-bd-sub001/internal/logger"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/pkg/apperror"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository"
)

// RaiseDisputeInput - обращение участника по брони.
type RaiseDisputeInput struct {
	UserID          uuid.UUID
	BookingID       uuid.UUID
	Description     string
	Type            models.DisputeType
	RequestedRefund *float64
	Metadata        json.RawMessage
}

// ResolveDisputeInput - решение модератора.
type ResolveDisputeInput struct {
	DisputeID    uuid.UUID
	Resolver     models.Actor
	Approved     bool
	RefundAmount *float64
	Note         *string
}

// DisputeService открывает споры и исполняет решения по ним.
type DisputeService struct {
	disputes DisputeRepository
	payments PaymentRepository
	bookings *BookingService
	audit    AuditRepository
	notifier events.Notifier
	now      func() time.Time
}

// NewDisputeService создаёт сервис споров.
func NewDisputeService(disputes DisputeRepository, payments PaymentRepository, bookings *BookingService, audit AuditRepository, notifier events.Notifier) *DisputeService {
	if notifier == nil {
		notifier = events.Nop{}
	}
	return &DisputeService{
		disputes: disputes,
		payments: payments,
		bookings: bookings,
		audit:    audit,
		notifier: notifier,
		now:      time.Now,
	}
}

// Raise открывает спор участника брони.
func (s *DisputeService) Raise(ctx context.Context, in RaiseDisputeInput) (*models.Dispute, error) {
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "описание спора обязательно")
	}
	if in.Type == "" {
		in.Type = models.DisputeTypeBooking
	}
	if _, ok := models.ValidDisputeTypes[in.Type]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный тип спора")
	}
	if in.RequestedRefund != nil && *in.RequestedRefund <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма возврата должна быть положительной")
	}
	metadata := in.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	if !json.Valid(metadata) {
		return nil, apperror.New(apperror.ErrCodeValidation, "metadata должна быть JSON")
	}

	booking, err := s.bookings.load(ctx, in.BookingID)
	if err != nil {
		return nil, err
	}
	if !booking.IsParticipant(in.UserID) {
		return nil, apperror.ErrForbidden
	}

	switch in.Type {
	case models.DisputeTypeReschedule:
		if booking.Status != models.BookingStatusConfirmed {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "перенос возможен только для подтверждённой брони")
		}
	default:
		switch booking.Status {
		case models.BookingStatusPaid, models.BookingStatusConfirmed, models.BookingStatusCompleted:
		default:
			return nil, apperror.New(apperror.ErrCodeInvalidState, fmt.Sprintf("спор по брони в статусе %s невозможен", booking.Status))
		}
	}

	dispute := &models.Dispute{
		BookingID:       booking.ID,
		UserID:          in.UserID,
		Description:     description,
		Type:            in.Type,
		Status:          models.DisputeStatusOpen,
		RequestedRefund: in.RequestedRefund,
		Metadata:        metadata,
	}
	if err := s.disputes.Create(ctx, dispute); err != nil {
		if errors.Is(err, repository.ErrDisputeAlreadyOpen) {
			return nil, apperror.New(apperror.ErrCodeConflict, "по этой брони уже открыт спор такого типа")
		}
		return nil, apperror.Internal(err)
	}

	data := map[string]any{
		"dispute_id": dispute.ID,
		"booking_id": booking.ID,
		"type":       dispute.Type,
		"raised_by":  in.UserID,
	}
	s.notifier.Notify(ctx, events.ToAdmins(events.KindDisputeRaised, data))
	s.notifier.Notify(ctx, events.ToUser(events.KindDisputeRaised, otherParty(booking, in.UserID), data))
	return dispute, nil
}

// Resolve исполняет решение по спору в зависимости от его типа.
func (s *DisputeService) Resolve(ctx context.Context, in ResolveDisputeInput) (*models.Dispute, error) {
	if !in.Resolver.Role.CanResolveDisputes() {
		return nil, apperror.ErrForbidden
	}
	if in.RefundAmount != nil && *in.RefundAmount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма возврата должна быть положительной")
	}

	dispute, err := s.disputes.GetByID(ctx, in.DisputeID)
	if err != nil {
		return nil, asAppError(err)
	}
	if dispute.Status != models.DisputeStatusOpen {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "спор уже закрыт")
	}

	booking, err := s.bookings.load(ctx, dispute.BookingID)
	if err != nil {
		return nil, err
	}

	if dispute.Type == models.DisputeTypeReschedule {
		return s.resolveReschedule(ctx, in, dispute, booking)
	}
	return s.resolveRefund(ctx, in, dispute, booking)
}

func (s *DisputeService) resolveRefund(ctx context.Context, in ResolveDisputeInput, dispute *models.Dispute, booking *models.Booking) (*models.Dispute, error) {
	var payment *models.Payment
	if in.Approved && in.RefundAmount != nil {
		p, err := s.payments.GetLatestByBookingID(ctx, booking.ID)
		switch {
		case err == nil:
			payment = p
		case errors.Is(err, repository.ErrPaymentNotFound):
		default:
			return nil, apperror.Internal(err)
		}
		if payment != nil && *in.RefundAmount > payment.Amount+amountTolerance {
			return nil, apperror.New(apperror.ErrCodeValidation, "сумма возврата больше суммы платежа")
		}
	}

	details := map[string]any{
		"booking_id": booking.ID,
		"approved":   in.Approved,
	}

	// Возврат и отмена выполняются до закрытия спора: обе записи условные,
	// поэтому повтор после сбоя доводит решение до конца.
	refunded := false
	if payment != nil {
		refundTrxID := "refund_" + dispute.ID.String()
		ok, err := s.payments.MarkRefunded(ctx, payment.ID, *in.RefundAmount, refundTrxID)
		if err != nil {
			return nil, apperror.Internal(err)
		}
		if !ok && payment.Status == models.PaymentStatusRefunded &&
			payment.RefundTrxID != nil && *payment.RefundTrxID == refundTrxID {
			ok = true
		}
		refunded = ok
		details["payment_id"] = payment.ID
		details["refund_amount"] = *in.RefundAmount
		details["refund_trx_id"] = refundTrxID
		details["refunded"] = ok
		if !ok {
			logger.Log.WithFields(logrus.Fields{
				"dispute_id": dispute.ID,
				"payment_id": payment.ID,
				"status":     payment.Status,
			}).Warn("dispute: платёж не в статусе PAID, возврат не отмечен")
		}
	}

	if refunded {
		reason := fmt.Sprintf("refund approved via dispute %s", dispute.ID)
		_, cancelled, err := s.bookings.CancelByResolution(ctx, booking.ID, in.Resolver.ID, reason)
		if err != nil {
			return nil, err
		}
		details["booking_cancelled"] = cancelled
	}

	if err := s.claim(ctx, dispute, in); err != nil {
		return nil, err
	}

	s.writeAudit(ctx, in.Resolver.ID, "DISPUTE_RESOLVED", dispute.ID, details)

	base := map[string]any{
		"dispute_id": dispute.ID,
		"booking_id": booking.ID,
		"status":     dispute.Status,
		"note":       dispute.ResolutionNote,
	}
	complainant := cloneData(base)
	counterpart := cloneData(base)
	switch {
	case refunded:
		complainant["message"] = fmt.Sprintf("Возврат %.2f одобрен", *in.RefundAmount)
		complainant["refund_amount"] = *in.RefundAmount
		counterpart["message"] = "Спор решён в пользу клиента, сумма возврата будет удержана из заработка"
	case in.Approved:
		complainant["message"] = "Спор решён в вашу пользу"
		counterpart["message"] = "Спор по брони решён администрацией"
	default:
		complainant["message"] = "Спор отклонён"
		counterpart["message"] = "Спор по брони отклонён"
	}
	s.notifier.Notify(ctx, events.ToUser(events.KindDisputeResolved, dispute.UserID, complainant))
	s.notifier.Notify(ctx, events.ToUser(events.KindDisputeResolved, otherParty(booking, dispute.UserID), counterpart))
	return dispute, nil
}

// resolveReschedule переносит бронь от имени модератора.
// Спор закрывается до переноса и открывается снова, если перенос не удался.
func (s *DisputeService) resolveReschedule(ctx context.Context, in ResolveDisputeInput, dispute *models.Dispute, booking *models.Booking) (*models.Dispute, error) {
	proposal, ok := models.ParseRescheduleProposal(dispute.Metadata)
	if !ok {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "в запросе на перенос нет newStartTime/newEndTime")
	}

	details := map[string]any{
		"booking_id":     booking.ID,
		"approved":       in.Approved,
		"proposed_start": proposal.NewStartTime,
		"proposed_end":   proposal.NewEndTime,
		"previous_start": booking.StartTime,
		"previous_end":   booking.EndTime,
	}

	if err := s.claim(ctx, dispute, in); err != nil {
		return nil, err
	}

	if in.Approved {
		moved, err := s.bookings.Reschedule(ctx, booking.ID, proposal.NewStartTime, proposal.NewEndTime, in.Resolver)
		if err != nil {
			s.reopen(ctx, dispute)
			return nil, err
		}
		details["applied_start"] = moved.StartTime
		details["applied_end"] = moved.EndTime
	}
	s.writeAudit(ctx, in.Resolver.ID, "DISPUTE_RESCHEDULE_RESOLVED", dispute.ID, details)

	data := map[string]any{
		"dispute_id": dispute.ID,
		"booking_id": booking.ID,
		"status":     dispute.Status,
		"approved":   in.Approved,
		"note":       dispute.ResolutionNote,
	}
	if in.Approved {
		data["start_time"] = proposal.NewStartTime
		data["end_time"] = proposal.NewEndTime
	}
	s.notifier.Notify(ctx, events.ToUser(events.KindDisputeResolved, dispute.UserID, data))
	s.notifier.Notify(ctx, events.ToUser(events.KindDisputeResolved, otherParty(booking, dispute.UserID), data))
	return dispute, nil
}

// claim закрывает спор условным обновлением, чтобы решение применилось один раз.
func (s *DisputeService) claim(ctx context.Context, dispute *models.Dispute, in ResolveDisputeInput) error {
	status := models.DisputeStatusClosed
	if in.Approved {
		status = models.DisputeStatusResolved
	}
	at := s.now().UTC()

	ok, err := s.disputes.Resolve(ctx, dispute.ID, status, in.Resolver.ID, in.Note, at)
	if err != nil {
		return apperror.Internal(err)
	}
	if !ok {
		return apperror.New(apperror.ErrCodeInvalidState, "спор уже закрыт")
	}

	dispute.Status = status
	dispute.ResolvedBy = &in.Resolver.ID
	dispute.ResolvedAt = &at
	dispute.ResolutionNote = in.Note
	return nil
}

// reopen откатывает claim после неудачного переноса.
func (s *DisputeService) reopen(ctx context.Context, dispute *models.Dispute) {
	ok, err := s.disputes.Reopen(ctx, dispute.ID, dispute.Status)
	if err != nil || !ok {
		logger.Log.WithFields(logrus.Fields{
			"dispute_id": dispute.ID,
			"status":     dispute.Status,
			"error":      err,
		}).Error("dispute: не удалось вернуть спор в OPEN после ошибки переноса")
		return
	}
	dispute.Status = models.DisputeStatusOpen
	dispute.ResolvedBy = nil
	dispute.ResolvedAt = nil
	dispute.ResolutionNote = nil
}

// Get возвращает спор автору, участнику брони или модератору.
func (s *DisputeService) Get(ctx context.Context, disputeID uuid.UUID, actor models.Actor) (*models.Dispute, error) {
	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, asAppError(err)
	}
	if actor.Role.CanResolveDisputes() || dispute.UserID == actor.ID {
		return dispute, nil
	}
	if _, err := s.bookings.Get(ctx, dispute.BookingID, actor); err != nil {
		return nil, err
	}
	return dispute, nil
}

// ListMine возвращает споры по броням пользователя.
func (s *DisputeService) ListMine(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	limit, offset = page(limit, offset)
	disputes, err := s.disputes.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return disputes, nil
}

// ListByStatus возвращает очередь споров для модерации.
func (s *DisputeService) ListByStatus(ctx context.Context, actor models.Actor, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error) {
	if !actor.Role.CanResolveDisputes() {
		return nil, apperror.ErrForbidden
	}
	if status == "" {
		status = models.DisputeStatusOpen
	}
	if _, ok := models.ValidDisputeStatuses[status]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный статус спора")
	}
	limit, offset = page(limit, offset)
	disputes, err := s.disputes.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return disputes, nil
}

func (s *DisputeService) writeAudit(ctx context.Context, actorID uuid.UUID, action string, disputeID uuid.UUID, details map[string]any) {
	entry := &models.AuditLog{
		ActorID:    actorID,
		Action:     action,
		EntityType: "dispute",
		EntityID:   disputeID,
		Details:    mustRaw(details),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"dispute_id": disputeID,
			"error":      err,
		}).Error("dispute: не удалось записать аудит")
	}
}

func otherParty(b *models.Booking, userID uuid.UUID) uuid.UUID {
	if b.UserID == userID {
		return b.ProfessionalID
	}
	return b.UserID
}

func cloneData(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+2)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
