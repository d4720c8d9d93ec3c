package models

import "strings"

// BookingStatus - статус бронирования.
type BookingStatus string

// Статусы бронирований
const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusPaid      BookingStatus = "PAID"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// PaymentStatus - статус платежа.
type PaymentStatus string

// Статусы платежей
const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// PaymentMethod - платёжный шлюз.
type PaymentMethod string

// Поддерживаемые шлюзы
const (
	PaymentMethodSSLCommerz PaymentMethod = "SSLCOMMERZ"
	PaymentMethodBKash      PaymentMethod = "BKASH"
)

// PaymentLogAction - тип записи в журнале платежей.
type PaymentLogAction string

const (
	PaymentLogActionInitiate PaymentLogAction = "INITIATE"
	PaymentLogActionWebhook  PaymentLogAction = "WEBHOOK"
)

// DisputeType - тип спора.
type DisputeType string

const (
	DisputeTypeBooking    DisputeType = "BOOKING"
	DisputeTypeReschedule DisputeType = "RESCHEDULE_REQUEST"
)

// DisputeStatus - статус спора.
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "OPEN"
	DisputeStatusResolved DisputeStatus = "RESOLVED"
	DisputeStatusClosed   DisputeStatus = "CLOSED"
)

// ValidBookingStatuses список валидных статусов бронирований
var ValidBookingStatuses = map[BookingStatus]struct{}{
	BookingStatusPending:   {},
	BookingStatusPaid:      {},
	BookingStatusConfirmed: {},
	BookingStatusCompleted: {},
	BookingStatusCancelled: {},
}

// ValidPaymentMethods список поддерживаемых шлюзов
var ValidPaymentMethods = map[PaymentMethod]struct{}{
	PaymentMethodSSLCommerz: {},
	PaymentMethodBKash:      {},
}

// ValidDisputeTypes список типов споров
var ValidDisputeTypes = map[DisputeType]struct{}{
	DisputeTypeBooking:    {},
	DisputeTypeReschedule: {},
}

// ValidDisputeStatuses список статусов споров
var ValidDisputeStatuses = map[DisputeStatus]struct{}{
	DisputeStatusOpen:     {},
	DisputeStatusResolved: {},
	DisputeStatusClosed:   {},
}

// bookingTransitions описывает допустимые переходы между статусами бронирования.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusPaid, BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusPaid:      {BookingStatusConfirmed, BookingStatusCompleted, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled},
}

// CanTransition сообщает, допустим ли переход из s в next.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для CANCELLED и COMPLETED.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

// ParseBookingStatus проверяет строку статуса.
func ParseBookingStatus(raw string) (BookingStatus, bool) {
	status := BookingStatus(raw)
	_, ok := ValidBookingStatuses[status]
	return status, ok
}

// ParsePaymentMethod проверяет название шлюза без учёта регистра.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := ValidPaymentMethods[method]
	return method, ok
}

// ParseDisputeType проверяет тип спора. Пустая строка означает BOOKING.
func ParseDisputeType(raw string) (DisputeType, bool) {
	if raw == "" {
		return DisputeTypeBooking, true
	}
	t := DisputeType(raw)
	_, ok := ValidDisputeTypes[t]
	return t, ok
}

// ParseDisputeStatus проверяет статус спора.
func ParseDisputeStatus(raw string) (DisputeStatus, bool) {
	status := DisputeStatus(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := ValidDisputeStatuses[status]
	return status, ok
}
