// Package gateway содержит адаптеры внешних платёжных шлюзов.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
)

var (
	// ErrUnknownMethod - шлюз не настроен.
	ErrUnknownMethod = errors.New("gateway: неизвестный способ оплаты")
	// ErrRejected - шлюз ответил отказом.
	ErrRejected = errors.New("gateway: запрос отклонён")
	// ErrMalformedCallback - уведомление шлюза не удалось разобрать.
	ErrMalformedCallback = errors.New("gateway: некорректное уведомление")
)

// Payer - данные плательщика для страницы оплаты.
type Payer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// InitiateRequest - параметры создания платёжной сессии.
type InitiateRequest struct {
	BookingID uuid.UUID
	Amount    float64
	Currency  string
	Payer     Payer
}

// Session - созданная в шлюзе сессия оплаты.
type Session struct {
	TransactionID string
	PaymentURL    string
	// Request и Response сохраняются в журнал платежей.
	Request  json.RawMessage
	Response json.RawMessage
}

// Payload - сырое входящее уведомление шлюза.
type Payload struct {
	Form url.Values
	Body []byte
}

// Callback - уведомление шлюза, приведённое к внутреннему виду.
type Callback struct {
	TransactionID string
	Status        models.PaymentStatus
	// Verified - статус подтверждён обращением к API шлюза.
	Verified bool
	Raw      json.RawMessage
}

// Adapter - один платёжный шлюз.
type Adapter interface {
	Method() models.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (*Session, error)
	// Reconcile разбирает уведомление и сверяет его со шлюзом.
	Reconcile(ctx context.Context, payload Payload) (*Callback, error)
	// BookingRef извлекает идентификатор бронирования из составного номера транзакции.
	BookingRef(transactionID string) (uuid.UUID, bool)
}

// Registry - набор настроенных шлюзов.
type Registry struct {
	adapters map[models.PaymentMethod]Adapter
}

// NewRegistry собирает реестр из адаптеров.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.PaymentMethod]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Method()] = a
	}
	return r
}

// Get возвращает адаптер шлюза.
func (r *Registry) Get(method models.PaymentMethod) (Adapter, error) {
	a, ok := r.adapters[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	return a, nil
}

// Methods возвращает список настроенных шлюзов.
func (r *Registry) Methods() []models.PaymentMethod {
	methods := make([]models.PaymentMethod, 0, len(r.adapters))
	for m := range r.adapters {
		methods = append(methods, m)
	}
	return methods
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// formatAmount форматирует сумму с двумя знаками, как ожидают шлюзы.
func formatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}
