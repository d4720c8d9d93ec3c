package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
)

const bkashSuccessCode = "0000"

// BKashConfig - учётные данные tokenized checkout.
type BKashConfig struct {
	BaseURL     string
	AppKey      string
	AppSecret   string
	Username    string
	Password    string
	CallbackURL string
}

// BKashCallback - редирект bKash на callbackURL после оплаты.
type BKashCallback struct {
	PaymentID string
	Status    string
}

// DecodeBKashCallback проверяет обязательные поля редиректа.
func DecodeBKashCallback(form url.Values) (BKashCallback, error) {
	cb := BKashCallback{
		PaymentID: strings.TrimSpace(form.Get("paymentID")),
		Status:    strings.ToLower(strings.TrimSpace(form.Get("status"))),
	}
	if cb.PaymentID == "" {
		return cb, fmt.Errorf("%w: нет paymentID", ErrMalformedCallback)
	}
	switch cb.Status {
	case "success", "failure", "cancel":
	default:
		return cb, fmt.Errorf("%w: неизвестный status %q", ErrMalformedCallback, cb.Status)
	}
	return cb, nil
}

type bkashTokenResponse struct {
	IDToken       string `json:"id_token"`
	ExpiresIn     int    `json:"expires_in"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

type bkashCreateResponse struct {
	PaymentID     string `json:"paymentID"`
	BkashURL      string `json:"bkashURL"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

type bkashExecuteResponse struct {
	PaymentID         string `json:"paymentID"`
	TrxID             string `json:"trxID"`
	TransactionStatus string `json:"transactionStatus"`
	Amount            string `json:"amount"`
	StatusCode        string `json:"statusCode"`
	StatusMessage     string `json:"statusMessage"`
}

// BKash - адаптер bKash tokenized checkout. Номер транзакции - paymentID bKash.
type BKash struct {
	cfg    BKashConfig
	client *client
	now    func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewBKash создаёт адаптер.
func NewBKash(cfg BKashConfig, opts HTTPOptions) *BKash {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &BKash{
		cfg:    cfg,
		client: newClient(string(models.PaymentMethodBKash), opts),
		now:    time.Now,
	}
}

func (b *BKash) Method() models.PaymentMethod {
	return models.PaymentMethodBKash
}

// Initiate создаёт платёж и возвращает ссылку на страницу bKash.
func (b *BKash) Initiate(ctx context.Context, req InitiateRequest) (*Session, error) {
	body := map[string]string{
		"mode":                  "0011",
		"payerReference":        fallback(req.Payer.Phone, req.BookingID.String()),
		"callbackURL":           b.cfg.CallbackURL,
		"amount":                formatAmount(req.Amount),
		"currency":              req.Currency,
		"intent":                "sale",
		"merchantInvoiceNumber": req.BookingID.String(),
	}

	var resp bkashCreateResponse
	raw, err := b.authorized(ctx, "create", "/tokenized/checkout/create", body, &resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != bkashSuccessCode || resp.PaymentID == "" || resp.BkashURL == "" {
		return nil, fmt.Errorf("%w: bkash: %s %s", ErrRejected, resp.StatusCode, resp.StatusMessage)
	}

	return &Session{
		TransactionID: resp.PaymentID,
		PaymentURL:    resp.BkashURL,
		Request:       mustJSON(body),
		Response:      raw,
	}, nil
}

// Reconcile разбирает редирект и завершает платёж вызовом execute.
// Повторный execute bKash отклоняет, поэтому при отказе статус уточняется запросом status.
func (b *BKash) Reconcile(ctx context.Context, payload Payload) (*Callback, error) {
	in, err := DecodeBKashCallback(payload.Form)
	if err != nil {
		return nil, err
	}

	cb := &Callback{
		TransactionID: in.PaymentID,
		Status:        models.PaymentStatusFailed,
		Raw:           mustJSON(map[string]string{"paymentID": in.PaymentID, "status": in.Status}),
	}
	if in.Status != "success" {
		return cb, nil
	}

	var exec bkashExecuteResponse
	if _, err := b.authorized(ctx, "execute", "/tokenized/checkout/execute", map[string]string{"paymentID": in.PaymentID}, &exec); err != nil {
		return nil, err
	}

	if exec.StatusCode != bkashSuccessCode {
		var status bkashExecuteResponse
		if _, err := b.authorized(ctx, "status", "/tokenized/checkout/payment/status", map[string]string{"paymentID": in.PaymentID}, &status); err != nil {
			return nil, err
		}
		exec = status
	}

	cb.Verified = true
	cb.Raw = mustJSON(map[string]string{
		"paymentID":         in.PaymentID,
		"status":            in.Status,
		"trxID":             exec.TrxID,
		"transactionStatus": exec.TransactionStatus,
		"statusCode":        exec.StatusCode,
	})
	if exec.TransactionStatus == "Completed" {
		cb.Status = models.PaymentStatusPaid
	}
	return cb, nil
}

// BookingRef: paymentID bKash не содержит бронирования.
func (b *BKash) BookingRef(string) (uuid.UUID, bool) {
	return uuid.Nil, false
}

func (b *BKash) authorized(ctx context.Context, operation, path string, body any, out any) ([]byte, error) {
	token, err := b.idToken(ctx)
	if err != nil {
		return nil, err
	}
	return b.client.do(ctx, operation, func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodPost, b.cfg.BaseURL+path, body, map[string]string{
			"Authorization": token,
			"X-APP-Key":     b.cfg.AppKey,
		})
	}, out)
}

// idToken возвращает кешированный токен, обновляя его за минуту до истечения.
func (b *BKash) idToken(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token != "" && b.now().Before(b.tokenExp.Add(-time.Minute)) {
		return b.token, nil
	}

	var resp bkashTokenResponse
	_, err := b.client.do(ctx, "grant", func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodPost, b.cfg.BaseURL+"/tokenized/checkout/token/grant",
			map[string]string{"app_key": b.cfg.AppKey, "app_secret": b.cfg.AppSecret},
			map[string]string{"username": b.cfg.Username, "password": b.cfg.Password})
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.IDToken == "" {
		return "", fmt.Errorf("%w: bkash grant: %s %s", ErrRejected, resp.StatusCode, resp.StatusMessage)
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	b.token = resp.IDToken
	b.tokenExp = b.now().Add(ttl)
	return b.token, nil
}
