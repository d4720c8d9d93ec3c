package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
)

// SSLCommerzConfig - учётные данные магазина и адреса возврата.
type SSLCommerzConfig struct {
	BaseURL       string
	StoreID       string
	StorePassword string
	SuccessURL    string
	FailURL       string
	CancelURL     string
	IPNURL        string
}

// SSLCommerzIPN - уведомление SSLCommerz (IPN), приходит формой.
type SSLCommerzIPN struct {
	TranID   string
	ValID    string
	Status   string
	Amount   string
	Currency string
}

// DecodeSSLCommerzIPN проверяет обязательные поля уведомления.
func DecodeSSLCommerzIPN(form url.Values) (SSLCommerzIPN, error) {
	ipn := SSLCommerzIPN{
		TranID:   strings.TrimSpace(form.Get("tran_id")),
		ValID:    strings.TrimSpace(form.Get("val_id")),
		Status:   strings.ToUpper(strings.TrimSpace(form.Get("status"))),
		Amount:   strings.TrimSpace(form.Get("amount")),
		Currency: strings.TrimSpace(form.Get("currency")),
	}
	if ipn.TranID == "" {
		return ipn, fmt.Errorf("%w: нет tran_id", ErrMalformedCallback)
	}
	if ipn.Status == "" {
		return ipn, fmt.Errorf("%w: нет status", ErrMalformedCallback)
	}
	if ipn.Status == "VALID" && ipn.ValID == "" {
		return ipn, fmt.Errorf("%w: нет val_id", ErrMalformedCallback)
	}
	return ipn, nil
}

type sslInitResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

type sslValidationResponse struct {
	Status   string `json:"status"`
	TranID   string `json:"tran_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// SSLCommerz - адаптер SSLCommerz. Номер транзакции имеет вид <bookingID>_<unixnano>.
type SSLCommerz struct {
	cfg    SSLCommerzConfig
	client *client
	now    func() time.Time
}

// NewSSLCommerz создаёт адаптер.
func NewSSLCommerz(cfg SSLCommerzConfig, opts HTTPOptions) *SSLCommerz {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SSLCommerz{
		cfg:    cfg,
		client: newClient(string(models.PaymentMethodSSLCommerz), opts),
		now:    time.Now,
	}
}

func (s *SSLCommerz) Method() models.PaymentMethod {
	return models.PaymentMethodSSLCommerz
}

// Initiate создаёт сессию оплаты.
func (s *SSLCommerz) Initiate(ctx context.Context, req InitiateRequest) (*Session, error) {
	tranID := fmt.Sprintf("%s_%d", req.BookingID, s.now().UnixNano())

	form := url.Values{}
	form.Set("store_id", s.cfg.StoreID)
	form.Set("store_passwd", s.cfg.StorePassword)
	form.Set("total_amount", formatAmount(req.Amount))
	form.Set("currency", req.Currency)
	form.Set("tran_id", tranID)
	form.Set("success_url", s.cfg.SuccessURL)
	form.Set("fail_url", s.cfg.FailURL)
	form.Set("cancel_url", s.cfg.CancelURL)
	form.Set("ipn_url", s.cfg.IPNURL)
	form.Set("cus_name", fallback(req.Payer.Name, "Customer"))
	form.Set("cus_email", fallback(req.Payer.Email, "customer@example.com"))
	form.Set("cus_phone", fallback(req.Payer.Phone, "01700000000"))
	form.Set("cus_add1", "N/A")
	form.Set("cus_city", "Dhaka")
	form.Set("cus_country", "Bangladesh")
	form.Set("shipping_method", "NO")
	form.Set("num_of_item", "1")
	form.Set("product_name", "Consultation")
	form.Set("product_category", "Service")
	form.Set("product_profile", "non-physical-goods")
	form.Set("value_a", req.BookingID.String())

	var resp sslInitResponse
	raw, err := s.client.do(ctx, "initiate", func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/gwprocess/v4/api.php", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r, nil
	}, &resp)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(resp.Status, "SUCCESS") || resp.GatewayPageURL == "" {
		return nil, fmt.Errorf("%w: sslcommerz: %s", ErrRejected, fallback(resp.FailedReason, resp.Status))
	}

	return &Session{
		TransactionID: tranID,
		PaymentURL:    resp.GatewayPageURL,
		Request: mustJSON(map[string]string{
			"tran_id":      tranID,
			"total_amount": form.Get("total_amount"),
			"currency":     req.Currency,
		}),
		Response: raw,
	}, nil
}

// Reconcile разбирает IPN и подтверждает успешную оплату через API валидации.
func (s *SSLCommerz) Reconcile(ctx context.Context, payload Payload) (*Callback, error) {
	ipn, err := DecodeSSLCommerzIPN(payload.Form)
	if err != nil {
		return nil, err
	}

	cb := &Callback{
		TransactionID: ipn.TranID,
		Status:        models.PaymentStatusFailed,
		Raw: mustJSON(map[string]string{
			"tran_id":  ipn.TranID,
			"val_id":   ipn.ValID,
			"status":   ipn.Status,
			"amount":   ipn.Amount,
			"currency": ipn.Currency,
		}),
	}
	if ipn.Status != "VALID" && ipn.Status != "VALIDATED" {
		return cb, nil
	}

	query := url.Values{}
	query.Set("val_id", ipn.ValID)
	query.Set("store_id", s.cfg.StoreID)
	query.Set("store_passwd", s.cfg.StorePassword)
	query.Set("format", "json")

	var resp sslValidationResponse
	if _, err := s.client.do(ctx, "validate", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/validator/api/validationserverAPI.php?"+query.Encode(), nil)
	}, &resp); err != nil {
		return nil, err
	}

	cb.Verified = true
	status := strings.ToUpper(resp.Status)
	if (status == "VALID" || status == "VALIDATED") && resp.TranID == ipn.TranID {
		cb.Status = models.PaymentStatusPaid
	}
	return cb, nil
}

// BookingRef извлекает бронирование из tran_id вида <bookingID>_<suffix>.
func (s *SSLCommerz) BookingRef(transactionID string) (uuid.UUID, bool) {
	prefix, _, found := strings.Cut(transactionID, "_")
	if !found {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(prefix)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
