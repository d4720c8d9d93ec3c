package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mahdimonir/professionals-bd-sub001/internal/metrics"
)

const maxResponseBytes = 1 << 20

// HTTPOptions ограничивает обращения к шлюзу.
type HTTPOptions struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// client выполняет запросы к шлюзу с таймаутом и ограниченным числом повторов.
type client struct {
	http    *http.Client
	retries int
	backoff time.Duration
	method  string
}

func newClient(method string, opts HTTPOptions) *client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	return &client{
		http:    &http.Client{Timeout: opts.Timeout},
		retries: opts.Retries,
		backoff: opts.Backoff,
		method:  method,
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway: HTTP %d: %s", e.code, e.body)
}

// retryable - сетевые ошибки и 5xx. Ответы 4xx и битый JSON не повторяются.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= http.StatusInternalServerError
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr)
}

// do выполняет запрос, собранный build, и декодирует JSON-ответ в out.
// build вызывается на каждую попытку, чтобы тело запроса читалось заново.
func (c *client) do(ctx context.Context, operation string, build func(ctx context.Context) (*http.Request, error), out any) ([]byte, error) {
	started := time.Now()
	var lastErr error

attempts:
	for attempt := 0; ; attempt++ {
		raw, err := c.once(ctx, build, out)
		if err == nil {
			metrics.ObserveGateway(c.method, operation, nil, started)
			return raw, nil
		}
		lastErr = err

		if attempt >= c.retries || !retryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break attempts
		case <-time.After(c.backoff):
		}
	}

	metrics.ObserveGateway(c.method, operation, lastErr, started)
	return nil, fmt.Errorf("gateway %s %s: %w", c.method, operation, lastErr)
}

func (c *client) once(ctx context.Context, build func(ctx context.Context) (*http.Request, error), out any) ([]byte, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &statusError{code: resp.StatusCode, body: string(truncate(raw, 256))}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func jsonRequest(ctx context.Context, method, url string, body any, headers map[string]string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
