package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dmehra2102/delivery-settlement/internal/payment/application"
)

type Config struct {
	BaseURL   string
	SecretKey string
	// RPS bounds outgoing calls per second; zero disables the limit.
	RPS     float64
	Timeout time.Duration
}

// TossClient talks to a Toss Payments compatible API. It is built once at startup and
// injected into the payment service.
type TossClient struct {
	log     *zap.Logger
	http    *http.Client
	baseURL string
	auth    string
	limiter *rate.Limiter
}

func NewTossClient(log *zap.Logger, cfg Config) *TossClient {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), int(cfg.RPS)+1)
	}
	return &TossClient{
		log:     log,
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.SecretKey+":")),
		limiter: limiter,
	}
}

// StatusError is a non-2xx gateway response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway status %d: %s %s", e.StatusCode, e.Code, e.Message)
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type confirmResponse struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	TotalAmount int64  `json:"totalAmount"`
}

type cancelRequest struct {
	CancelReason string `json:"cancelReason"`
}

type cancelResponse struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Cancels    []struct {
		CancelAmount int64 `json:"cancelAmount"`
	} `json:"cancels"`
}

// Confirm derives its Idempotency-Key from the request, so every retry for one payment
// shares it and the gateway replays the first approval.
func (c *TossClient) Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (application.ConfirmResult, error) {
	var resp confirmResponse
	req := confirmRequest{PaymentKey: paymentKey, OrderID: orderID, Amount: amount}
	err := c.post(ctx, "/v1/payments/confirm", confirmIdempotencyKey(req), req, &resp)
	if err != nil {
		return application.ConfirmResult{}, err
	}
	return application.ConfirmResult{
		PaymentKey:  resp.PaymentKey,
		OrderID:     resp.OrderID,
		TotalAmount: resp.TotalAmount,
	}, nil
}

func confirmIdempotencyKey(req confirmRequest) string {
	name := fmt.Sprintf("confirm:%s:%s:%d", req.PaymentKey, req.OrderID, req.Amount)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func (c *TossClient) Cancel(ctx context.Context, paymentKey, reason string) (application.CancelResult, error) {
	var resp cancelResponse
	path := "/v1/payments/" + url.PathEscape(paymentKey) + "/cancel"
	if err := c.post(ctx, path, uuid.NewString(), cancelRequest{CancelReason: reason}, &resp); err != nil {
		return application.CancelResult{}, err
	}
	out := application.CancelResult{PaymentKey: resp.PaymentKey, OrderID: resp.OrderID}
	for _, cn := range resp.Cancels {
		out.Cancels = append(out.Cancels, application.CancelEntry{CancelAmount: cn.CancelAmount})
	}
	return out, nil
}

func (c *TossClient) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	c.log.Debug("gateway request", zap.String("method", req.Method), zap.String("path", path))
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &apiErr)
		c.log.Warn("gateway rejected request", zap.String("path", path), zap.Int("status", res.StatusCode), zap.ByteString("body", data))
		return &StatusError{StatusCode: res.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
