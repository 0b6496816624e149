package cregis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Provider-accepted order lifetime range; requested TTLs are clamped into it.
const (
	minOrderTTL = 10 * time.Minute
	maxOrderTTL = 12 * time.Hour
)

type Order struct {
	OrderID    string
	PaymentURL string
	ExpiresAt  time.Time
}

// Client creates hosted payment orders on the provider. Callback
// verification is on the Callback type itself; the client only needs the
// shared key for signing outbound requests.
type Client struct {
	baseURL     string
	projectID   string
	apiKey      string
	callbackURL string
	successURL  string
	cancelURL   string
	orderTTL    time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

type Options struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	CallbackURL string
	SuccessURL  string
	CancelURL   string
	OrderTTL    time.Duration
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		projectID:   opts.ProjectID,
		apiKey:      opts.APIKey,
		callbackURL: opts.CallbackURL,
		successURL:  opts.SuccessURL,
		cancelURL:   opts.CancelURL,
		orderTTL:    clampTTL(opts.OrderTTL),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minOrderTTL {
		return minOrderTTL
	}
	if ttl > maxOrderTTL {
		return maxOrderTTL
	}
	return ttl
}

// Enabled reports whether the client is configured; an unconfigured client
// refuses order creation instead of calling an empty URL.
func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.projectID != "" && c.apiKey != ""
}

type createOrderResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		OrderNo    string `json:"order_no"`
		PaymentURL string `json:"payment_url"`
		ExpireTime int64  `json:"expire_time"`
	} `json:"data"`
}

// CreateOrder opens a hosted checkout for amount/currency correlated to
// orderRef (stored locally as the deposit's external transaction id).
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, orderRef string) (Order, error) {
	if !c.Enabled() {
		return Order{}, errors.New("cregis: client not configured")
	}
	if !amount.GreaterThan(decimal.Zero) {
		return Order{}, errors.New("cregis: amount must be positive")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Order{}, errors.New("cregis: currency is required")
	}
	if strings.TrimSpace(orderRef) == "" {
		return Order{}, errors.New("cregis: order ref is required")
	}

	params := map[string]string{
		"pid":            c.projectID,
		"third_party_id": orderRef,
		"order_amount":   amount.String(),
		"currency":       currency,
		"callback_url":   c.callbackURL,
		"success_url":    c.successURL,
		"cancel_url":     c.cancelURL,
		"valid_time":     strconv.FormatInt(int64(c.orderTTL/time.Minute), 10),
		"timestamp":      strconv.FormatInt(time.Now().Unix(), 10),
	}
	params["sign"] = Sign(params, c.apiKey)

	payload, err := json.Marshal(params)
	if err != nil {
		return Order{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/checkout", bytes.NewReader(payload))
	if err != nil {
		return Order{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Order{}, fmt.Errorf("cregis: create order: %w", err)
	}
	defer resp.Body.Close()

	var out createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Order{}, fmt.Errorf("cregis: create order: decode: %w", err)
	}
	if out.Code != "00000" || out.Data == nil {
		c.logger.Warn("cregis order rejected",
			zap.String("order_ref", orderRef),
			zap.String("code", out.Code),
			zap.String("msg", out.Msg))
		return Order{}, fmt.Errorf("cregis: create order rejected: %s %s", out.Code, out.Msg)
	}

	order := Order{
		OrderID:    out.Data.OrderNo,
		PaymentURL: out.Data.PaymentURL,
		ExpiresAt:  time.Unix(out.Data.ExpireTime, 0).UTC(),
	}
	c.logger.Info("cregis order created",
		zap.String("order_ref", orderRef),
		zap.String("order_no", order.OrderID),
		zap.String("amount", amount.String()),
		zap.String("currency", currency))
	return order, nil
}
