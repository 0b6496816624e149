package mt5

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type balanceRequest struct {
	Amount  string `json:"amount"`
	Comment string `json:"comment"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *struct {
		Balance decimal.Decimal `json:"balance"`
	} `json:"data"`
}

func (c *Client) Credit(ctx context.Context, accountRef string, amount decimal.Decimal, memo string) (Result, error) {
	return c.call(ctx, accountRef, "credit", amount, memo)
}

func (c *Client) Debit(ctx context.Context, accountRef string, amount decimal.Decimal, memo string) (Result, error) {
	return c.call(ctx, accountRef, "debit", amount, memo)
}

func (c *Client) call(ctx context.Context, accountRef, op string, amount decimal.Decimal, memo string) (Result, error) {
	if accountRef == "" {
		return Result{}, errors.New("mt5: account ref is required")
	}
	if !amount.GreaterThan(decimal.Zero) {
		return Result{}, errors.New("mt5: amount must be positive")
	}

	payload, err := json.Marshal(balanceRequest{Amount: amount.String(), Comment: memo})
	if err != nil {
		return Result{}, err
	}
	url := fmt.Sprintf("%s/api/accounts/%s/%s", c.baseURL, accountRef, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failure or timeout: the server may or may not have
		// applied the mutation.
		c.logger.Warn("mt5 call outcome unknown",
			zap.String("op", op),
			zap.String("account", accountRef),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return Result{}, fmt.Errorf("%w: %s %s: %v", ErrUnknownOutcome, op, accountRef, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Warn("mt5 response undecodable",
			zap.String("op", op),
			zap.String("account", accountRef),
			zap.Int("http_status", resp.StatusCode),
			zap.Error(err))
		return Result{}, fmt.Errorf("%w: %s %s: decode: %v", ErrUnknownOutcome, op, accountRef, err)
	}

	res := Result{Success: out.Success, Message: out.Message}
	if out.Data != nil {
		res.Balance = out.Data.Balance
	}
	c.logger.Info("mt5 call finished",
		zap.String("op", op),
		zap.String("account", accountRef),
		zap.String("amount", amount.String()),
		zap.Bool("success", res.Success),
		zap.String("message", res.Message))
	return res, nil
}

func (c *Client) Balance(ctx context.Context, accountRef string) (decimal.Decimal, error) {
	if accountRef == "" {
		return decimal.Zero, errors.New("mt5: account ref is required")
	}
	url := fmt.Sprintf("%s/api/accounts/%s/balance", c.baseURL, accountRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance %s: %v", ErrUnknownOutcome, accountRef, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance %s: decode: %v", ErrUnknownOutcome, accountRef, err)
	}
	if !out.Success || out.Data == nil {
		return decimal.Zero, fmt.Errorf("mt5: balance %s: %s", accountRef, out.Message)
	}
	return out.Data.Balance, nil
}
