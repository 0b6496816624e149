package cregis

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Outcome is the provider's status vocabulary folded into the three cases the
// settlement engine distinguishes. Anything unrecognized maps to
// OutcomeIgnore so an unexpected intermediate event never flips a record.
type Outcome int

const (
	OutcomeIgnore Outcome = iota
	OutcomePaid
	OutcomeFailed
)

// PaymentDetail is one itemized payment inside a callback. Some providers
// report amount/hash only here and leave the top-level fields empty.
type PaymentDetail struct {
	Amount  string `json:"amount"`
	TxID    string `json:"tx_id"`
	Address string `json:"address"`
}

// Callback is the provider-signed webhook payload.
type Callback struct {
	Pid          string          `json:"pid"`
	Cid          string          `json:"cid"`
	OrderNo      string          `json:"order_no"`
	ThirdPartyID string          `json:"third_party_id"`
	Status       string          `json:"status"`
	OrderAmount  string          `json:"order_amount"`
	PaidAmount   string          `json:"paid_amount"`
	Currency     string          `json:"currency"`
	TxID         string          `json:"tx_id"`
	Address      string          `json:"address"`
	Timestamp    string          `json:"timestamp"`
	Sign         string          `json:"sign"`
	Details      []PaymentDetail `json:"payment_detail"`
}

func (c Callback) signParams() map[string]string {
	return map[string]string{
		"pid":            c.Pid,
		"cid":            c.Cid,
		"order_no":       c.OrderNo,
		"third_party_id": c.ThirdPartyID,
		"status":         c.Status,
		"order_amount":   c.OrderAmount,
		"paid_amount":    c.PaidAmount,
		"currency":       c.Currency,
		"tx_id":          c.TxID,
		"address":        c.Address,
		"timestamp":      c.Timestamp,
	}
}

// Verify recomputes the signature over all non-empty fields and compares it
// with the one the provider sent.
func (c Callback) Verify(key string) bool {
	return VerifySign(Sign(c.signParams(), key), c.Sign)
}

// CorrelationIDs returns the candidate keys for matching the callback to a
// local deposit, in priority order: our own reference first, then the
// provider's order number.
func (c Callback) CorrelationIDs() []string {
	var ids []string
	if v := strings.TrimSpace(c.ThirdPartyID); v != "" {
		ids = append(ids, v)
	}
	if v := strings.TrimSpace(c.OrderNo); v != "" {
		ids = append(ids, v)
	}
	return ids
}

// ReceivedAmount extracts the actually-received amount with ordered fallback:
// top-level paid_amount, then the sum of itemized details, then the quoted
// order_amount. The received amount takes precedence over the quote because
// crypto payers routinely under- or over-pay.
func (c Callback) ReceivedAmount() (decimal.Decimal, bool) {
	if d, err := decimal.NewFromString(strings.TrimSpace(c.PaidAmount)); err == nil && d.GreaterThan(decimal.Zero) {
		return d, true
	}
	sum := decimal.Zero
	found := false
	for _, item := range c.Details {
		d, err := decimal.NewFromString(strings.TrimSpace(item.Amount))
		if err != nil || !d.GreaterThan(decimal.Zero) {
			continue
		}
		sum = sum.Add(d)
		found = true
	}
	if found {
		return sum, true
	}
	if d, err := decimal.NewFromString(strings.TrimSpace(c.OrderAmount)); err == nil && d.GreaterThan(decimal.Zero) {
		return d, true
	}
	return decimal.Zero, false
}

// TxHash extracts the on-chain transaction hash, falling back to the first
// itemized detail carrying one.
func (c Callback) TxHash() string {
	if v := strings.TrimSpace(c.TxID); v != "" {
		return v
	}
	for _, item := range c.Details {
		if v := strings.TrimSpace(item.TxID); v != "" {
			return v
		}
	}
	return ""
}

// Outcome maps the provider's event vocabulary to the internal three-outcome
// model.
func (c Callback) Outcome() Outcome {
	switch strings.ToLower(strings.TrimSpace(c.Status)) {
	case "paid", "success", "succeeded", "completed", "paid_over":
		return OutcomePaid
	case "failed", "cancelled", "canceled", "expired", "timeout":
		return OutcomeFailed
	default:
		return OutcomeIgnore
	}
}
