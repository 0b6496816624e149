package cregis

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSignDeterministicAndSkipsEmpty(t *testing.T) {
	a := Sign(map[string]string{"b": "2", "a": "1", "c": ""}, "key")
	b := Sign(map[string]string{"a": "1", "b": "2"}, "key")
	require.Equal(t, a, b)
	require.NotEqual(t, a, Sign(map[string]string{"a": "1", "b": "2"}, "other"))
}

func TestCallbackVerify(t *testing.T) {
	cb := Callback{
		Pid:          "p1",
		OrderNo:      "CR-77",
		ThirdPartyID: "dep-1",
		Status:       "paid",
		OrderAmount:  "100",
		PaidAmount:   "99.5",
		Currency:     "USDT",
		TxID:         "0xabc",
	}
	cb.Sign = Sign(cb.signParams(), "shared")
	require.True(t, cb.Verify("shared"))
	require.False(t, cb.Verify("wrong"))

	tampered := cb
	tampered.PaidAmount = "999.5"
	require.False(t, tampered.Verify("shared"))
}

func TestVerifySignRejectsEmpty(t *testing.T) {
	require.False(t, VerifySign("", ""))
	require.False(t, VerifySign("abc", ""))
}

func TestReceivedAmountFallbackOrder(t *testing.T) {
	cb := Callback{OrderAmount: "100", PaidAmount: "99.5"}
	got, ok := cb.ReceivedAmount()
	require.True(t, ok)
	require.True(t, got.Equal(decimal.RequireFromString("99.5")))

	cb = Callback{
		OrderAmount: "100",
		Details: []PaymentDetail{
			{Amount: "40", TxID: "0x1"},
			{Amount: "59.5", TxID: "0x2"},
			{Amount: "bogus"},
		},
	}
	got, ok = cb.ReceivedAmount()
	require.True(t, ok)
	require.True(t, got.Equal(decimal.RequireFromString("99.5")))

	cb = Callback{OrderAmount: "100"}
	got, ok = cb.ReceivedAmount()
	require.True(t, ok)
	require.True(t, got.Equal(decimal.NewFromInt(100)))

	cb = Callback{}
	_, ok = cb.ReceivedAmount()
	require.False(t, ok)
}

func TestTxHashFallback(t *testing.T) {
	cb := Callback{TxID: "0xtop", Details: []PaymentDetail{{TxID: "0xdetail"}}}
	require.Equal(t, "0xtop", cb.TxHash())

	cb = Callback{Details: []PaymentDetail{{Amount: "1"}, {TxID: "0xdetail"}}}
	require.Equal(t, "0xdetail", cb.TxHash())

	require.Equal(t, "", Callback{}.TxHash())
}

func TestCorrelationIDPriority(t *testing.T) {
	cb := Callback{ThirdPartyID: " dep-1 ", OrderNo: "CR-77"}
	require.Equal(t, []string{"dep-1", "CR-77"}, cb.CorrelationIDs())

	cb = Callback{OrderNo: "CR-77"}
	require.Equal(t, []string{"CR-77"}, cb.CorrelationIDs())

	require.Empty(t, Callback{}.CorrelationIDs())
}

func TestOutcomeMapping(t *testing.T) {
	for _, s := range []string{"paid", "Success", "COMPLETED", "paid_over", "succeeded"} {
		require.Equal(t, OutcomePaid, Callback{Status: s}.Outcome(), s)
	}
	for _, s := range []string{"failed", "cancelled", "canceled", "expired", "timeout"} {
		require.Equal(t, OutcomeFailed, Callback{Status: s}.Outcome(), s)
	}
	for _, s := range []string{"", "processing", "confirming", "unknown_state"} {
		require.Equal(t, OutcomeIgnore, Callback{Status: s}.Outcome(), s)
	}
}

func TestClampTTL(t *testing.T) {
	require.Equal(t, minOrderTTL, clampTTL(0))
	require.Equal(t, maxOrderTTL, clampTTL(maxOrderTTL*3))
}
