package mt5

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreditSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/accounts/10042/credit", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"balance":"1100.50"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 2*time.Second, zap.NewNop())
	res, err := c.Credit(context.Background(), "10042", decimal.RequireFromString("100.50"), "deposit #1")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.Balance.Equal(decimal.RequireFromString("1100.50")))
}

func TestDebitBusinessRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"message":"insufficient balance"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 2*time.Second, zap.NewNop())
	res, err := c.Debit(context.Background(), "10042", decimal.NewFromInt(50), "withdrawal")
	require.NoError(t, err, "a definite rejection is data, not a transport error")
	require.False(t, res.Success)
	require.Equal(t, "insufficient balance", res.Message)
}

func TestTimeoutIsUnknownOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 50*time.Millisecond, zap.NewNop())
	_, err := c.Credit(context.Background(), "10042", decimal.NewFromInt(10), "x")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownOutcome))
}

func TestUndecodableResponseIsUnknownOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 2*time.Second, zap.NewNop())
	_, err := c.Debit(context.Background(), "10042", decimal.NewFromInt(10), "x")
	require.True(t, errors.Is(err, ErrUnknownOutcome))
}

func TestAmountMustBePositive(t *testing.T) {
	c := NewClient("http://unused", "", time.Second, zap.NewNop())
	_, err := c.Credit(context.Background(), "10042", decimal.Zero, "x")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrUnknownOutcome))
}
