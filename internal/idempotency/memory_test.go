package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryClaimOnce(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	ok, err := s.Claim(ctx, "tok-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Claim(ctx, "tok-1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Claim(ctx, "tok-2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryClaimExpires(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	ok, _ := s.Claim(ctx, "tok", 10*time.Millisecond)
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	ok, _ = s.Claim(ctx, "tok", time.Minute)
	require.True(t, ok, "expired claim must be reclaimable")
}

func TestMemoryRelease(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	ok, _ := s.Claim(ctx, "tok", time.Minute)
	require.True(t, ok)
	require.NoError(t, s.Release(ctx, "tok"))
	ok, _ = s.Claim(ctx, "tok", time.Minute)
	require.True(t, ok)
}
