package utils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Circuit Breaker Tests

func TestCircuitBreaker_NewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("test")

	assert.Equal(t, "test", cb.name)
	assert.Equal(t, uint32(20), cb.maxRequests)
	assert.Equal(t, 60*time.Second, cb.interval)
	assert.Equal(t, 30*time.Second, cb.timeout)
	assert.Equal(t, 0.5, cb.failureRatio)
	assert.Equal(t, StateClosed, cb.state)
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	result, err := cb.Execute(ctx, func() (any, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.state)
}

func TestCircuitBreaker_ExecuteFailurePropagates(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	wantErr := errors.New("provider down")
	_, err := cb.Execute(ctx, func() (any, error) {
		return nil, wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, StateClosed, cb.state)
}

func TestCircuitBreaker_OpensAfterSustainedFailures(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	for i := 0; i < int(cb.maxRequests); i++ {
		cb.Execute(ctx, func() (any, error) {
			return nil, errors.New("provider down")
		})
	}

	_, err := cb.Execute(ctx, func() (any, error) {
		return "ok", nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_ConcurrentExecute(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.Execute(ctx, func() (any, error) {
				return "ok", nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, StateClosed, cb.state)
}

// Random / ID Tests

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(8)

	require.NoError(t, err)
	assert.Len(t, code, 16)
	assert.Equal(t, code, strings.ToUpper(code))
}

func TestGenerateCode_Unique(t *testing.T) {
	a, err := GenerateCode(8)
	require.NoError(t, err)
	b, err := GenerateCode(8)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestNewRecordID(t *testing.T) {
	id, err := NewRecordID()

	require.NoError(t, err)
	assert.Len(t, id, 15)
	for _, c := range id {
		assert.True(t, (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9'), "unexpected character %q", c)
	}
}

// Phone Normalization Tests

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0712345678", "254712345678"},
		{"712345678", "254712345678"},
		{"254712345678", "254712345678"},
		{"+254712345678", "254712345678"},
		{"+254 712 345 678", "254712345678"},
		{"0110123456", "254110123456"},
	}

	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestNormalizePhone_Invalid(t *testing.T) {
	for _, in := range []string{"", "12345", "07123", "447911123456"} {
		_, err := NormalizePhone(in)
		assert.Error(t, err, "input %q", in)
	}
}

// Hash Tests

func TestCompareHash(t *testing.T) {
	hash, err := GenerateHash([]byte("admin-key"))
	require.NoError(t, err)

	assert.True(t, CompareHash([]byte(hash), []byte("admin-key")))
	assert.False(t, CompareHash([]byte(hash), []byte("wrong-key")))
}
