package xadmit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/omeyang/gatekit/pkg/limit/xalgo"
)

func TestDecisionHeaders(t *testing.T) {
	resetAt := time.Date(2026, 8, 21, 10, 1, 0, 0, time.UTC)

	t.Run("allowed carries limit headers", func(t *testing.T) {
		d := &Decision{
			Result: xalgo.Result{Allowed: true, Remaining: 7, ResetAt: resetAt},
			Limit:  10,
			Rule:   "api-read",
		}
		h := d.Headers()
		assert.Equal(t, "10", h[HeaderLimit])
		assert.Equal(t, "7", h[HeaderRemaining])
		assert.Equal(t, "1787306460", h[HeaderReset])
		assert.Equal(t, "api-read", h[HeaderPolicy])
		assert.NotContains(t, h, HeaderRetryAfter)
	})

	t.Run("denied adds retry-after", func(t *testing.T) {
		d := &Decision{
			Result:     xalgo.Result{Allowed: false, Remaining: 0, ResetAt: resetAt},
			Limit:      10,
			RetryAfter: 30 * time.Second,
			Rule:       "api-read",
		}
		h := d.Headers()
		assert.Equal(t, "0", h[HeaderRemaining])
		assert.Equal(t, "30", h[HeaderRetryAfter])
	})

	t.Run("retry-after floors at one second", func(t *testing.T) {
		d := &Decision{
			Result: xalgo.Result{Allowed: false},
			Limit:  10,
		}
		assert.Equal(t, "1", d.Headers()[HeaderRetryAfter])
	})

	t.Run("bypass omits rate limit headers", func(t *testing.T) {
		d := &Decision{
			Result:   xalgo.Result{Allowed: true},
			Limit:    Unlimited,
			Bypassed: true,
		}
		assert.Empty(t, d.Headers())
	})

	t.Run("zero reset time omits reset header", func(t *testing.T) {
		d := &Decision{
			Result:   xalgo.Result{Allowed: true, Remaining: 10},
			Limit:    10,
			Rule:     "api-read",
			Degraded: true,
		}
		h := d.Headers()
		assert.Contains(t, h, HeaderLimit)
		assert.NotContains(t, h, HeaderReset)
	})
}

func TestDecisionSetHeaders(t *testing.T) {
	d := &Decision{
		Result: xalgo.Result{Allowed: false, Remaining: 0,
			ResetAt: time.Date(2026, 8, 21, 10, 1, 0, 0, time.UTC)},
		Limit:      5,
		RetryAfter: 12 * time.Second,
		Rule:       "burst-guard",
	}

	h := http.Header{}
	d.SetHeaders(h)

	assert.Equal(t, "5", h.Get(HeaderLimit))
	assert.Equal(t, "0", h.Get(HeaderRemaining))
	assert.Equal(t, "burst-guard", h.Get(HeaderPolicy))
	assert.Equal(t, "12", h.Get(HeaderRetryAfter))
}

func TestDecisionAllowed(t *testing.T) {
	assert.True(t, (&Decision{Result: xalgo.Result{Allowed: true}}).Allowed())
	assert.False(t, (&Decision{}).Allowed())
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		resetAt time.Time
		want    time.Duration
	}{
		{"whole seconds pass through", now.Add(30 * time.Second), 30 * time.Second},
		{"fraction rounds up", now.Add(1200 * time.Millisecond), 2 * time.Second},
		{"sub-second floors at one", now.Add(10 * time.Millisecond), time.Second},
		{"past reset floors at one", now.Add(-time.Minute), time.Second},
		{"zero reset floors at one", time.Time{}, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryAfter(tt.resetAt, now))
		})
	}
}
