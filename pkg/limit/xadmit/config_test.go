package xadmit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/gatekit/pkg/config/xconf"
	"github.com/omeyang/gatekit/pkg/limit/xadmit"
	"github.com/omeyang/gatekit/pkg/limit/xalgo"
	"github.com/omeyang/gatekit/pkg/store/xstore"
)

const sampleConfigJSON = `{
  "key_prefix": "gate:",
  "default": {"limit": 50, "window": "30s"},
  "failure_policy": "fail_closed",
  "bypass_ips": ["10.0.0.0/8", "192.0.2.10"],
  "bypass_api_keys": ["ops-key"],
  "rules": [
    {
      "id": "api-read",
      "match": {"path_pattern": "/api/*", "methods": ["GET"]},
      "limits": {"limit": 100, "window": "60s", "burst": 150},
      "algorithm": "sliding_window",
      "priority": 10,
      "scope": ["user"],
      "action": {"kind": "reject", "status_code": 429, "message": "rate limit exceeded"}
    },
    {
      "id": "expensive-write",
      "match": {"path_pattern": "/api/*", "methods": ["POST", "PUT"]},
      "limits": {"limit": 10, "window": "1m"},
      "scope": ["user", "tenant"]
    }
  ],
  "tiers": [
    {
      "name": "pro",
      "limits": {"requests_per_minute": 200, "burst": 50},
      "quotas": {"tokens": {"daily": 100000, "monthly": 2000000}}
    }
  ]
}`

const sampleConfigYAML = `
default:
  limit: 20
  window: 10s
rules:
  - id: yaml-rule
    limits:
      limit: 5
      window: 60s
    scope: [ip]
tiers:
  - name: free
    limits:
      requests_per_minute: 50
`

func TestParseConfigJSON(t *testing.T) {
	cfg, err := xadmit.ParseConfig([]byte(sampleConfigJSON), xconf.FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, "gate:", cfg.KeyPrefix)
	assert.Equal(t, int64(50), cfg.Default.Limit)
	assert.Equal(t, 30*time.Second, cfg.Default.Window)
	assert.Equal(t, "fail_closed", cfg.FailurePolicy)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.BypassIPs)
	assert.Equal(t, []string{"ops-key"}, cfg.BypassAPIKeys)

	require.Len(t, cfg.Rules, 2)
	read := cfg.Rules[0]
	assert.Equal(t, "api-read", read.ID)
	assert.Equal(t, "/api/*", read.Match.PathPattern)
	assert.Equal(t, []string{"GET"}, read.Match.Methods)
	assert.Equal(t, int64(100), read.Limits.Limit)
	assert.Equal(t, time.Minute, read.Limits.Window)
	assert.Equal(t, int64(150), read.Limits.Burst)
	assert.Equal(t, xalgo.NameSlidingWindow, read.Algorithm)
	assert.Equal(t, 10, read.Priority)
	assert.Equal(t, []xadmit.ScopeDim{xadmit.ScopeUser}, read.Scope)
	require.NotNil(t, read.Action)
	assert.Equal(t, xadmit.ActionReject, read.Action.Kind)
	assert.Equal(t, 429, read.Action.StatusCode)

	write := cfg.Rules[1]
	assert.Equal(t, time.Minute, write.Limits.Window)
	assert.Equal(t, []xadmit.ScopeDim{xadmit.ScopeUser, xadmit.ScopeTenant}, write.Scope)
	assert.Nil(t, write.Action)

	require.Len(t, cfg.Tiers, 1)
	pro := cfg.Tiers[0]
	assert.Equal(t, "pro", pro.Name)
	assert.Equal(t, int64(200), pro.Limits.RequestsPerMinute)
	require.Contains(t, pro.Quotas, "tokens")
	assert.Equal(t, int64(100000), pro.Quotas["tokens"].Daily)
	assert.Equal(t, int64(2000000), pro.Quotas["tokens"].Monthly)
}

func TestParseConfigYAML(t *testing.T) {
	cfg, err := xadmit.ParseConfig([]byte(sampleConfigYAML), xconf.FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, int64(20), cfg.Default.Limit)
	assert.Equal(t, 10*time.Second, cfg.Default.Window)

	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "yaml-rule", cfg.Rules[0].ID)
	assert.Equal(t, time.Minute, cfg.Rules[0].Limits.Window)
	assert.Equal(t, []xadmit.ScopeDim{xadmit.ScopeIP}, cfg.Rules[0].Scope)

	require.Len(t, cfg.Tiers, 1)
	assert.Equal(t, int64(50), cfg.Tiers[0].Limits.RequestsPerMinute)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"malformed json", `{"rules": [`, xconf.ErrParseFailed},
		{"unknown algorithm", `{"rules": [
			{"id": "r", "limits": {"limit": 1, "window": "60s"}, "algorithm": "gcra"}
		]}`, xalgo.ErrUnknownAlgorithm},
		{"invalid rule", `{"rules": [
			{"id": "r", "limits": {"limit": 1}}
		]}`, xadmit.ErrInvalidRule},
		{"duplicate rule ids", `{"rules": [
			{"id": "r", "limits": {"limit": 1, "window": "60s"}},
			{"id": "r", "limits": {"limit": 2, "window": "60s"}}
		]}`, xadmit.ErrInvalidConfig},
		{"duplicate tiers", `{"tiers": [
			{"name": "pro"}, {"name": "pro"}
		]}`, xadmit.ErrInvalidConfig},
		{"invalid tier", `{"tiers": [
			{"name": "pro", "limits": {"requests_per_minute": -1}}
		]}`, xadmit.ErrInvalidTier},
		{"bad failure policy", `{"failure_policy": "explode"}`, xadmit.ErrInvalidConfig},
		{"bad bypass ip", `{"bypass_ips": ["999.0.0.1"]}`, xadmit.ErrInvalidBypassIP},
		{"bad default limits", `{"default": {"limit": -1, "window": "60s"}}`, xadmit.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := xadmit.ParseConfig([]byte(tt.data), xconf.FormatJSON)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfigValidateEmpty(t *testing.T) {
	var cfg xadmit.Config
	assert.NoError(t, cfg.Validate())
}

func TestNewFromConfig(t *testing.T) {
	clk := newFakeClock()
	ctx := context.Background()

	newStore := func(t *testing.T) xstore.Store {
		t.Helper()
		store, err := xstore.NewMemory(xstore.WithClock(clk.Now))
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, store.Close(context.Background())) })
		return store
	}

	t.Run("nil config", func(t *testing.T) {
		_, err := xadmit.NewFromConfig(newStore(t), nil)
		assert.ErrorIs(t, err, xadmit.ErrInvalidConfig)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := xadmit.NewFromConfig(newStore(t), &xadmit.Config{FailurePolicy: "explode"})
		assert.ErrorIs(t, err, xadmit.ErrInvalidConfig)
	})

	t.Run("rules and tiers wired", func(t *testing.T) {
		cfg, err := xadmit.ParseConfig([]byte(sampleConfigJSON), xconf.FormatJSON)
		require.NoError(t, err)

		l, err := xadmit.NewFromConfig(newStore(t), cfg, xadmit.WithClock(clk.Now))
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, l.Close()) })

		assert.Len(t, l.Rules(), 2)
		assert.Contains(t, l.Tiers(), "pro")

		// 旁路与键前缀来自配置
		d, err := l.Consume(ctx, xadmit.RequestContext{IP: "10.3.4.5"})
		require.NoError(t, err)
		assert.True(t, d.Bypassed)

		d, err = l.Check(ctx, xadmit.RequestContext{
			UserID: "u1", Path: "/api/v1/items", Method: "GET",
		})
		require.NoError(t, err)
		assert.Equal(t, "api-read", d.Rule)
		assert.Equal(t, "gate:api-read:user:u1", d.Key)
	})

	t.Run("explicit options win over config", func(t *testing.T) {
		cfg := &xadmit.Config{KeyPrefix: "cfg:"}
		l, err := xadmit.NewFromConfig(newStore(t), cfg,
			xadmit.WithClock(clk.Now), xadmit.WithKeyPrefix("opt:"))
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, l.Close()) })

		d, err := l.Check(ctx, xadmit.RequestContext{IP: "203.0.113.1"})
		require.NoError(t, err)
		assert.Equal(t, "opt:default:ip:203.0.113.1", d.Key)
	})

	t.Run("failure policy from config", func(t *testing.T) {
		mem, err := xstore.NewMemory(xstore.WithClock(clk.Now))
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, mem.Close(context.Background())) })

		cfg := &xadmit.Config{FailurePolicy: "fail_closed"}
		l, err := xadmit.NewFromConfig(&failingStore{Store: mem}, cfg, xadmit.WithClock(clk.Now))
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, l.Close()) })

		_, err = l.Consume(ctx, xadmit.RequestContext{IP: "203.0.113.1"})
		assert.ErrorIs(t, err, xstore.ErrUnavailable)
	})
}

func TestApplyConfig(t *testing.T) {
	clk := newFakeClock()
	ctx := context.Background()

	newConfigured := func(t *testing.T) *xadmit.Limiter {
		t.Helper()
		l, _ := newTestLimiter(t, clk)
		require.NoError(t, l.AddRule(xadmit.Rule{
			ID:     "old-rule",
			Limits: xadmit.RuleLimits{Limit: 10, Window: time.Minute},
		}))
		return l
	}

	t.Run("nil config", func(t *testing.T) {
		l := newConfigured(t)
		assert.ErrorIs(t, l.ApplyConfig(nil), xadmit.ErrInvalidConfig)
	})

	t.Run("atomic swap", func(t *testing.T) {
		l := newConfigured(t)

		err := l.ApplyConfig(&xadmit.Config{
			Default:       xadmit.RuleLimits{Limit: 2, Window: time.Minute},
			BypassIPs:     []string{"192.0.2.99"},
			BypassAPIKeys: []string{"new-ops"},
			Rules: []xadmit.Rule{{
				ID:     "new-rule",
				Match:  xadmit.MatchSpec{PathPattern: "/api/*"},
				Limits: xadmit.RuleLimits{Limit: 5, Window: time.Minute},
				Scope:  []xadmit.ScopeDim{xadmit.ScopeUser},
			}},
			Tiers: []xadmit.Tier{{
				Name:   "pro",
				Limits: xadmit.TierLimits{RequestsPerMinute: 200},
			}},
		})
		require.NoError(t, err)

		rules := l.Rules()
		require.Len(t, rules, 1)
		assert.Equal(t, "new-rule", rules[0].ID)
		assert.Contains(t, l.Tiers(), "pro")

		// 新规则与新层级即时生效
		d, err := l.Check(ctx, xadmit.RequestContext{
			UserID: "u1", Tier: "pro", Path: "/api/x",
		})
		require.NoError(t, err)
		assert.Equal(t, "new-rule", d.Rule)
		assert.Equal(t, int64(10), d.Limit, "limit 5 doubled by pro tier")

		// 新默认限额对未命中请求生效
		d, err = l.Check(ctx, xadmit.RequestContext{IP: "203.0.113.1", Path: "/static/x"})
		require.NoError(t, err)
		assert.Equal(t, xadmit.DefaultRuleID, d.Rule)
		assert.Equal(t, int64(2), d.Limit)

		// 新旁路集合生效
		d, err = l.Consume(ctx, xadmit.RequestContext{IP: "192.0.2.99"})
		require.NoError(t, err)
		assert.True(t, d.Bypassed)
		d, err = l.Consume(ctx, xadmit.RequestContext{APIKey: "new-ops"})
		require.NoError(t, err)
		assert.True(t, d.Bypassed)
	})

	t.Run("invalid config leaves state untouched", func(t *testing.T) {
		l := newConfigured(t)

		err := l.ApplyConfig(&xadmit.Config{
			Rules: []xadmit.Rule{
				{ID: "dup", Limits: xadmit.RuleLimits{Limit: 1, Window: time.Minute}},
				{ID: "dup", Limits: xadmit.RuleLimits{Limit: 2, Window: time.Minute}},
			},
		})
		require.ErrorIs(t, err, xadmit.ErrInvalidConfig)

		rules := l.Rules()
		require.Len(t, rules, 1)
		assert.Equal(t, "old-rule", rules[0].ID)
	})

	t.Run("key prefix change ignored", func(t *testing.T) {
		l := newConfigured(t)

		require.NoError(t, l.ApplyConfig(&xadmit.Config{KeyPrefix: "other:"}))
		d, err := l.Check(ctx, xadmit.RequestContext{IP: "203.0.113.1"})
		require.NoError(t, err)
		assert.Equal(t, "xadmit:default:ip:203.0.113.1", d.Key)
	})

	t.Run("closed limiter", func(t *testing.T) {
		l := newConfigured(t)
		require.NoError(t, l.Close())
		assert.ErrorIs(t, l.ApplyConfig(&xadmit.Config{}), xadmit.ErrClosed)
	})
}
