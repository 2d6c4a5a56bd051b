package xadmit

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/omeyang/gatekit/pkg/limit/xalgo"
	"github.com/omeyang/gatekit/pkg/quota/xquota"
)

// ============================================================================
// 规则模型
// ============================================================================

// ScopeDim 是计数键的一个维度。
// 规则的 Scope 决定限额按什么粒度隔离：[user] 表示每用户独立计数，
// [tenant, endpoint] 表示每租户每端点独立计数，依此类推。
type ScopeDim string

const (
	ScopeUser     ScopeDim = "user"
	ScopeIP       ScopeDim = "ip"
	ScopeAPIKey   ScopeDim = "api_key"
	ScopeTenant   ScopeDim = "tenant"
	ScopeEndpoint ScopeDim = "endpoint"
	ScopeGlobal   ScopeDim = "global"
)

func (d ScopeDim) valid() bool {
	switch d {
	case ScopeUser, ScopeIP, ScopeAPIKey, ScopeTenant, ScopeEndpoint, ScopeGlobal:
		return true
	}
	return false
}

// ActionKind 拒绝后的处置方式
type ActionKind string

const (
	// ActionReject 直接拒绝
	ActionReject ActionKind = "reject"
	// ActionQueue 建议调用方排队重试
	ActionQueue ActionKind = "queue"
)

// Action 描述规则拒绝请求后的处置建议，由嵌入方执行
type Action struct {
	// Kind 处置方式
	Kind ActionKind `json:"kind"`

	// StatusCode 建议返回的 HTTP 状态码，0 表示由嵌入方决定
	StatusCode int `json:"status_code,omitempty"`

	// Message 返回给调用方的说明文本
	Message string `json:"message,omitempty"`
}

// RuleLimits 规则限额
type RuleLimits struct {
	// Limit 窗口内允许的请求数，必须 > 0
	Limit int64 `json:"limit"`

	// Window 限流窗口，必须 > 0
	Window time.Duration `json:"window"`

	// Burst > 0 时作为突发上限覆盖算法的有效限额
	Burst int64 `json:"burst,omitempty"`
}

// MatchSpec 规则的匹配条件。
// 空字段表示该维度不限；所有非空条件同时满足才算命中。
type MatchSpec struct {
	// PathPattern 路径模式，'*' 匹配任意长度的任意字符（包括 '/'）
	PathPattern string `json:"path_pattern,omitempty"`

	// Methods 允许的 HTTP 方法集合，匹配不区分大小写
	Methods []string `json:"methods,omitempty"`

	// Tiers 命中的层级名称集合
	Tiers []string `json:"tiers,omitempty"`

	// Tenants 命中的租户集合
	Tenants []string `json:"tenants,omitempty"`
}

// Rule 一条准入规则
type Rule struct {
	// ID 规则唯一标识
	ID string `json:"id"`

	// Match 匹配条件，零值匹配所有请求
	Match MatchSpec `json:"match,omitempty"`

	// Limits 限额
	Limits RuleLimits `json:"limits"`

	// Algorithm 限流算法名称（xalgo 注册名），空值使用滑动窗口
	Algorithm string `json:"algorithm,omitempty"`

	// Priority 优先级，多条规则命中时取最大者；同优先级先配置者生效
	Priority int `json:"priority,omitempty"`

	// Scope 计数键维度，空切片退化为按 IP（无 IP 时按匿名桶）
	Scope []ScopeDim `json:"scope,omitempty"`

	// Action 拒绝后的处置建议，可为 nil
	Action *Action `json:"action,omitempty"`

	// Enabled 为 nil 或 true 时规则生效
	Enabled *bool `json:"enabled,omitempty"`
}

// Validate 校验规则定义。
// 算法名写错属于配置错误，必须在构造/变更时暴露而不是运行时静默放行。
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRule)
	}
	if r.Limits.Limit <= 0 {
		return fmt.Errorf("%w: rule %q: limit must be positive", ErrInvalidRule, r.ID)
	}
	if r.Limits.Window <= 0 {
		return fmt.Errorf("%w: rule %q: window must be positive", ErrInvalidRule, r.ID)
	}
	if r.Limits.Burst < 0 {
		return fmt.Errorf("%w: rule %q: burst must not be negative", ErrInvalidRule, r.ID)
	}
	if !validAlgorithm(r.Algorithm) {
		return fmt.Errorf("rule %q: %w: %q", r.ID, xalgo.ErrUnknownAlgorithm, r.Algorithm)
	}
	for _, dim := range r.Scope {
		if !dim.valid() {
			return fmt.Errorf("%w: rule %q: scope dim %q", ErrInvalidRule, r.ID, dim)
		}
	}
	if r.Action != nil {
		if r.Action.Kind != ActionReject && r.Action.Kind != ActionQueue {
			return fmt.Errorf("%w: rule %q: action kind %q", ErrInvalidRule, r.ID, r.Action.Kind)
		}
		if r.Action.StatusCode != 0 && (r.Action.StatusCode < 100 || r.Action.StatusCode > 599) {
			return fmt.Errorf("%w: rule %q: status code %d", ErrInvalidRule, r.ID, r.Action.StatusCode)
		}
	}
	return nil
}

// enabled 规则是否参与匹配
func (r Rule) enabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// matches 报告请求是否命中本规则的全部匹配条件
func (r Rule) matches(rc RequestContext) bool {
	m := r.Match
	if m.PathPattern != "" && !wildcardMatch(m.PathPattern, rc.Path) {
		return false
	}
	if len(m.Methods) > 0 && !slices.ContainsFunc(m.Methods, func(s string) bool {
		return strings.EqualFold(s, rc.Method)
	}) {
		return false
	}
	if len(m.Tiers) > 0 && !slices.Contains(m.Tiers, rc.Tier) {
		return false
	}
	if len(m.Tenants) > 0 && !slices.Contains(m.Tenants, rc.TenantID) {
		return false
	}
	return true
}

func validAlgorithm(name string) bool {
	switch name {
	case "", xalgo.NameSlidingWindow, xalgo.NameTokenBucket,
		xalgo.NameFixedWindow, xalgo.NameLeakyBucket, xalgo.NameAdaptive:
		return true
	}
	return false
}

// ============================================================================
// 层级模型
// ============================================================================

// TierLimits 层级限额声明。
// RequestsPerMinute 参与规则限额缩放；其余字段随配置携带，
// 供嵌入方的配额与并发控制使用。
type TierLimits struct {
	RequestsPerMinute  int64 `json:"requests_per_minute,omitempty"`
	RequestsPerHour    int64 `json:"requests_per_hour,omitempty"`
	RequestsPerDay     int64 `json:"requests_per_day,omitempty"`
	Burst              int64 `json:"burst,omitempty"`
	ConcurrentRequests int64 `json:"concurrent_requests,omitempty"`
}

// Tier 调用方层级（如 free/pro/enterprise）
type Tier struct {
	// Name 层级名称，RequestContext.Tier 以此关联
	Name string `json:"name"`

	// Limits 层级限额
	Limits TierLimits `json:"limits"`

	// Quotas 层级携带的命名配额定义，交由 xquota.Manager 执行
	Quotas map[string]xquota.Definition `json:"quotas,omitempty"`

	// Priority 层级优先级，供排队等场景参考
	Priority int `json:"priority,omitempty"`
}

// Validate 校验层级定义
func (t Tier) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTier)
	}
	l := t.Limits
	if l.RequestsPerMinute < 0 || l.RequestsPerHour < 0 || l.RequestsPerDay < 0 ||
		l.Burst < 0 || l.ConcurrentRequests < 0 {
		return fmt.Errorf("%w: tier %q: negative limit", ErrInvalidTier, t.Name)
	}
	for name, def := range t.Quotas {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("%w: tier %q: quota %q: %w", ErrInvalidTier, t.Name, name, err)
		}
	}
	return nil
}

// multiplier 层级对规则限额的缩放倍率。
// 以 RequestsPerMinute 的百分比表达：100 为基准 1.0，200 放大一倍，
// 50 减半。未声明（<= 0）时不缩放。
func (t Tier) multiplier() float64 {
	if t.Limits.RequestsPerMinute <= 0 {
		return 1
	}
	return float64(t.Limits.RequestsPerMinute) / 100
}
