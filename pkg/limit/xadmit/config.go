package xadmit

import (
	"fmt"
	"slices"

	"github.com/omeyang/gatekit/pkg/config/xconf"
	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// ============================================================================
// 配置
// ============================================================================

// Config 完整的准入配置，可从 JSON/YAML 字节反序列化。
// 字段使用 json 标签，时长字段接受 "60s" 这类字符串。
type Config struct {
	// KeyPrefix 计数键前缀，仅在构造时生效
	KeyPrefix string `json:"key_prefix,omitempty"`

	// Default 无规则命中时的默认限额，零值使用内置默认（100 次/分钟）
	Default RuleLimits `json:"default,omitempty"`

	// FailurePolicy "fail_open"（默认）或 "fail_closed"
	FailurePolicy string `json:"failure_policy,omitempty"`

	// BypassIPs 旁路地址，裸 IP 或 CIDR
	BypassIPs []string `json:"bypass_ips,omitempty"`

	// BypassAPIKeys 旁路 API key
	BypassAPIKeys []string `json:"bypass_api_keys,omitempty"`

	// Rules 规则列表，顺序即同优先级的先后
	Rules []Rule `json:"rules,omitempty"`

	// Tiers 层级列表
	Tiers []Tier `json:"tiers,omitempty"`
}

// ParseConfig 从原始字节解析并校验配置。文件读取由调用方负责。
func ParseConfig(data []byte, format xconf.Format) (*Config, error) {
	c, err := xconf.NewFromBytes(data, format, xconf.WithTag("json"))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := c.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 整体校验：每条规则与层级、重复 ID、失败策略、旁路地址。
// 任何一处非法即拒绝整份配置。
func (c *Config) Validate() error {
	switch c.FailurePolicy {
	case "", "fail_open", "fail_closed":
	default:
		return fmt.Errorf("%w: failure_policy %q", ErrInvalidConfig, c.FailurePolicy)
	}

	if c.Default != (RuleLimits{}) {
		if c.Default.Limit <= 0 || c.Default.Window <= 0 || c.Default.Burst < 0 {
			return fmt.Errorf("%w: default limits", ErrInvalidConfig)
		}
	}

	if _, err := buildIPSet(c.BypassIPs); err != nil {
		return err
	}

	ruleIDs := make(map[string]struct{}, len(c.Rules))
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := ruleIDs[r.ID]; dup {
			return fmt.Errorf("%w: duplicate rule id %q", ErrInvalidConfig, r.ID)
		}
		ruleIDs[r.ID] = struct{}{}
	}

	tierNames := make(map[string]struct{}, len(c.Tiers))
	for _, t := range c.Tiers {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := tierNames[t.Name]; dup {
			return fmt.Errorf("%w: duplicate tier %q", ErrInvalidConfig, t.Name)
		}
		tierNames[t.Name] = struct{}{}
	}
	return nil
}

// failurePolicy 解析策略字符串，空值取 FailOpen
func (c *Config) failurePolicy() FailurePolicy {
	if c.FailurePolicy == "fail_closed" {
		return FailClosed
	}
	return FailOpen
}

// NewFromConfig 依据配置构建编排器。
// opts 在配置转换出的选项之后应用，显式选项优先于配置文件。
func NewFromConfig(store xstore.Store, cfg *Config, opts ...Option) (*Limiter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := make([]Option, 0, len(opts)+5)
	if cfg.KeyPrefix != "" {
		base = append(base, WithKeyPrefix(cfg.KeyPrefix))
	}
	if cfg.Default != (RuleLimits{}) {
		base = append(base, WithDefaultLimits(cfg.Default))
	}
	base = append(base, WithFailurePolicy(cfg.failurePolicy()))
	if len(cfg.BypassIPs) > 0 {
		base = append(base, WithBypassIPs(cfg.BypassIPs...))
	}
	if len(cfg.BypassAPIKeys) > 0 {
		base = append(base, WithBypassAPIKeys(cfg.BypassAPIKeys...))
	}
	base = append(base, opts...)

	l, err := New(store, base...)
	if err != nil {
		return nil, err
	}
	for _, r := range cfg.Rules {
		if err := l.AddRule(r); err != nil {
			_ = l.Close()
			return nil, err
		}
	}
	for _, t := range cfg.Tiers {
		if err := l.AddTier(t); err != nil {
			_ = l.Close()
			return nil, err
		}
	}
	return l, nil
}

// ApplyConfig 原子替换规则、层级、旁路集合、默认限额与失败策略，
// 供配置热重载使用。配置先整体校验，任何错误都不会部分生效。
//
// KeyPrefix 在构造时固定：运行中换前缀会把已有计数整体孤儿化，
// 重载中的变更记 Warn 后忽略。
func (l *Limiter) ApplyConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	nets, err := buildIPSet(cfg.BypassIPs)
	if err != nil {
		return err
	}
	keys := make(map[string]struct{}, len(cfg.BypassAPIKeys))
	for _, k := range cfg.BypassAPIKeys {
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	rules := slices.Clone(cfg.Rules)
	tiers := make(map[string]Tier, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers[t.Name] = t
	}
	defaults := l.opts.defaultLimits
	if cfg.Default != (RuleLimits{}) {
		defaults = cfg.Default
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if cfg.KeyPrefix != "" && cfg.KeyPrefix != l.opts.keyPrefix {
		l.opts.logger.Warn("key_prefix change ignored on reload",
			"current", l.opts.keyPrefix, "requested", cfg.KeyPrefix)
	}

	l.rules = rules
	l.tiers = tiers
	l.bypassNets = nets
	l.bypassKeys = keys
	l.defaults = defaults
	l.policy = cfg.failurePolicy()
	l.cache.purge()
	return nil
}
