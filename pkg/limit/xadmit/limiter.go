package xadmit

import (
	"context"
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"go4.org/netipx"

	"github.com/omeyang/gatekit/pkg/limit/xalgo"
	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// DefaultRuleID 无规则命中时合成默认规则的 ID
const DefaultRuleID = "default"

// algorithmNames 编排器支持的全部算法，构造时全量实例化。
// 算法无状态，按名称实例化一次即可服务所有规则。
var algorithmNames = []string{
	xalgo.NameSlidingWindow,
	xalgo.NameTokenBucket,
	xalgo.NameFixedWindow,
	xalgo.NameLeakyBucket,
	xalgo.NameAdaptive,
}

// Limiter 规则驱动的准入编排器。
//
// 规则、层级、旁路集合与失败策略在运行期可变更，变更采用
// copy-on-write：读路径拿到引用后无锁使用，变更整体替换引用。
type Limiter struct {
	store   xstore.Store
	opts    *options
	algos   map[string]xalgo.Algorithm
	metrics *admitMetrics
	cache   *matchCache

	mu         sync.RWMutex
	rules      []Rule // 配置顺序保存，同优先级先配置者生效
	tiers      map[string]Tier
	bypassNets *netipx.IPSet
	bypassKeys map[string]struct{}
	defaults   RuleLimits
	policy     FailurePolicy
	closed     bool
}

// snapshot 一次判定所需的共享状态引用
type snapshot struct {
	rules      []Rule
	tiers      map[string]Tier
	bypassNets *netipx.IPSet
	bypassKeys map[string]struct{}
	defaults   RuleLimits
	policy     FailurePolicy
}

// New 创建准入编排器。
// 计数状态存放在 store 中，多实例共享同一后端即共享限流视图。
// store 的生命周期由调用方管理，Close 不会关闭它。
func New(store xstore.Store, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	cfg := newOptions(opts)

	nets, err := buildIPSet(cfg.bypassIPs)
	if err != nil {
		return nil, err
	}

	algos := make(map[string]xalgo.Algorithm, len(algorithmNames))
	for _, name := range algorithmNames {
		a, err := xalgo.New(name, store, xalgo.WithClock(cfg.clock))
		if err != nil {
			return nil, err
		}
		algos[name] = a
	}

	metrics, err := newAdmitMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("xadmit: init metrics: %w", err)
	}

	cache, err := newMatchCache(cfg.cacheSize, cfg.cacheTTL)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(cfg.bypassKeys))
	for _, k := range cfg.bypassKeys {
		if k != "" {
			keys[k] = struct{}{}
		}
	}

	return &Limiter{
		store:      store,
		opts:       cfg,
		algos:      algos,
		metrics:    metrics,
		cache:      cache,
		tiers:      make(map[string]Tier),
		bypassNets: nets,
		bypassKeys: keys,
		defaults:   cfg.defaultLimits,
		policy:     cfg.policy,
	}, nil
}

// ============================================================================
// 判定
// ============================================================================

// Check 只读预览：当前状态下该请求能否通过，不消费配额
func (l *Limiter) Check(ctx context.Context, rc RequestContext) (*Decision, error) {
	return l.decide(ctx, rc, 0)
}

// Consume 消费 1 个配额并返回决策
func (l *Limiter) Consume(ctx context.Context, rc RequestContext) (*Decision, error) {
	return l.decide(ctx, rc, 1)
}

// ConsumeN 消费 cost 个配额并返回决策，cost 必须 >= 1
func (l *Limiter) ConsumeN(ctx context.Context, rc RequestContext, cost int64) (*Decision, error) {
	if cost < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	return l.decide(ctx, rc, cost)
}

// decide 核心判定。cost 为 0 表示只读预览。
func (l *Limiter) decide(ctx context.Context, rc RequestContext, cost int64) (*Decision, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	start := l.opts.clock()

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, ErrClosed
	}
	snap := snapshot{
		rules:      l.rules,
		tiers:      l.tiers,
		bypassNets: l.bypassNets,
		bypassKeys: l.bypassKeys,
		defaults:   l.defaults,
		policy:     l.policy,
	}
	l.mu.RUnlock()

	// 步骤 1: 旁路。内部调用、旁路 API key、旁路 IP 直接放行，不触达存储。
	if bypassed(rc, snap) {
		d := &Decision{
			Result:   xalgo.Result{Allowed: true},
			Limit:    Unlimited,
			Bypassed: true,
		}
		l.finish(ctx, rc, d, start)
		return d, nil
	}

	// 步骤 2: 规则匹配（经缓存）
	rule := l.matchRule(rc, snap)

	// 步骤 3: 层级限额缩放
	tierName, mult := tierMultiplier(rc, snap.tiers)
	limit := scale(rule.Limits.Limit, mult)
	var burst int64
	if rule.Limits.Burst > 0 {
		burst = scale(rule.Limits.Burst, mult)
	}

	// 步骤 4: 计数键
	key := l.admissionKey(rule, rc)

	// 步骤 5: 算法分发
	algoName := rule.Algorithm
	if algoName == "" {
		algoName = xalgo.NameSlidingWindow
	}
	algo := l.algos[algoName]

	var (
		res xalgo.Result
		err error
	)
	algoOpts := xalgo.Options{Burst: burst}
	if cost == 0 {
		res, err = algo.Check(ctx, key, limit, rule.Limits.Window, algoOpts)
	} else {
		res, err = algo.Consume(ctx, key, cost, limit, rule.Limits.Window, algoOpts)
	}
	if err != nil {
		return l.resolveFailure(ctx, rc, rule, tierName, key, limit, snap.policy, err, start)
	}

	// 步骤 6: 封装决策
	d := &Decision{
		Result: res,
		Limit:  res.Limit,
		Key:    key,
		Rule:   rule.ID,
		Tier:   tierName,
	}
	if !res.Allowed {
		d.Action = rule.Action
		d.RetryAfter = retryAfter(res.ResetAt, l.opts.clock())
	}
	l.finish(ctx, rc, d, start)
	return d, nil
}

// bypassed 请求是否命中旁路
func bypassed(rc RequestContext, snap snapshot) bool {
	if rc.Internal {
		return true
	}
	if rc.APIKey != "" {
		if _, ok := snap.bypassKeys[rc.APIKey]; ok {
			return true
		}
	}
	if rc.IP != "" && snap.bypassNets != nil {
		if addr, err := netip.ParseAddr(rc.IP); err == nil && snap.bypassNets.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

// matchRule 返回最高优先级的命中规则；无命中时返回合成默认规则。
// 匹配结果完全由 method/path/tier/tenant 决定，可以缓存；
// 缓存条目指向的规则已被替换时退回全量匹配。
func (l *Limiter) matchRule(rc RequestContext, snap snapshot) Rule {
	hash, composite := matchKey(rc)

	if id, ok := l.cache.get(hash, composite); ok {
		if id == "" {
			return defaultRule(snap.defaults)
		}
		for i := range snap.rules {
			if snap.rules[i].ID == id {
				return snap.rules[i]
			}
		}
	}

	best := -1
	for i := range snap.rules {
		if !snap.rules[i].enabled() || !snap.rules[i].matches(rc) {
			continue
		}
		if best < 0 || snap.rules[i].Priority > snap.rules[best].Priority {
			best = i
		}
	}
	if best < 0 {
		l.cache.put(hash, composite, "")
		return defaultRule(snap.defaults)
	}
	l.cache.put(hash, composite, snap.rules[best].ID)
	return snap.rules[best]
}

// defaultRule 无规则命中时的合成规则，按 IP 隔离
func defaultRule(limits RuleLimits) Rule {
	return Rule{
		ID:     DefaultRuleID,
		Limits: limits,
		Scope:  []ScopeDim{ScopeIP},
	}
}

// tierMultiplier 解析请求层级并返回限额倍率。
// 层级未声明或未注册时不缩放。
func tierMultiplier(rc RequestContext, tiers map[string]Tier) (string, float64) {
	if rc.Tier == "" {
		return "", 1
	}
	t, ok := tiers[rc.Tier]
	if !ok {
		return "", 1
	}
	return t.Name, t.multiplier()
}

// scale 应用层级倍率，向下取整但不小于 1
func scale(n int64, mult float64) int64 {
	if mult == 1 {
		return n
	}
	scaled := int64(float64(n) * mult)
	if scaled < 1 {
		return 1
	}
	return scaled
}

// admissionKey 构造计数键: 前缀 + 规则 ID + 按 Scope 逐维度解析的段。
// 无任何维度可解析时退化为 IP，再退化为匿名桶。
func (l *Limiter) admissionKey(rule Rule, rc RequestContext) string {
	segs := make([]string, 0, len(rule.Scope)+1)
	for _, dim := range rule.Scope {
		if seg, ok := scopeSegment(dim, rc); ok {
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		if rc.IP != "" {
			segs = append(segs, "ip:"+rc.IP)
		} else {
			segs = append(segs, "anon")
		}
	}
	return l.opts.keyPrefix + rule.ID + ":" + strings.Join(segs, ":")
}

// scopeSegment 解析单个维度的键段，维度在请求上不可用时返回 false
func scopeSegment(dim ScopeDim, rc RequestContext) (string, bool) {
	switch dim {
	case ScopeUser:
		if rc.UserID != "" {
			return "user:" + rc.UserID, true
		}
	case ScopeIP:
		if rc.IP != "" {
			return "ip:" + rc.IP, true
		}
	case ScopeAPIKey:
		if rc.APIKey != "" {
			return "key:" + rc.APIKey, true
		}
	case ScopeTenant:
		if rc.TenantID != "" {
			return "tenant:" + rc.TenantID, true
		}
	case ScopeEndpoint:
		if rc.Method != "" || rc.Path != "" {
			return "ep:" + rc.Method + ":" + rc.Path, true
		}
	case ScopeGlobal:
		return "global", true
	}
	return "", false
}

// resolveFailure 处理算法层返回的错误。
// 仅存储不可用错误参与失败策略；其余错误原样上抛。
func (l *Limiter) resolveFailure(ctx context.Context, rc RequestContext, rule Rule,
	tierName, key string, limit int64, policy FailurePolicy, cause error, start time.Time,
) (*Decision, error) {
	if !xstore.IsUnavailable(cause) {
		return nil, cause
	}
	if policy == FailClosed {
		return nil, fmt.Errorf("xadmit: store unavailable (fail closed): %w", cause)
	}

	l.opts.logger.Warn("store unavailable, failing open",
		"rule", rule.ID, "key", key, "error", cause)

	// 降级放行：剩余量按满窗口乐观填充，ResetAt 缺席（响应头会跳过）
	d := &Decision{
		Result: xalgo.Result{
			Allowed:   true,
			Remaining: limit,
			Limit:     limit,
		},
		Limit:    limit,
		Key:      key,
		Rule:     rule.ID,
		Tier:     tierName,
		Degraded: true,
	}
	l.finish(ctx, rc, d, start)
	return d, nil
}

// finish 统一的决策收尾: 指标、日志与回调
func (l *Limiter) finish(ctx context.Context, rc RequestContext, d *Decision, start time.Time) {
	l.metrics.record(ctx, d, l.opts.clock().Sub(start))

	if d.Result.Allowed {
		l.opts.logger.Debug("admission allowed",
			"rule", d.Rule, "key", d.Key, "remaining", d.Result.Remaining,
			"bypassed", d.Bypassed, "degraded", d.Degraded)
		if l.opts.onAllow != nil {
			l.opts.onAllow(rc, d)
		}
		return
	}

	l.opts.logger.Warn("admission denied",
		"rule", d.Rule, "key", d.Key, "limit", d.Limit,
		"current", d.Result.Current, "retry_after", d.RetryAfter)
	if l.opts.onDeny != nil {
		l.opts.onDeny(rc, d)
	}
}

// ============================================================================
// 运行期变更
// ============================================================================

// AddRule 新增规则；ID 已存在时整体替换（位置不变）
func (l *Limiter) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	next := make([]Rule, 0, len(l.rules)+1)
	replaced := false
	for _, r := range l.rules {
		if r.ID == rule.ID {
			next = append(next, rule)
			replaced = true
			continue
		}
		next = append(next, r)
	}
	if !replaced {
		next = append(next, rule)
	}
	l.rules = next
	l.cache.purge()
	return nil
}

// RemoveRule 删除规则，不存在时返回 ErrUnknownRule
func (l *Limiter) RemoveRule(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	idx := slices.IndexFunc(l.rules, func(r Rule) bool { return r.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownRule, id)
	}

	next := make([]Rule, 0, len(l.rules)-1)
	next = append(next, l.rules[:idx]...)
	next = append(next, l.rules[idx+1:]...)
	l.rules = next
	l.cache.purge()
	return nil
}

// AddTier 注册层级；同名时整体替换
func (l *Limiter) AddTier(tier Tier) error {
	if err := tier.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	next := maps.Clone(l.tiers)
	next[tier.Name] = tier
	l.tiers = next
	return nil
}

// RemoveTier 删除层级，不存在时返回 ErrUnknownTier
func (l *Limiter) RemoveTier(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	if _, ok := l.tiers[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}

	next := maps.Clone(l.tiers)
	delete(next, name)
	l.tiers = next
	return nil
}

// Rules 返回当前规则的副本，按配置顺序
func (l *Limiter) Rules() []Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.rules)
}

// Tiers 返回当前层级定义的副本
func (l *Limiter) Tiers() map[string]Tier {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.tiers)
}

// Close 关闭编排器并释放匹配缓存，幂等。
// 注入的 Store 由调用方负责关闭。
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.cache.close()
	return nil
}

// buildIPSet 把裸 IP 与 CIDR 字符串合并为前缀集合
func buildIPSet(entries []string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidBypassIP, e)
			}
			b.AddPrefix(p)
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidBypassIP, e)
		}
		b.Add(a.Unmap())
	}
	return b.IPSet()
}
