package xquota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// 周期结束后计数器再保留一段时间，便于事后排查用量。
const counterTTLSlack = time.Hour

// =============================================================================
// 定义与结果类型
// =============================================================================

// Definition 定义一个命名配额各周期的消费上限。
// 零值字段表示该周期不设上限（不跟踪）。
type Definition struct {
	// Daily/Weekly/Monthly 各日历周期的上限，0 表示该周期不限。
	Daily   int64 `json:"daily,omitempty"`
	Weekly  int64 `json:"weekly,omitempty"`
	Monthly int64 `json:"monthly,omitempty"`

	// BurstAllowance/CarryOver/MaxCarryOver 为声明保留字段：
	// 配置层可以携带并通过校验，但本核心当前不消费它们。
	BurstAllowance int64 `json:"burst_allowance,omitempty"`
	CarryOver      int64 `json:"carry_over,omitempty"`
	MaxCarryOver   int64 `json:"max_carry_over,omitempty"`
}

// Validate 校验定义的合法性。
func (d Definition) Validate() error {
	if d.Daily < 0 || d.Weekly < 0 || d.Monthly < 0 ||
		d.BurstAllowance < 0 || d.CarryOver < 0 || d.MaxCarryOver < 0 {
		return fmt.Errorf("%w: negative field", ErrInvalidDefinition)
	}
	if d.Daily == 0 && d.Weekly == 0 && d.Monthly == 0 {
		return fmt.Errorf("%w: no period ceiling", ErrInvalidDefinition)
	}
	return nil
}

// PeriodUsage 是单个周期的用量快照。
type PeriodUsage struct {
	// Used 本周期已消费量。Consume 总是计数，因此可能超过 Limit。
	Used int64

	// Limit 本周期上限。
	Limit int64

	// Remaining 剩余额度，永不为负。
	Remaining int64

	// Reset 本周期的重置时刻（UTC）。
	Reset time.Time
}

// Usage 是一次配额评估的结果。
type Usage struct {
	// Allowed 为 true 当且仅当没有任何周期超限。
	Allowed bool

	// Periods 各配置周期的用量明细。
	Periods map[Period]PeriodUsage

	// ExceededPeriods 超限的周期，按 daily、weekly、monthly 顺序排列。
	ExceededPeriods []Period
}

// buildUsage 按周期用量组装评估结果。used 与 ws 按下标对应，
// cost 为本次评估的消费量：remaining < cost 即判定该周期超限。
func buildUsage(ws []periodWindow, used []int64, cost int64) *Usage {
	u := &Usage{Allowed: true, Periods: make(map[Period]PeriodUsage, len(ws))}
	for i, w := range ws {
		remaining := w.limit - used[i]
		if remaining < 0 {
			remaining = 0
		}
		u.Periods[w.period] = PeriodUsage{
			Used:      used[i],
			Limit:     w.limit,
			Remaining: remaining,
			Reset:     w.reset,
		}
		if remaining < cost {
			u.Allowed = false
			u.ExceededPeriods = append(u.ExceededPeriods, w.period)
		}
	}
	return u
}

// =============================================================================
// 配额管理器
// =============================================================================

// Manager 按实体跟踪多周期配额消费。
// 所有计数状态存放在注入的 Store 中，Manager 自身可多副本部署。
type Manager struct {
	store xstore.Store
	opts  *options

	mu   sync.RWMutex
	defs map[string]Definition
}

// New 创建配额管理器。Store 的生命周期由调用方管理。
func New(store xstore.Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	return &Manager{
		store: store,
		opts:  newOptions(opts),
		defs:  make(map[string]Definition),
	}, nil
}

// SetDefinition 注册或覆盖一个命名配额的定义，立即生效。
func (m *Manager) SetDefinition(name string, def Definition) error {
	if name == "" {
		return fmt.Errorf("%w: empty quota name", ErrInvalidArgument)
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("quota %q: %w", name, err)
	}
	m.mu.Lock()
	m.defs[name] = def
	m.mu.Unlock()
	return nil
}

// RemoveDefinition 移除一个命名配额的定义。已有计数器由 TTL 回收。
func (m *Manager) RemoveDefinition(name string) {
	m.mu.Lock()
	delete(m.defs, name)
	m.mu.Unlock()
}

// Definitions 返回当前全部配额定义的副本。
func (m *Manager) Definitions() map[string]Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Definition, len(m.defs))
	for name, def := range m.defs {
		out[name] = def
	}
	return out
}

func (m *Manager) definition(name string) (Definition, error) {
	m.mu.RLock()
	def, ok := m.defs[name]
	m.mu.RUnlock()
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownQuota, name)
	}
	return def, nil
}

// =============================================================================
// 核心操作
// =============================================================================

// Check 只读评估：cost 个消费量在当前各周期下能否通过。
// 不改变任何计数。
func (m *Manager) Check(ctx context.Context, entityKey, quotaName string, cost int64) (*Usage, error) {
	if err := validateArgs(entityKey, quotaName, cost); err != nil {
		return nil, err
	}
	def, err := m.definition(quotaName)
	if err != nil {
		return nil, err
	}

	now := m.opts.clock().UTC()
	ws := activeWindows(def, now)
	used := make([]int64, len(ws))
	for i, w := range ws {
		n, err := m.loadCounter(ctx, m.counterKey(entityKey, quotaName, w.seg))
		if err != nil {
			return nil, err
		}
		used[i] = n
	}
	return buildUsage(ws, used, cost), nil
}

// Consume 消费 cost 个配额并返回消费后的状态评估。
//
// 即使某个周期已经超限也照常计数——用量统计必须反映真实消费，
// 是否放行由调用方先 Check 决定。各周期计数器并发递增，
// 返回值等价于消费后立刻 Check。
func (m *Manager) Consume(ctx context.Context, entityKey, quotaName string, cost int64) (*Usage, error) {
	if err := validateArgs(entityKey, quotaName, cost); err != nil {
		return nil, err
	}
	def, err := m.definition(quotaName)
	if err != nil {
		return nil, err
	}

	now := m.opts.clock().UTC()
	ws := activeWindows(def, now)
	used := make([]int64, len(ws))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range ws {
		g.Go(func() error {
			ttl := w.reset.Sub(now) + counterTTLSlack
			n, err := m.store.Increment(gctx, m.counterKey(entityKey, quotaName, w.seg), cost, ttl)
			if err != nil {
				return err
			}
			used[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	usage := buildUsage(ws, used, cost)
	if !usage.Allowed {
		m.opts.logger.Debug("quota exceeded",
			slog.String("entity", entityKey),
			slog.String("quota", quotaName),
			slog.Any("periods", usage.ExceededPeriods),
		)
	}
	return usage, nil
}

// ResetUsage 清零指定周期的计数器；不传周期时清零该配额配置的全部周期。
func (m *Manager) ResetUsage(ctx context.Context, entityKey, quotaName string, periods ...Period) error {
	if err := validateArgs(entityKey, quotaName, 1); err != nil {
		return err
	}
	def, err := m.definition(quotaName)
	if err != nil {
		return err
	}

	now := m.opts.clock().UTC()
	if len(periods) == 0 {
		for _, w := range activeWindows(def, now) {
			periods = append(periods, w.period)
		}
	}
	for _, p := range periods {
		if !p.valid() {
			return fmt.Errorf("%w: unknown period %q", ErrInvalidArgument, p)
		}
	}

	for _, p := range periods {
		if err := m.store.Delete(ctx, m.counterKey(entityKey, quotaName, p.seg(now))); err != nil {
			return err
		}
	}
	m.opts.logger.Debug("quota usage reset",
		slog.String("entity", entityKey),
		slog.String("quota", quotaName),
		slog.Any("periods", periods),
	)
	return nil
}

// AddBonus 在独立的 bonus 计数器上累加 n 并返回累计值。
// bonus 不会自动并入 Remaining，由上层按需读取折算。
func (m *Manager) AddBonus(ctx context.Context, entityKey, quotaName string, n int64) (int64, error) {
	if err := validateArgs(entityKey, quotaName, n); err != nil {
		return 0, err
	}
	if _, err := m.definition(quotaName); err != nil {
		return 0, err
	}
	return m.store.Increment(ctx, m.bonusKey(entityKey, quotaName), n, 0)
}

// Bonus 读取 bonus 累计值，未发放过返回 0。
func (m *Manager) Bonus(ctx context.Context, entityKey, quotaName string) (int64, error) {
	if err := validateArgs(entityKey, quotaName, 1); err != nil {
		return 0, err
	}
	if _, err := m.definition(quotaName); err != nil {
		return 0, err
	}
	return m.loadCounter(ctx, m.bonusKey(entityKey, quotaName))
}

// =============================================================================
// 内部辅助
// =============================================================================

func (m *Manager) loadCounter(ctx context.Context, key string) (int64, error) {
	val, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, xstore.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("xquota: counter %q holds %q: %w", key, val, xstore.ErrWrongKind)
	}
	return n, nil
}

func (m *Manager) counterKey(entityKey, quotaName, seg string) string {
	return m.opts.keyPrefix + entityKey + ":" + quotaName + ":" + seg
}

func (m *Manager) bonusKey(entityKey, quotaName string) string {
	return m.opts.keyPrefix + entityKey + ":" + quotaName + ":bonus"
}

func validateArgs(entityKey, quotaName string, cost int64) error {
	if entityKey == "" || quotaName == "" || cost < 1 {
		return ErrInvalidArgument
	}
	return nil
}
