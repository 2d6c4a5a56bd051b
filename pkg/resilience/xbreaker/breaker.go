package xbreaker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// =============================================================================
// 状态与快照
// =============================================================================

// State 是熔断器状态。
type State string

const (
	// StateClosed 关闭状态（正常），请求通过，失败被统计。
	StateClosed State = "closed"

	// StateOpen 打开状态（熔断），请求直接拒绝。
	StateOpen State = "open"

	// StateHalfOpen 半开状态（探测），放行请求以检测下游是否恢复。
	StateHalfOpen State = "half_open"
)

func (s State) String() string { return string(s) }

// 持久化参数。
const (
	// 状态快照的存储 TTL：空闲一天后自然回收。
	stateTTL = 24 * time.Hour

	// 持久化/加锁的独立超时，不随调用方 ctx 取消。
	persistTimeout = 3 * time.Second
	persistLockTTL = 2 * time.Second
)

// snapshot 是持久化到 Store 的共享状态，时间戳为 Unix 毫秒。
type snapshot struct {
	State        State `json:"state"`
	Failures     int64 `json:"failures"`
	Successes    int64 `json:"successes"`
	FirstFailure int64 `json:"first_failure_ms,omitempty"`
	LastFailure  int64 `json:"last_failure_ms,omitempty"`
	LastChange   int64 `json:"last_change_ms,omitempty"`
}

// Counts 是熔断器的本地计数快照。
type Counts struct {
	// State 当前状态。
	State State

	// Failures 当前失败窗口内累计的失败数（closed 状态下有效）。
	Failures int64

	// Successes 半开状态下的连续成功数。
	Successes int64

	// LastFailure 最近一次失败时刻，从未失败时为零值。
	LastFailure time.Time

	// LastChange 最近一次状态迁移时刻。
	LastChange time.Time
}

// transition 记录一次状态迁移。
type transition struct {
	from, to State
}

// =============================================================================
// Breaker
// =============================================================================

// Breaker 是一个命名熔断器。
//
// 同名 Breaker 跨副本共享同一份状态（Store key 为 prefix+name），
// 本地缓存最多陈旧 SyncInterval。所有方法并发安全。
type Breaker struct {
	name   string
	store  xstore.Store
	opts   *options
	tracer breakerTracer

	mu       sync.Mutex
	local    snapshot
	syncedAt time.Time

	sf singleflight.Group
}

// New 创建熔断器。name 作为共享状态 key 的一部分，同名即同一熔断器。
func New(name string, store xstore.Store, opts ...Option) (*Breaker, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if store == nil {
		return nil, ErrNilStore
	}
	cfg := newOptions(opts)
	return &Breaker{
		name:   name,
		store:  store,
		opts:   cfg,
		tracer: newBreakerTracer(cfg.tracerProvider),
		local:  snapshot{State: StateClosed},
	}, nil
}

// Name 返回熔断器名称。
func (b *Breaker) Name() string { return b.name }

// Do 执行受熔断保护的操作。
//
// 打开状态且未到重置时间时不执行 fn，返回 *OpenError；配置了 Fallback
// 时改为返回 Fallback 的结果。其余状态执行 fn，并按 IsFailure 判定
// 结果驱动状态机。fn 的错误原样返回。
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		return ErrNilContext
	}
	if fn == nil {
		return ErrNilFunc
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := b.tracer.start(ctx, spanNameDo, b.name, b.CurrentState())
	defer span.End()

	if err := b.admit(ctx); err != nil {
		setSpanError(span, err)
		if b.opts.fallback != nil {
			return b.opts.fallback(ctx, err)
		}
		return err
	}

	err := fn()
	b.record(ctx, err)
	setSpanError(span, err)
	return err
}

// Execute 执行带返回值的受保护操作。
//
// 状态机语义与 Do 完全相同。Go 不支持方法的类型参数，故为包级函数。
// 熔断拒绝且配置了 Fallback 时，返回零值与 Fallback 的结果。
func Execute[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if b == nil {
		return zero, ErrNilBreaker
	}
	if ctx == nil {
		return zero, ErrNilContext
	}
	if fn == nil {
		return zero, ErrNilFunc
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	ctx, span := b.tracer.start(ctx, spanNameExecute, b.name, b.CurrentState())
	defer span.End()

	if err := b.admit(ctx); err != nil {
		setSpanError(span, err)
		if b.opts.fallback != nil {
			return zero, b.opts.fallback(ctx, err)
		}
		return zero, err
	}

	val, err := fn()
	b.record(ctx, err)
	if err != nil {
		setSpanError(span, err)
		return zero, err
	}
	return val, nil
}

// CurrentState 返回本地视角的当前状态，不触发存储往返。
// open → half_open 的迁移是惰性的，只在下一次 Do/Execute 时发生。
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.local.State
}

// Counts 返回本地计数快照。
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{
		State:       b.local.State,
		Failures:    b.local.Failures,
		Successes:   b.local.Successes,
		LastFailure: msToTime(b.local.LastFailure),
		LastChange:  msToTime(b.local.LastChange),
	}
}

// Reset 人工复位：强制回到 closed 并同步持久化。
// 与自动迁移的尽力而为不同，复位是运维操作，持久化失败会报告给调用方。
func (b *Breaker) Reset(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}

	b.mu.Lock()
	trans := b.transitionLocked(StateClosed, b.opts.clock())
	snap := b.local
	b.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := b.store.Set(ctx, b.key(), string(data), stateTTL); err != nil {
		return err
	}
	b.notifyTransition(trans)
	return nil
}

// Refresh 立即从 Store 拉取共享状态，绕过 SyncInterval 节流。
// 调用路径靠 Do 的惰性重同步已经够用；Refresh 面向巡检场景，
// 新建实例想看远端视图时先调它再读 CurrentState/Counts。
func (b *Breaker) Refresh(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	_, err, _ := b.sf.Do("resync", func() (any, error) {
		return nil, b.resync(ctx)
	})
	return err
}

// =============================================================================
// 状态机
// =============================================================================

// admit 判定本次调用能否通过。打开且未到重置时间时返回 *OpenError，
// 重置时间已到则惰性转入半开并放行。
func (b *Breaker) admit(ctx context.Context) error {
	b.maybeResync(ctx)

	b.mu.Lock()
	if b.local.State != StateOpen {
		b.mu.Unlock()
		return nil
	}

	now := b.opts.clock()
	elapsed := now.Sub(msToTime(b.local.LastChange))
	if remaining := b.opts.resetTimeout - elapsed; remaining > 0 {
		b.mu.Unlock()
		return &OpenError{Name: b.name, Remaining: remaining}
	}

	trans := b.transitionLocked(StateHalfOpen, now)
	snap := b.local
	b.mu.Unlock()

	b.afterTransition(ctx, trans, snap)
	return nil
}

// record 按 IsFailure 判定结果并驱动状态机。
func (b *Breaker) record(ctx context.Context, err error) {
	failed := b.opts.isFailure(err)

	b.mu.Lock()
	now := b.opts.clock()
	var trans *transition
	if failed {
		trans = b.onFailureLocked(now)
	} else {
		trans = b.onSuccessLocked(now)
	}
	snap := b.local
	b.mu.Unlock()

	if trans != nil {
		b.afterTransition(ctx, *trans, snap)
	}
}

func (b *Breaker) onFailureLocked(now time.Time) *transition {
	switch b.local.State {
	case StateClosed:
		// 失败按时间窗口累计：首次失败超窗则重新起算。
		// closed 状态下的成功不清零计数，只有窗口能清。
		if b.local.Failures > 0 && now.Sub(msToTime(b.local.FirstFailure)) > b.opts.failureWindow {
			b.local.Failures = 0
		}
		if b.local.Failures == 0 {
			b.local.FirstFailure = now.UnixMilli()
		}
		b.local.Failures++
		b.local.LastFailure = now.UnixMilli()
		if b.local.Failures >= b.opts.failureThreshold {
			t := b.transitionLocked(StateOpen, now)
			return &t
		}
	case StateHalfOpen:
		// 探测失败，立即回到打开
		b.local.LastFailure = now.UnixMilli()
		t := b.transitionLocked(StateOpen, now)
		return &t
	case StateOpen:
		// 打开期间收到迟到的执行结果，仅记录时间
		b.local.LastFailure = now.UnixMilli()
	}
	return nil
}

func (b *Breaker) onSuccessLocked(now time.Time) *transition {
	if b.local.State != StateHalfOpen {
		return nil
	}
	b.local.Successes++
	if b.local.Successes >= b.opts.successThreshold {
		t := b.transitionLocked(StateClosed, now)
		return &t
	}
	return nil
}

// transitionLocked 执行状态迁移并重置相应计数，调用方持有 b.mu。
func (b *Breaker) transitionLocked(to State, now time.Time) transition {
	from := b.local.State
	b.local.State = to
	b.local.LastChange = now.UnixMilli()
	switch to {
	case StateClosed:
		b.local.Failures = 0
		b.local.Successes = 0
		b.local.FirstFailure = 0
	case StateHalfOpen:
		b.local.Successes = 0
	}
	return transition{from: from, to: to}
}

// afterTransition 广播一次状态迁移：持久化、记日志、触发回调。
func (b *Breaker) afterTransition(ctx context.Context, trans transition, snap snapshot) {
	b.persist(ctx, snap)
	b.opts.logger.Info("breaker state changed",
		slog.String("breaker", b.name),
		slog.String("from", string(trans.from)),
		slog.String("to", string(trans.to)),
	)
	if b.opts.onStateChange != nil {
		b.opts.onStateChange(b.name, trans.from, trans.to)
	}
}

func (b *Breaker) notifyTransition(trans transition) {
	if trans.from == trans.to {
		return
	}
	b.opts.logger.Info("breaker state changed",
		slog.String("breaker", b.name),
		slog.String("from", string(trans.from)),
		slog.String("to", string(trans.to)),
	)
	if b.opts.onStateChange != nil {
		b.opts.onStateChange(b.name, trans.from, trans.to)
	}
}

// =============================================================================
// 共享状态同步
// =============================================================================

// maybeResync 按 SyncInterval 从 Store 重同步共享状态，
// 并发到期的调用经 singleflight 合并为一次读取。
func (b *Breaker) maybeResync(ctx context.Context) {
	b.mu.Lock()
	due := b.opts.clock().Sub(b.syncedAt) >= b.opts.syncInterval
	b.mu.Unlock()
	if !due {
		return
	}

	_, _, _ = b.sf.Do("resync", func() (any, error) {
		return nil, b.resync(ctx)
	})
}

// resync 读取 Store 中的共享状态，比本地更新（LastChange 更大）时采纳。
// 本地计数可能领先于远端快照，绝不用旧快照回退本地状态。
// 键不存在说明从未持久化，不算错误。
func (b *Breaker) resync(ctx context.Context) error {
	val, err := b.store.Get(ctx, b.key())

	b.mu.Lock()
	// 失败也推进 syncedAt，避免存储故障时每次调用都打一次存储
	b.syncedAt = b.opts.clock()
	b.mu.Unlock()

	if err != nil {
		if errors.Is(err, xstore.ErrKeyNotFound) {
			return nil
		}
		b.opts.logger.Warn("breaker state resync failed",
			slog.String("breaker", b.name),
			slog.Any("error", err),
		)
		return err
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		b.opts.logger.Warn("breaker state corrupted in store",
			slog.String("breaker", b.name),
			slog.Any("error", err),
		)
		return err
	}

	b.mu.Lock()
	var trans *transition
	if snap.LastChange > b.local.LastChange {
		if snap.State != b.local.State {
			trans = &transition{from: b.local.State, to: snap.State}
		}
		b.local = snap
	}
	b.mu.Unlock()

	if trans != nil {
		b.opts.logger.Info("breaker state adopted from store",
			slog.String("breaker", b.name),
			slog.String("from", string(trans.from)),
			slog.String("to", string(trans.to)),
		)
		if b.opts.onStateChange != nil {
			b.opts.onStateChange(b.name, trans.from, trans.to)
		}
	}
	return nil
}

// persist 将状态快照写入 Store。持久化是尽力而为的广播：失败只降级为
// 本地状态并记 Warn，不影响调用结果。
func (b *Breaker) persist(ctx context.Context, snap snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		b.opts.logger.Warn("breaker state marshal failed",
			slog.String("breaker", b.name),
			slog.Any("error", err),
		)
		return
	}

	// 不随调用方 ctx 取消：状态广播不应因业务调用结束而丢失
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if lk, ok := b.store.(xstore.Locker); ok {
		if unlocker, lockErr := lk.Lock(pctx, b.key()+":lock", persistLockTTL); lockErr == nil {
			defer func() { _ = unlocker.Unlock(pctx) }()
		}
		// 拿不到锁时直接写：快照携带 LastChange，last-writer-wins 足够
	}

	if err := b.store.Set(pctx, b.key(), string(data), stateTTL); err != nil {
		b.opts.logger.Warn("breaker state persist failed",
			slog.String("breaker", b.name),
			slog.Any("error", err),
		)
	}
}

func (b *Breaker) key() string {
	return b.opts.keyPrefix + b.name
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
