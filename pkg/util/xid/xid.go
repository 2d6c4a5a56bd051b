package xid

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sony/sonyflake/v2"
)

var (
	// ErrInvalidConfig 配置参数无效，或 sonyflake 初始化失败（如机器 ID 校验不通过）。
	ErrInvalidConfig = errors.New("xid: invalid config")

	// ErrClockBackwardTimeout 时钟回拨等待超时。
	ErrClockBackwardTimeout = errors.New("xid: clock backward wait timeout")

	// ErrOverTimeLimit 时间分量溢出，生成器无法继续生成 ID。不可恢复。
	ErrOverTimeLimit = errors.New("xid: time component overflow")

	// ErrNilContext context 参数为 nil。
	ErrNilContext = errors.New("xid: context cannot be nil")

	// ErrNilGenerator 生成器为 nil 或未通过 NewGenerator 创建。
	ErrNilGenerator = errors.New("xid: nil generator (use NewGenerator)")

	// ErrInvalidID Parse 收到无法解析或非正值的输入。
	ErrInvalidID = errors.New("xid: invalid id")

	// ErrNoPrivateAddress 所有机器 ID 策略耗尽且找不到私有 IPv4 地址。
	ErrNoPrivateAddress = errors.New("xid: no private IP address found")
)

// 时钟回拨重试参数。sonyflake 时间精度 10ms，NTP 回拨通常在几百毫秒内。
const (
	DefaultMaxWaitDuration = 500 * time.Millisecond
	DefaultRetryInterval   = 10 * time.Millisecond
)

// =============================================================================
// Generator
// =============================================================================

// Generator 分布式唯一 ID 生成器，所有方法并发安全。
type Generator struct {
	maxWait       time.Duration
	retryInterval time.Duration

	// nextID 默认为 sonyflake 实例的 NextID，测试中可替换。
	nextID func() (int64, error)
}

// NewGenerator 创建独立的 ID 生成器。
// 不传 WithMachineID 时按 DefaultMachineID 的策略链推导机器 ID。
func NewGenerator(opts ...Option) (*Generator, error) {
	cfg := newOptions(opts)

	machineID := cfg.machineID
	if machineID == nil {
		machineID = DefaultMachineID
	}
	settings := sonyflake.Settings{
		MachineID: func() (int, error) {
			id, err := machineID()
			return int(id), err
		},
	}
	if cfg.checkMachineID != nil {
		settings.CheckMachineID = func(id int) bool {
			return cfg.checkMachineID(uint16(id))
		}
	}

	sf, err := sonyflake.New(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &Generator{
		maxWait:       cfg.maxWait,
		retryInterval: cfg.retryInterval,
		nextID:        sf.NextID,
	}, nil
}

func (g *Generator) validate() error {
	if g == nil || g.nextID == nil {
		return ErrNilGenerator
	}
	return nil
}

// New 生成新的唯一 ID。时间分量溢出时返回 ErrOverTimeLimit（不可恢复）。
func (g *Generator) New() (int64, error) {
	if err := g.validate(); err != nil {
		return 0, err
	}
	id, err := g.nextID()
	if err != nil {
		if errors.Is(err, sonyflake.ErrOverTimeLimit) {
			return 0, fmt.Errorf("%w: %w", ErrOverTimeLimit, err)
		}
		return 0, err
	}
	return id, nil
}

// NewWithRetry 生成新的唯一 ID，遇到可重试错误（时钟回拨）时等待重试。
//
// 等待支持 ctx 取消；累计等待超过 MaxWaitDuration 仍失败时返回
// ErrClockBackwardTimeout。ErrOverTimeLimit 不可恢复，立即返回。
func (g *Generator) NewWithRetry(ctx context.Context) (int64, error) {
	if err := g.validate(); err != nil {
		return 0, err
	}
	if ctx == nil {
		return 0, ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// 快速路径：首次成功则不分配 timer
	id, err := g.nextID()
	if err == nil {
		return id, nil
	}
	if errors.Is(err, sonyflake.ErrOverTimeLimit) {
		return 0, fmt.Errorf("%w: %w", ErrOverTimeLimit, err)
	}

	deadline := time.Now().Add(g.maxWait)
	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	lastErr := err
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("%w: %w", ErrClockBackwardTimeout, lastErr)
		}

		timer.Reset(min(g.retryInterval, remaining))
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}

		id, err := g.nextID()
		if err == nil {
			return id, nil
		}
		if errors.Is(err, sonyflake.ErrOverTimeLimit) {
			return 0, fmt.Errorf("%w: %w", ErrOverTimeLimit, err)
		}
		lastErr = err
	}
}

// NewString 生成 base36 编码的字符串 ID（12-13 字符）。
func (g *Generator) NewString() (string, error) {
	id, err := g.New()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 36), nil
}

// NewStringWithRetry 生成 base36 字符串 ID，时钟回拨时等待重试。详见 NewWithRetry。
func (g *Generator) NewStringWithRetry(ctx context.Context) (string, error) {
	id, err := g.NewWithRetry(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 36), nil
}

// =============================================================================
// 包级默认生成器
// =============================================================================

var (
	defaultOnce sync.Once
	defaultGen  *Generator
	defaultErr  error
)

// defaultGenerator 惰性构建默认生成器。构建失败的错误是粘性的：
// 机器 ID 推导失败对进程生命周期而言基本是永久性的（环境变量、
// 主机名、网卡不会中途出现），需要重试语义的调用方应持有自己的
// NewGenerator 实例。
func defaultGenerator() (*Generator, error) {
	defaultOnce.Do(func() {
		defaultGen, defaultErr = NewGenerator()
	})
	return defaultGen, defaultErr
}

// New 使用默认生成器生成 int64 ID。
func New() (int64, error) {
	gen, err := defaultGenerator()
	if err != nil {
		return 0, err
	}
	return gen.New()
}

// NewString 使用默认生成器生成 base36 字符串 ID。
func NewString() (string, error) {
	gen, err := defaultGenerator()
	if err != nil {
		return "", err
	}
	return gen.NewString()
}

// NewWithRetry 使用默认生成器生成 int64 ID，时钟回拨时等待重试。
func NewWithRetry(ctx context.Context) (int64, error) {
	gen, err := defaultGenerator()
	if err != nil {
		return 0, err
	}
	return gen.NewWithRetry(ctx)
}

// NewStringWithRetry 使用默认生成器生成 base36 字符串 ID，时钟回拨时等待重试。
// 这是生产环境推荐的入口。
func NewStringWithRetry(ctx context.Context) (string, error) {
	gen, err := defaultGenerator()
	if err != nil {
		return "", err
	}
	return gen.NewStringWithRetry(ctx)
}

// Parse 解析 NewString 生成的 base36 字符串 ID。
// 语法错误、溢出、非正值均返回 ErrInvalidID。
func Parse(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 36, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: value must be positive, got %d", ErrInvalidID, id)
	}
	return id, nil
}
