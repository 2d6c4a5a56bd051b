// Package xbreaker 提供状态共享的分布式熔断器。
//
// 与单进程熔断器不同，熔断器状态（closed/open/half_open）在每次状态
// 迁移后持久化到注入的 Store，多副本按 SyncInterval 惰性重同步，
// 使所有副本在一个同步周期内收敛到一致的熔断决策。
//
// # 状态机
//
//	closed    --失败窗口内失败数达到 FailureThreshold--> open
//	open      --ResetTimeout 到期（惰性，下次调用时检查）--> half_open
//	half_open --连续 SuccessThreshold 次成功--> closed
//	half_open --任意一次失败--> open
//
// # 快速开始
//
//	b, _ := xbreaker.New("orders", store,
//	    xbreaker.WithFailureThreshold(5),
//	    xbreaker.WithResetTimeout(30*time.Second),
//	)
//
//	err := b.Do(ctx, func() error { return callDownstream() })
//	var oe *xbreaker.OpenError
//	if errors.As(err, &oe) {
//	    // 熔断打开，oe.Remaining 为距半开探测的剩余时间
//	}
//
//	// 带返回值的泛型版本
//	resp, err := xbreaker.Execute(ctx, b, func() (*Response, error) {
//	    return client.Query(ctx)
//	})
//
// # 一致性说明
//
// 本地缓存与 Store 之间存在至多 SyncInterval 的陈旧窗口，这是为减少
// 存储往返的刻意取舍；需要更强的一致性就调低 SyncInterval（0 表示每次
// 调用都重同步）。Store 故障时熔断器降级为纯本地状态机并记 Warn 日志，
// 绝不因存储不可用阻断调用。
package xbreaker
