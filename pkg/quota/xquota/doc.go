// Package xquota 提供日历对齐的多周期配额管理。
//
// 与滑动窗口限流不同，配额按自然日历周期（每日/每周/每月，均为 UTC
// 对齐）设置消费上限，适合"本月调用量"这类粗粒度额度控制。各周期
// 独立计数，任一周期超限即判定拒绝。
//
// # 快速开始
//
//	store, _ := xstore.NewMemory()
//	qm, _ := xquota.New(store)
//	_ = qm.SetDefinition("api_calls", xquota.Definition{Daily: 1000, Monthly: 20000})
//
//	usage, err := qm.Check(ctx, "user:42", "api_calls", 1)
//	if err != nil {
//	    // 存储故障等
//	}
//	if !usage.Allowed {
//	    // usage.ExceededPeriods 列出超限的周期
//	}
//	_, _ = qm.Consume(ctx, "user:42", "api_calls", 1)
//
// # 语义要点
//
//   - Check 只读；Consume 总是计数（即使已超限），保证用量统计真实。
//     Consume 返回消费后的状态，等价于消费后立刻 Check。
//   - 计数器 key 内嵌周期起点（如 d:2026-08-21），周期切换时 key 自然
//     轮转，旧计数器由 TTL 回收，无需显式清零。
//   - BurstAllowance/CarryOver/MaxCarryOver 为声明保留字段，当前不参与
//     计算，详见 Definition。
package xquota
