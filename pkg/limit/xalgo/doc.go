// Package xalgo 提供五种可互换的限流算法。
//
// 所有算法实现同一个 Algorithm 接口，自身无状态——key 的全部计数
// 状态都存放在注入的 xstore.Store 中，多副本指向同一个分布式
// Store 时天然共享限额。
//
// # 算法选择
//
//   - sliding_window: 滑动窗口精确计数，平滑窗口边界突刺，
//     状态量与窗口内请求数成正比。默认选择。
//   - token_bucket: 令牌桶，允许容量内突发，状态 O(1)。
//   - fixed_window: 固定窗口计数，实现最简单，窗口边界处
//     最多放行 2 倍限额（接受的取舍）。
//   - leaky_bucket: 漏桶，强制平滑出流速率。
//   - adaptive: 滑动窗口 + 负载自适应，依据调用方上报的
//     ServerLoad/ErrorRate/AvgResponseTime 在 [0.1, 3.0] 区间内
//     调节有效限额倍率。
//
// # 快速开始
//
//	store, _ := xstore.NewMemory()
//	algo, err := xalgo.New(xalgo.NameTokenBucket, store)
//	if err != nil {
//	    return err
//	}
//
//	res, err := algo.Consume(ctx, "user:42", 1, 100, time.Minute, xalgo.Options{})
//	if err != nil {
//	    return err
//	}
//	if !res.Allowed {
//	    // 拒绝，res.ResetAt 为建议的重试时间
//	}
//
// # Check 与 Consume
//
// Check 是只读预览：回答"现在一个 cost=1 的请求能否通过"，不改变
// 任何状态。Consume 是实际扣减。滑动窗口族的 Consume 在拒绝时
// 仍会记录本次请求（计数反映真实请求压力），令牌桶/漏桶拒绝时
// 不扣减。
package xalgo
