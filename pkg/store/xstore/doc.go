// Package xstore 提供准入控制组件共享的状态存储抽象。
//
// # 设计理念
//
// 限流、熔断、配额等组件的全部状态都保存在 Store 中，组件自身无状态。
// 多副本部署时只要指向同一个分布式后端（Redis/etcd），
// 各副本就自动共享计数、窗口与熔断状态；单机或测试场景使用内存后端，
// 语义与分布式后端完全一致。
//
// # 核心契约
//
//   - 读-改-写操作（Increment、SlidingWindowAdd、TokenBucketConsume、
//     LeakyBucketConsume）对并发调用方是单个原子步骤
//   - 桶状态按流逝时间惰性计算，没有后台补充定时器
//   - cost = 0 的桶消费是只读探测，不修改任何状态
//   - ConsumeResult.Remaining 永不为负
//
// # 后端实现
//
//   - NewMemory: 互斥锁保护的进程内存储，带周期性过期清扫
//   - NewRedis: go-redis/v9 后端，读-改-写全部走服务端 Lua 脚本；
//     滑动窗口使用 ZSET，桶状态使用 HASH
//   - NewEtcd: etcd clientv3 后端，读-改-写走 STM 事务，TTL 走 Lease
//
// # 快速开始
//
//	store, err := xstore.NewRedis(rdb)
//	if err != nil {
//	    return err
//	}
//	defer store.Close(context.Background())
//
//	count, err := store.SlidingWindowAdd(ctx, "rl:user:42", time.Now(), time.Minute, 1)
//
// # 时间与精度
//
// 窗口与桶操作的时间由调用方传入，存储端不读取自身时钟，
// 因此跨副本行为以调用方（NTP 同步的应用节点）时钟为准。
// 时间戳在存储层统一用 Unix 毫秒表示：毫秒精度对准入控制足够，
// 且落在 float64（Redis ZSET score）的精确整数范围内。
//
// # 失败语义
//
// 基础设施错误（网络、集群故障）统一包装 [ErrUnavailable]，
// 调用方通过 [IsUnavailable] 判定并执行自身的失败策略（放行或拒绝）。
// Redis 后端的纯读操作（Get、SlidingWindowCount）会对瞬时网络错误
// 做有限次重试；写路径不重试，避免不可见的重复扣减。
//
// # 可选能力
//
// 后端可以额外实现 [Locker]（跨进程命名互斥锁）。
// 调用方通过类型断言发现该能力，不得假定其存在。
package xstore
