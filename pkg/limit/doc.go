// Package limit 提供限流相关的子包。
//
// 子包列表：
//   - xalgo: 限流算法策略（固定窗口、滑动窗口、令牌桶、漏桶、自适应），
//     全部状态存放在共享 Store 中
//   - xadmit: 规则驱动的准入编排器，负责规则匹配、层级倍率、
//     旁路与降级策略，并产出可直接写入响应头的决策
//
// 设计原则：
//   - 算法与存储后端解耦，同一套规则可运行在内存、Redis、etcd 之上
//   - 跨进程一致性由 Store 的原子原语保证，进程内不持有全局锁
//   - 存储故障按 fail-open/fail-closed 策略降级，不阻塞业务路径
package limit
