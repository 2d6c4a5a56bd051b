// Package util 提供通用工具相关的子包。
//
// 子包列表：
//   - xid: 可排序唯一 ID 生成，基于 sonyflake
//   - xkeylock: 基于 key 的进程内互斥锁，支持 context 超时和非阻塞获取
//   - xlru: LRU 缓存，泛型支持、自动 TTL 过期
package util
