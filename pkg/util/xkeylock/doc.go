// Package xkeylock 提供进程内按 key 互斥的锁。
//
// 与单个 sync.Mutex 不同，不同 key 之间互不阻塞；与 map[string]*sync.Mutex
// 不同，条目在最后一个引用者离开后自动回收，长期运行不会泄漏。
//
// # 实现
//
// key 经 xxhash 映射到固定数量的分片，分片内用 size=1 的 channel
// 作互斥量：发送成功即持锁，接收即放锁。channel 语义天然支持
// context 取消与关闭广播。
//
// # 使用
//
//	locks, _ := xkeylock.New()
//	defer locks.Close()
//
//	h, err := locks.Acquire(ctx, "tenant:42")
//	if err != nil {
//	    return err
//	}
//	defer h.Unlock()
//
// 锁是非可重入的，同一 goroutine 对同一 key 重复 Acquire 会死锁，
// 建议始终使用带 deadline 的 context。
package xkeylock
