package xstore

import (
	"math"
	"sort"
	"time"
)

// keyTTLMargin 窗口/桶 key 过期时间的安全余量，
// 防止边界时刻的读操作落在 key 刚被回收之后。
const keyTTLMargin = time.Second

// =============================================================================
// 桶状态转移（内存与 etcd 后端共用；Redis 后端在 Lua 中实现同一公式）
// =============================================================================

// bucketState 是令牌桶/漏桶的持久化状态。
// Level 对令牌桶表示剩余令牌数，对漏桶表示当前水位。
type bucketState struct {
	Level float64 `json:"level"`
	TS    int64   `json:"ts"` // 最后更新时间，Unix 毫秒
}

// tokenBucketStep 计算一次令牌桶消费后的新状态与结果。
//
// 纯函数：补充量 = 流逝毫秒 / 1000 × rate，上限 capacity。
// nowMS 早于状态时间时不补充也不回拨（容忍调用方之间的时钟偏差）。
// cost = 0 时结果为只读探测，调用方不应持久化返回的状态。
func tokenBucketStep(st bucketState, capacity int64, rate float64, cost int64, nowMS int64) (bucketState, ConsumeResult) {
	capF := float64(capacity)
	tokens := math.Min(st.Level, capF)
	if elapsed := nowMS - st.TS; elapsed > 0 {
		tokens = math.Min(capF, tokens+float64(elapsed)/1000*rate)
		st.TS = nowMS
	}

	res := ConsumeResult{Allowed: true}
	if cost > 0 {
		if tokens >= float64(cost) {
			tokens -= float64(cost)
		} else {
			res.Allowed = false
			res.RetryAfter = ceilMillis((float64(cost) - tokens) / rate * 1000)
		}
	}

	st.Level = tokens
	res.Remaining = int64(math.Floor(math.Max(0, tokens)))
	return st, res
}

// leakyBucketStep 计算一次漏桶消费后的新状态与结果。
//
// 渗漏量 = 流逝毫秒 / 1000 × rate，下限 0。注水后将超过 capacity 时
// 拒绝且不注水，RetryAfter 为溢出部分漏完所需时间。
func leakyBucketStep(st bucketState, capacity int64, rate float64, cost int64, nowMS int64) (bucketState, ConsumeResult) {
	capF := float64(capacity)
	level := math.Max(0, st.Level)
	if elapsed := nowMS - st.TS; elapsed > 0 {
		level = math.Max(0, level-float64(elapsed)/1000*rate)
		st.TS = nowMS
	}

	res := ConsumeResult{Allowed: true}
	if cost > 0 {
		if level+float64(cost) <= capF {
			level += float64(cost)
		} else {
			res.Allowed = false
			res.RetryAfter = ceilMillis((level + float64(cost) - capF) / rate * 1000)
		}
	}

	st.Level = level
	res.Remaining = int64(math.Floor(math.Max(0, capF-level)))
	return st, res
}

// newTokenBucket 返回初始为满的令牌桶状态。
func newTokenBucket(capacity int64, nowMS int64) bucketState {
	return bucketState{Level: float64(capacity), TS: nowMS}
}

// newLeakyBucket 返回初始为空的漏桶状态。
func newLeakyBucket(nowMS int64) bucketState {
	return bucketState{Level: 0, TS: nowMS}
}

// bucketTTL 返回桶状态 key 的保留时长：空桶补满（或满桶漏空）
// 耗时的两倍，下限 1 秒。超过该时长未被访问的桶等价于新桶，可以回收。
func bucketTTL(capacity int64, rate float64) time.Duration {
	seconds := 2 * float64(capacity) / rate
	d := time.Duration(seconds * float64(time.Second))
	if d < time.Second {
		d = time.Second
	}
	return d
}

// ceilMillis 将毫秒数向上取整为 Duration，拒绝结果至少为 1ms。
func ceilMillis(ms float64) time.Duration {
	n := int64(math.Ceil(ms))
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * time.Millisecond
}

// =============================================================================
// 滑动窗口切片操作（内存与 etcd 后端共用）
// =============================================================================

// windowPrune 原地删除早于 cutoff 的时间戳，返回剩余切片。
// stamps 必须升序。
func windowPrune(stamps []int64, cutoff int64) []int64 {
	idx := sort.Search(len(stamps), func(i int) bool { return stamps[i] >= cutoff })
	if idx == 0 {
		return stamps
	}
	n := copy(stamps, stamps[idx:])
	return stamps[:n]
}

// windowInsert 向升序切片插入 n 个值为 tsMS 的时间戳，保持升序。
// 正常路径（tsMS 不早于末尾）是纯追加；乱序写入走插入路径。
func windowInsert(stamps []int64, tsMS int64, n int) []int64 {
	if len(stamps) == 0 || tsMS >= stamps[len(stamps)-1] {
		for range n {
			stamps = append(stamps, tsMS)
		}
		return stamps
	}
	pos := sort.Search(len(stamps), func(i int) bool { return stamps[i] > tsMS })
	stamps = append(stamps, make([]int64, n)...)
	copy(stamps[pos+n:], stamps[pos:])
	for i := range n {
		stamps[pos+i] = tsMS
	}
	return stamps
}

// windowCount 统计升序切片中落在 [fromMS, toMS] 闭区间的时间戳数量。
func windowCount(stamps []int64, fromMS, toMS int64) int64 {
	lo := sort.Search(len(stamps), func(i int) bool { return stamps[i] >= fromMS })
	hi := sort.Search(len(stamps), func(i int) bool { return stamps[i] > toMS })
	if hi < lo {
		return 0
	}
	return int64(hi - lo)
}
