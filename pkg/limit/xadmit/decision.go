package xadmit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/omeyang/gatekit/pkg/limit/xalgo"
)

// ============================================================================
// 决策
// ============================================================================

// 标准响应头名称。
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderPolicy     = "X-RateLimit-Policy"
	HeaderRetryAfter = "Retry-After"
)

// Unlimited 旁路决策的 Limit 取值，表示不设上限
const Unlimited int64 = -1

// Decision 一次准入判定的完整结果
type Decision struct {
	// Result 算法层的原始决策
	Result xalgo.Result

	// Limit 本次判定采用的有效限额，Unlimited(-1) 表示旁路
	Limit int64

	// RetryAfter 拒绝时建议的重试等待，整秒且 >= 1s；放行时为 0
	RetryAfter time.Duration

	// Key 实际使用的计数键
	Key string

	// Rule 命中的规则 ID，旁路时为空
	Rule string

	// Tier 参与限额缩放的层级名称，未命中层级时为空
	Tier string

	// Action 拒绝时附带的处置建议，来自规则定义
	Action *Action

	// Bypassed 请求走了旁路（内部调用、旁路 IP、旁路 API key）
	Bypassed bool

	// Degraded 存储故障下按 FailOpen 放行
	Degraded bool
}

// Allowed 请求是否放行
func (d *Decision) Allowed() bool {
	return d.Result.Allowed
}

// Headers 生成标准限流响应头。
//
// 旁路决策（Limit < 0）不携带 X-RateLimit-* 头；
// Retry-After 仅在拒绝时出现，取整秒且不小于 1。
func (d *Decision) Headers() map[string]string {
	h := make(map[string]string, 5)

	if d.Limit >= 0 {
		h[HeaderLimit] = strconv.FormatInt(d.Limit, 10)
		h[HeaderRemaining] = strconv.FormatInt(d.Result.Remaining, 10)
		if !d.Result.ResetAt.IsZero() {
			h[HeaderReset] = strconv.FormatInt(d.Result.ResetAt.Unix(), 10)
		}
	}
	if d.Rule != "" {
		h[HeaderPolicy] = d.Rule
	}
	if !d.Result.Allowed {
		secs := int64(d.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		h[HeaderRetryAfter] = strconv.FormatInt(secs, 10)
	}
	return h
}

// SetHeaders 将限流响应头写入 http.Header
func (d *Decision) SetHeaders(h http.Header) {
	for k, v := range d.Headers() {
		h.Set(k, v)
	}
}

// retryAfter 距 resetAt 的等待时长，向上取整到秒且不小于 1s
func retryAfter(resetAt, now time.Time) time.Duration {
	d := resetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return time.Duration(secs) * time.Second
}
