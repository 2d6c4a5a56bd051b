package xadmit

import (
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/omeyang/gatekit/pkg/util/xlru"
)

// ============================================================================
// 路径通配与匹配缓存
// ============================================================================

// wildcardMatch 报告 s 是否匹配 pattern。
// '*' 匹配任意长度的任意字符（包括 '/'），其余字符逐字节比较。
// 迭代回溯实现，最坏 O(len(pattern) * len(s))，无内存分配。
func wildcardMatch(pattern, s string) bool {
	var pi, si int
	star, mark := -1, 0

	for si < len(s) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			star, mark = pi, si
			pi++
		case pi < len(pattern) && pattern[pi] == s[si]:
			pi++
			si++
		case star >= 0:
			// 回溯：让上一个 '*' 多吞一个字符
			mark++
			pi, si = star+1, mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// matchEntry 缓存的匹配结果。
// composite 保留原始组合键：xxhash 碰撞时比对失配，退回全量匹配。
type matchEntry struct {
	composite string
	ruleID    string // 空串表示无规则命中（落到默认规则）
}

// matchCache 规则匹配结果缓存。
// 匹配结果完全由 method/path/tier/tenant 四个维度决定，
// 规则集变更时整体失效（purge）。
type matchCache struct {
	lru *xlru.Cache[uint64, matchEntry]
}

func newMatchCache(size int, ttl time.Duration) (*matchCache, error) {
	lru, err := xlru.New[uint64, matchEntry](size, ttl)
	if err != nil {
		return nil, err
	}
	return &matchCache{lru: lru}, nil
}

// matchKey 计算请求匹配维度的哈希键与原始组合键
func matchKey(rc RequestContext) (uint64, string) {
	var b strings.Builder
	b.Grow(len(rc.Method) + len(rc.Path) + len(rc.Tier) + len(rc.TenantID) + 3)
	b.WriteString(rc.Method)
	b.WriteByte('|')
	b.WriteString(rc.Path)
	b.WriteByte('|')
	b.WriteString(rc.Tier)
	b.WriteByte('|')
	b.WriteString(rc.TenantID)
	composite := b.String()
	return xxhash.Sum64String(composite), composite
}

// get 查询缓存的规则 ID。第二个返回值表示是否命中。
func (c *matchCache) get(hash uint64, composite string) (string, bool) {
	e, ok := c.lru.Get(hash)
	if !ok || e.composite != composite {
		return "", false
	}
	return e.ruleID, true
}

func (c *matchCache) put(hash uint64, composite, ruleID string) {
	c.lru.Set(hash, matchEntry{composite: composite, ruleID: ruleID})
}

func (c *matchCache) purge() {
	c.lru.Purge()
}

func (c *matchCache) close() {
	c.lru.Close()
}
