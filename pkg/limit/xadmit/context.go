package xadmit

// RequestContext 描述一次待准入请求的调用方身份与目标。
//
// 值类型：With* 构建器返回修改后的副本，原值不变，可安全地在
// goroutine 间传递。所有字段都允许为空，编排器按可用维度解析计数键。
type RequestContext struct {
	// UserID 已认证用户标识
	UserID string

	// IP 调用方地址，未认证流量的兜底维度
	IP string

	// TenantID 租户标识
	TenantID string

	// APIKey 调用方 API key
	APIKey string

	// Tier 调用方所属层级名称，参与规则匹配与限额缩放
	Tier string

	// Path 请求路径
	Path string

	// Method HTTP 方法
	Method string

	// Internal 内部调用标记，为 true 时直接旁路放行
	Internal bool
}

// WithUserID 返回设置了用户标识的副本
func (rc RequestContext) WithUserID(id string) RequestContext {
	rc.UserID = id
	return rc
}

// WithIP 返回设置了调用方地址的副本
func (rc RequestContext) WithIP(ip string) RequestContext {
	rc.IP = ip
	return rc
}

// WithTenantID 返回设置了租户标识的副本
func (rc RequestContext) WithTenantID(id string) RequestContext {
	rc.TenantID = id
	return rc
}

// WithAPIKey 返回设置了 API key 的副本
func (rc RequestContext) WithAPIKey(key string) RequestContext {
	rc.APIKey = key
	return rc
}

// WithTier 返回设置了层级的副本
func (rc RequestContext) WithTier(tier string) RequestContext {
	rc.Tier = tier
	return rc
}

// WithPath 返回设置了请求路径的副本
func (rc RequestContext) WithPath(path string) RequestContext {
	rc.Path = path
	return rc
}

// WithMethod 返回设置了 HTTP 方法的副本
func (rc RequestContext) WithMethod(method string) RequestContext {
	rc.Method = method
	return rc
}

// WithInternal 返回设置了内部调用标记的副本
func (rc RequestContext) WithInternal(internal bool) RequestContext {
	rc.Internal = internal
	return rc
}
