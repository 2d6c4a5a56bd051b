package xadmit

import "errors"

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrNilStore 存储后端为 nil
	ErrNilStore = errors.New("xadmit: store is nil")

	// ErrNilContext context 为 nil
	ErrNilContext = errors.New("xadmit: context is nil")

	// ErrClosed 编排器已关闭
	ErrClosed = errors.New("xadmit: limiter closed")

	// ErrUnknownRule 规则不存在
	ErrUnknownRule = errors.New("xadmit: unknown rule")

	// ErrUnknownTier 层级不存在
	ErrUnknownTier = errors.New("xadmit: unknown tier")

	// ErrInvalidRule 规则定义非法
	ErrInvalidRule = errors.New("xadmit: invalid rule")

	// ErrInvalidTier 层级定义非法
	ErrInvalidTier = errors.New("xadmit: invalid tier")

	// ErrInvalidCost 消费量必须 >= 1
	ErrInvalidCost = errors.New("xadmit: cost must be >= 1")

	// ErrInvalidBypassIP 旁路 IP/CIDR 无法解析
	ErrInvalidBypassIP = errors.New("xadmit: invalid bypass ip")

	// ErrInvalidConfig 配置整体非法
	ErrInvalidConfig = errors.New("xadmit: invalid config")
)
