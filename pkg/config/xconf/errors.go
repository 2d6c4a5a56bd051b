package xconf

import "errors"

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrEmptyPath 配置文件路径为空
	ErrEmptyPath = errors.New("xconf: empty config path")

	// ErrUnsupportedFormat 不支持的配置格式
	ErrUnsupportedFormat = errors.New("xconf: unsupported format")

	// ErrLoadFailed 读取配置源失败
	ErrLoadFailed = errors.New("xconf: load failed")

	// ErrParseFailed 解析配置内容失败
	ErrParseFailed = errors.New("xconf: parse failed")

	// ErrUnmarshalFailed 反序列化到目标结构失败
	ErrUnmarshalFailed = errors.New("xconf: unmarshal failed")

	// ErrNilConfig 配置实例为 nil
	ErrNilConfig = errors.New("xconf: nil config")

	// ErrNotReloadable 配置不是从文件创建的，无法重载或监视
	ErrNotReloadable = errors.New("xconf: config not backed by a file")
)
