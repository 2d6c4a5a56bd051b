package xconf

// ============================================================================
// 配置选项
// ============================================================================

// options 加载行为的内部配置
type options struct {
	delim string // 键路径分隔符
	tag   string // 反序列化使用的结构体标签
}

// defaultOptions 返回默认配置
func defaultOptions() *options {
	return &options{
		delim: ".",
		tag:   "koanf",
	}
}

// newOptions 构造配置并应用所有选项
func newOptions(opts ...Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Option 配置选项函数
type Option func(*options)

// WithDelim 设置键路径分隔符
//
// 默认为 "."，即 "server.port" 表示嵌套键。
func WithDelim(delim string) Option {
	return func(o *options) {
		if delim != "" {
			o.delim = delim
		}
	}
}

// WithTag 设置反序列化使用的结构体标签
//
// 默认为 "koanf"。若配置结构体复用已有的 json 标签，
// 可传入 "json" 避免重复打标签。
func WithTag(tag string) Option {
	return func(o *options) {
		if tag != "" {
			o.tag = tag
		}
	}
}
