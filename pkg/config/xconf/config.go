package xconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 配置内容格式
type Format string

const (
	// FormatYAML YAML 格式
	FormatYAML Format = "yaml"
	// FormatJSON JSON 格式
	FormatJSON Format = "json"
)

// Config 已加载的配置。
//
// 并发安全：Reload 与读取可以并发调用，读取方看到的始终是
// 完整加载成功的一份快照（加载失败时保留旧快照）。
type Config struct {
	mu     sync.RWMutex
	k      *koanf.Koanf
	path   string // 为空表示从字节创建，不支持 Reload/Watch
	format Format
	opts   *options
}

// New 从文件创建配置实例，按扩展名检测格式。
//
// 支持 .yaml/.yml 与 .json。
func New(path string, opts ...Option) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}

	c := &Config{
		path:   path,
		format: format,
		opts:   newOptions(opts...),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromBytes 从字节切片创建配置实例。
//
// 从字节创建的配置没有后备文件，Reload 和 Watch 均不可用。
func NewFromBytes(data []byte, format Format, opts ...Option) (*Config, error) {
	if !isValidFormat(format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	c := &Config{
		format: format,
		opts:   newOptions(opts...),
	}

	k, err := parseBytes(data, format, c.opts.delim)
	if err != nil {
		return nil, err
	}
	c.k = k
	return c, nil
}

// Unmarshal 将 path 下的配置反序列化到 target。
//
// path 为空字符串时反序列化整棵配置树。
// target 必须是指针。
func (c *Config) Unmarshal(path string, target any) error {
	c.mu.RLock()
	k := c.k
	c.mu.RUnlock()

	conf := koanf.UnmarshalConf{Tag: c.opts.tag}
	if err := k.UnmarshalWithConf(path, target, conf); err != nil {
		return fmt.Errorf("%w: path %q: %w", ErrUnmarshalFailed, path, err)
	}
	return nil
}

// Reload 重新读取后备文件并替换当前快照。
//
// 读取或解析失败时返回错误且保留旧快照。
// 从字节创建的配置返回 ErrNotReloadable。
func (c *Config) Reload() error {
	if c.path == "" {
		return ErrNotReloadable
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLoadFailed, c.path, err)
	}

	k, err := parseBytes(data, c.format, c.opts.delim)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.k = k
	c.mu.Unlock()
	return nil
}

// Koanf 返回底层 koanf 实例，用于 String/Int 等便捷读取。
//
// 返回的是当前快照，Reload 后需要重新获取。
func (c *Config) Koanf() *koanf.Koanf {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.k
}

// Path 返回后备文件路径，从字节创建时为空
func (c *Config) Path() string {
	return c.path
}

// Format 返回配置格式
func (c *Config) Format() Format {
	return c.format
}

// detectFormat 按文件扩展名检测格式
func detectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// isValidFormat 校验格式合法性
func isValidFormat(format Format) bool {
	return format == FormatYAML || format == FormatJSON
}

// parseBytes 解析字节内容为新的 koanf 实例
func parseBytes(data []byte, format Format, delim string) (*koanf.Koanf, error) {
	k := koanf.New(delim)

	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return k, nil
}
