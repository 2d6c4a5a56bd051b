package xconf

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ============================================================================
// 文件监视
// ============================================================================

// WatchCallback 配置变更回调。
//
// 重载成功时 err 为 nil，cfg 已是最新快照；
// 重载失败时 err 非 nil，cfg 保留旧快照。
type WatchCallback func(cfg *Config, err error)

// Watcher 配置文件监视器
type Watcher struct {
	cfg      *Config
	watcher  *fsnotify.Watcher
	callback WatchCallback
	debounce time.Duration

	mu      sync.Mutex
	running bool
	timer   *time.Timer // debounce 定时器，Stop 时需要取消
	ctx     context.Context
	cancel  context.CancelFunc
}

// WatchOption 监视选项函数
type WatchOption func(*watchOptions)

type watchOptions struct {
	debounce time.Duration
}

func defaultWatchOptions() *watchOptions {
	return &watchOptions{
		debounce: 100 * time.Millisecond,
	}
}

// WithDebounce 设置防抖时间。
//
// 编辑器保存往往触发多个文件系统事件，防抖窗口内的事件
// 合并为一次重载。
func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// Watch 创建配置文件监视器。
//
// 文件变更时自动调用 cfg.Reload() 并通过 callback 通知结果。
// 只有从文件创建的 Config 可以监视，从字节创建的返回 ErrNotReloadable。
//
// 返回的 Watcher 需要调用 Start 或 StartAsync 开始监视。
func Watch(cfg *Config, callback WatchCallback, opts ...WatchOption) (*Watcher, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if cfg.path == "" {
		return nil, ErrNotReloadable
	}

	options := defaultWatchOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("xconf: create watcher: %w", err)
	}

	// 监视文件所在目录而非文件本身。
	// 编辑器保存时可能先删除再创建，直接监视文件会丢失后续事件。
	dir := filepath.Dir(cfg.path)
	if err := fsWatcher.Add(dir); err != nil {
		closeErr := fsWatcher.Close()
		return nil, errors.Join(
			fmt.Errorf("xconf: watch directory %s: %w", dir, err),
			closeErr,
		)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		cfg:      cfg,
		watcher:  fsWatcher,
		callback: callback,
		debounce: options.debounce,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start 启动监视，阻塞直到 Stop 被调用
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.run()
}

// StartAsync 在后台 goroutine 中启动监视，立即返回。
//
// 先置 running 标志再启动 goroutine，避免与 Stop 的竞态。
func (w *Watcher) StartAsync() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run()
}

// Stop 停止监视，幂等
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	// 取消挂起的 debounce 定时器，防止 Stop 后仍触发回调
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	w.cancel()
	w.running = false
	return w.watcher.Close()
}

func (w *Watcher) run() {
	filename := filepath.Base(w.cfg.path)

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, filename)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.handleError(err)
		}
	}
}

// handleEvent 过滤并防抖处理文件系统事件
func (w *Watcher) handleEvent(event fsnotify.Event, filename string) {
	// 目录监视会收到同目录下所有文件的事件，只处理目标文件
	if filepath.Base(event.Name) != filename {
		return
	}

	// Write: 原地修改
	// Create: 删除后重建（部分编辑器的保存方式）
	// Rename: 写临时文件后原子替换（vim 等）
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		err := w.cfg.Reload()
		if w.callback != nil {
			w.callback(w.cfg, err)
		}
	})
}

func (w *Watcher) handleError(err error) {
	if w.callback != nil {
		w.callback(w.cfg, fmt.Errorf("xconf: watch error: %w", err))
	}
}
