// 配置文件变更监听与热重载.
package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HotReloadable 运行中可以直接生效的字段，其余字段变更只记录日志，需要重启.
var HotReloadable = map[string]bool{
	"log.level":          true,
	"rate_limit.rps":     true,
	"rate_limit.burst":   true,
	"workflow.max_steps": true,
}

// ReloadFunc 在配置重新加载并通过校验后调用. changed 为变更字段的 yaml 路径.
type ReloadFunc func(old, next *Config, changed []string)

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithDebounceDelay 设置防抖延迟，编辑器多次写入只触发一次重载
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// Watcher 轮询配置文件内容摘要，变化时通过 Loader 重新加载.
// 校验失败的新配置被丢弃，当前配置保持不变.
type Watcher struct {
	loader   *Loader
	path     string
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	current   *Config
	checksum  [32]byte
	callbacks []ReloadFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher 创建监听器. current 为已加载的配置.
func NewWatcher(loader *Loader, current *Config, opts ...WatcherOption) (*Watcher, error) {
	if loader == nil || loader.configPath == "" {
		return nil, errors.New("watcher requires a loader with a config path")
	}
	if current == nil {
		return nil, errors.New("watcher requires the current config")
	}
	w := &Watcher{
		loader:   loader,
		path:     loader.configPath,
		interval: time.Second,
		debounce: 200 * time.Millisecond,
		logger:   zap.NewNop(),
		current:  current,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))
	if sum, err := fileChecksum(w.path); err == nil {
		w.checksum = sum
	}
	return w, nil
}

// OnReload 注册重载回调
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current 返回当前生效的配置
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start 启动轮询，重复调用返回错误.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return errors.New("watcher already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("config watcher started", zap.String("path", w.path), zap.Duration("interval", w.interval))
	return nil
}

// Stop 停止轮询并等待后台 goroutine 退出
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		w.wg.Wait()
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sum, err := fileChecksum(w.path)
			if err != nil {
				continue
			}
			w.mu.RLock()
			changed := sum != w.checksum
			w.mu.RUnlock()
			if changed && pending == nil {
				pending = time.After(w.debounce)
			}
		case <-pending:
			pending = nil
			if err := w.Reload(); err != nil {
				w.logger.Warn("config reload rejected", zap.Error(err))
			}
		}
	}
}

// Reload 立即重新加载配置文件.
func (w *Watcher) Reload() error {
	sum, err := fileChecksum(w.path)
	if err != nil {
		return err
	}
	next, err := w.loader.Load()

	w.mu.Lock()
	// 即使校验失败也记录摘要，避免对同一份坏文件反复重载
	w.checksum = sum
	if err != nil {
		w.mu.Unlock()
		return err
	}
	old := w.current
	w.current = next
	callbacks := append([]ReloadFunc(nil), w.callbacks...)
	w.mu.Unlock()

	changed := Diff(old, next)
	if len(changed) == 0 {
		return nil
	}
	for _, path := range changed {
		if HotReloadable[path] {
			w.logger.Info("config field reloaded", zap.String("field", path))
		} else {
			w.logger.Warn("config field changed, restart required", zap.String("field", path))
		}
	}
	for _, cb := range callbacks {
		cb(old, next, changed)
	}
	return nil
}

// Diff 返回两个配置之间值不同的叶子字段，以 yaml 路径表示.
func Diff(old, next *Config) []string {
	var out []string
	diffStruct("", reflect.ValueOf(old).Elem(), reflect.ValueOf(next).Elem(), &out)
	return out
}

func diffStruct(prefix string, a, b reflect.Value, out *[]string) {
	t := a.Type()
	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		fa, fb := a.Field(i), b.Field(i)
		if fa.Kind() == reflect.Struct {
			diffStruct(path, fa, fb, out)
			continue
		}
		if !reflect.DeepEqual(fa.Interface(), fb.Interface()) {
			*out = append(*out, path)
		}
	}
}

func fileChecksum(path string) ([32]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("read %s: %w", path, err)
	}
	return sha256.Sum256(data), nil
}
