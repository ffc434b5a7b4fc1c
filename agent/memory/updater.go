package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/hitlflow/agent/persistence"
	"github.com/BaSui01/hitlflow/agent/ports"
	"github.com/BaSui01/hitlflow/internal/metrics"
	"github.com/BaSui01/hitlflow/internal/pool"
	"github.com/BaSui01/hitlflow/types"
)

// Mode 决定 Submit 是否阻塞调用方.
type Mode string

const (
	ModeAsync Mode = "async"
	ModeSync  Mode = "sync"
)

// ErrEmptyRevision 修订端口返回了空内容.
var ErrEmptyRevision = errors.New("reviser returned empty preferences")

// Config 偏好更新器配置
type Config struct {
	Mode Mode `json:"mode" yaml:"mode"`

	// Workers / QueueSize 只在 async 模式下生效
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	// Timeout 限制单次修订（含端口调用与存储写入）
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// StrictPreserve 修订结果整体改写（丢失过半原有行且行数变少）时把丢失的行追加回去
	StrictPreserve bool `json:"strict_preserve" yaml:"strict_preserve"`
}

// DefaultConfig returns the default updater configuration.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeAsync,
		Workers:        2,
		QueueSize:      128,
		Timeout:        60 * time.Second,
		StrictPreserve: true,
	}
}

// Updater reads preference memory with lazy defaults and revises it from
// review feedback. Revisions never fail the caller: errors are logged and
// counted.
type Updater struct {
	store   persistence.PreferenceStore
	reviser ports.Reviser
	config  Config
	workers *pool.GoroutinePool
	metrics *metrics.Collector
	logger  *zap.Logger

	defaults singleflight.Group
	closed   atomic.Bool
}

// Option configures an Updater.
type Option func(*Updater)

// WithMetrics records revision outcomes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(u *Updater) { u.metrics = c }
}

// NewUpdater creates an updater. reviser may be nil, in which case every
// submitted feedback is skipped.
func NewUpdater(store persistence.PreferenceStore, reviser ports.Reviser, config Config, logger *zap.Logger, opts ...Option) (*Updater, error) {
	if store == nil {
		return nil, fmt.Errorf("memory updater: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch config.Mode {
	case "":
		config.Mode = ModeAsync
	case ModeAsync, ModeSync:
	default:
		return nil, fmt.Errorf("memory updater: unsupported mode %q", config.Mode)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	u := &Updater{
		store:   store,
		reviser: reviser,
		config:  config,
		logger:  logger.With(zap.String("component", "memory_updater")),
	}
	for _, opt := range opts {
		opt(u)
	}

	if config.Mode == ModeAsync {
		pc := pool.DefaultGoroutinePoolConfig()
		if config.Workers > 0 {
			pc.MaxWorkers = config.Workers
		}
		if config.QueueSize > 0 {
			pc.QueueSize = config.QueueSize
		}
		pc.PanicHandler = func(v any) {
			u.logger.Error("memory revision panicked", zap.Any("panic", v))
		}
		u.workers = pool.NewGoroutinePool(pc)
	}
	return u, nil
}

// Get returns the namespace content, creating it from its default on first
// read. Concurrent first reads of a namespace share one store write.
func (u *Updater) Get(ctx context.Context, namespace string) (string, error) {
	content, ok, err := u.store.GetMemory(ctx, namespace)
	if err != nil {
		return "", storeError(ctx, err)
	}
	if ok {
		return content, nil
	}

	def, hasDefault := Default(namespace)
	if !hasDefault {
		return "", nil
	}

	v, err, _ := u.defaults.Do(namespace, func() (any, error) {
		return u.store.UpdateMemory(ctx, namespace, func(current string, exists bool) (string, error) {
			if exists {
				return current, nil
			}
			return def, nil
		})
	})
	if err != nil {
		return "", storeError(ctx, err)
	}
	return v.(string), nil
}

// Submit hands feedback to the reviser. In async mode it returns as soon as
// the revision is queued; the revision runs detached from ctx cancellation.
func (u *Updater) Submit(ctx context.Context, fb Feedback) {
	log := u.logger.With(zap.String("namespace", fb.Namespace))
	if u.reviser == nil {
		u.metrics.RecordMemoryRevision(fb.Namespace, "skipped")
		log.Debug("no reviser configured, feedback dropped")
		return
	}
	if u.closed.Load() {
		u.metrics.RecordMemoryRevision(fb.Namespace, "skipped")
		log.Warn("memory updater closed, feedback dropped")
		return
	}

	detached := context.WithoutCancel(ctx)
	if u.workers == nil {
		u.run(detached, fb)
		return
	}

	u.metrics.AddPendingMemoryUpdates(1)
	err := u.workers.Submit(detached, func(taskCtx context.Context) error {
		defer u.metrics.AddPendingMemoryUpdates(-1)
		u.run(taskCtx, fb)
		return nil
	})
	if err != nil {
		u.metrics.AddPendingMemoryUpdates(-1)
		u.metrics.RecordMemoryRevision(fb.Namespace, "skipped")
		log.Warn("memory revision not queued", zap.Error(err))
	}
}

func (u *Updater) run(ctx context.Context, fb Feedback) {
	ctx, cancel := context.WithTimeout(ctx, u.config.Timeout)
	defer cancel()

	start := time.Now()
	if _, err := u.Revise(ctx, fb); err != nil {
		u.metrics.RecordMemoryRevision(fb.Namespace, "failed")
		u.logger.Error("memory revision failed",
			zap.String("namespace", fb.Namespace),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	u.metrics.RecordMemoryRevision(fb.Namespace, "ok")
	u.logger.Info("memory revised",
		zap.String("namespace", fb.Namespace),
		zap.Duration("duration", time.Since(start)),
	)
}

// Revise applies fb to its namespace atomically and returns the new content.
// The reviser may be called more than once when the store retries the
// read-modify-write.
func (u *Updater) Revise(ctx context.Context, fb Feedback) (string, error) {
	if u.reviser == nil {
		return "", types.NewError(types.ErrMemoryRevision, "no reviser configured")
	}
	if fb.Namespace == "" {
		return "", types.NewError(types.ErrMemoryRevision, "namespace is required")
	}

	var reasoning string
	updated, err := u.store.UpdateMemory(ctx, fb.Namespace, func(current string, exists bool) (string, error) {
		if !exists {
			current, _ = Default(fb.Namespace)
		}
		rev, err := u.reviser.Revise(ctx, ports.RevisionRequest{
			Namespace: fb.Namespace,
			Current:   current,
			Feedback:  types.CloneMessages(fb.Messages),
		})
		if err != nil {
			return "", err
		}
		revised := strings.TrimSpace(rev.Preferences)
		if revised == "" {
			return "", ErrEmptyRevision
		}
		if u.config.StrictPreserve {
			var restored []string
			revised, restored = Preserve(current, revised)
			if len(restored) > 0 {
				u.logger.Warn("revision dropped existing preferences, restored",
					zap.String("namespace", fb.Namespace),
					zap.Strings("lines", restored),
				)
			}
		}
		reasoning = rev.Reasoning
		return revised, nil
	})
	if err != nil {
		return "", types.WrapError(err, types.ErrMemoryRevision, "revise "+fb.Namespace)
	}
	u.logger.Debug("revision reasoning",
		zap.String("namespace", fb.Namespace),
		zap.String("reasoning", reasoning),
	)
	return updated, nil
}

// Close stops accepting feedback and waits for queued revisions.
func (u *Updater) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	if u.workers != nil {
		u.workers.Close()
	}
	return nil
}

// Preserve guards against wholesale rewrites. When revised keeps fewer
// than half of current's non-blank lines and is also shorter in lines, the
// dropped lines are appended back. Targeted corrections, where a line is
// replaced rather than removed, pass through unchanged.
func Preserve(current, revised string) (string, []string) {
	have := make(map[string]struct{})
	revisedLines := 0
	for _, line := range strings.Split(revised, "\n") {
		key := strings.TrimSpace(line)
		if key == "" {
			continue
		}
		if _, dup := have[key]; !dup {
			revisedLines++
		}
		have[key] = struct{}{}
	}

	var dropped []string
	seen := make(map[string]struct{})
	total, kept := 0, 0
	for _, line := range strings.Split(current, "\n") {
		key := strings.TrimSpace(line)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		total++
		if _, ok := have[key]; ok {
			kept++
			continue
		}
		dropped = append(dropped, key)
	}
	if len(dropped) == 0 || !isWholesaleRewrite(total, kept, revisedLines) {
		return revised, nil
	}
	return strings.TrimRight(revised, "\n") + "\n" + strings.Join(dropped, "\n"), dropped
}

func isWholesaleRewrite(total, kept, revisedLines int) bool {
	return kept*2 < total && revisedLines < total
}

func storeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, persistence.ErrInvalidInput) {
		return types.WrapError(err, types.ErrInvalidRequest, "invalid preference namespace")
	}
	return types.NewStoreUnavailableError(err)
}
