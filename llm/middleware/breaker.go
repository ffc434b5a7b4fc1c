package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	llmpkg "github.com/BaSui01/hitlflow/llm"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	// BreakerClosed 正常放行
	BreakerClosed BreakerState = iota
	// BreakerOpen 熔断中，直接拒绝
	BreakerOpen
	// BreakerHalfOpen 试探性恢复
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// Threshold 连续失败次数阈值
	Threshold int
	// ResetTimeout Open -> HalfOpen 的等待时间
	ResetTimeout time.Duration
	// HalfOpenMaxCalls 半开状态下允许的并发试探数
	HalfOpenMaxCalls int
	// OnStateChange 状态变更回调，在锁外同步调用
	OnStateChange func(from, to BreakerState)
}

// DefaultBreakerConfig 返回默认配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:        5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// ErrCircuitOpen 熔断器打开时返回，可重试以便端口重试装饰器退避后再试.
var ErrCircuitOpen = &llmpkg.Error{
	Code:       llmpkg.ErrProviderUnavailable,
	Message:    "circuit breaker is open",
	HTTPStatus: http.StatusServiceUnavailable,
	Retryable:  true,
}

// Breaker 按连续上游失败计数的熔断器.
// 客户端错误（无效请求、鉴权、配额、结构化输出解析失败）不计入失败.
type Breaker struct {
	cfg    BreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	halfOpenCalls int
}

// NewBreaker 创建熔断器
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "llm_breaker")),
		now:    time.Now,
	}
}

// State 返回当前状态
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = BreakerClosed
	b.failures = 0
	b.halfOpenCalls = 0
	b.mu.Unlock()
	b.notify(from, BreakerClosed)
}

// Do 在熔断器保护下执行 fn.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err == nil || isClientError(err))
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	var from, to BreakerState
	changed := false
	defer func() {
		b.mu.Unlock()
		if changed {
			b.notify(from, to)
		}
	}()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		from, to, changed = b.state, BreakerHalfOpen, true
		b.state = BreakerHalfOpen
		b.halfOpenCalls = 1
		b.logger.Info("circuit half-open")
		return nil
	case BreakerHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return ErrCircuitOpen
		}
		b.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	from := b.state
	if success {
		b.failures = 0
		if b.state == BreakerHalfOpen {
			b.state = BreakerClosed
			b.halfOpenCalls = 0
			b.logger.Info("circuit closed")
		}
	} else {
		b.failures++
		switch {
		case b.state == BreakerHalfOpen:
			b.state = BreakerOpen
			b.openedAt = b.now()
			b.halfOpenCalls = 0
			b.logger.Warn("half-open probe failed, circuit reopened")
		case b.state == BreakerClosed && b.failures >= b.cfg.Threshold:
			b.state = BreakerOpen
			b.openedAt = b.now()
			b.logger.Warn("circuit opened",
				zap.Int("failures", b.failures),
				zap.Int("threshold", b.cfg.Threshold))
		}
	}
	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to BreakerState) {
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(from, to)
	}
}

func isClientError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var e *llmpkg.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case llmpkg.ErrInvalidRequest, llmpkg.ErrUnauthorized, llmpkg.ErrForbidden,
		llmpkg.ErrQuotaExceeded, llmpkg.ErrMalformedResponse:
		return true
	}
	return false
}

// CircuitBreakerMiddleware 用熔断器保护上游调用.
func CircuitBreakerMiddleware(b *Breaker) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
			var resp *llmpkg.ChatResponse
			err := b.Do(ctx, func(ctx context.Context) error {
				var err error
				resp, err = next(ctx, req)
				return err
			})
			return resp, err
		}
	}
}
