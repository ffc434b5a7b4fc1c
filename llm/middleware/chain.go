package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/hitlflow/internal/metrics"
	llmpkg "github.com/BaSui01/hitlflow/llm"
)

// Handler 处理一个请求并返回一个响应.
type Handler func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error)

// Middleware 将处理器包裹并添加额外功能.
type Middleware func(next Handler) Handler

// Chain 表示中间件链.
type Chain struct {
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewChain 创建新的中间件链.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use 将中间件添加到链中.
func (c *Chain) Use(m Middleware) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
	return c
}

// UseFront 在链的前部添加中间件.
func (c *Chain) UseFront(m Middleware) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append([]Middleware{m}, c.middlewares...)
	return c
}

// Then 用链中的所有中间件包裹一个处理器. 第一个中间件在最外层.
func (c *Chain) Then(h Handler) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// Len 返回链中的中间件数量.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.middlewares)
}

// Wrap returns a provider whose Completion runs through the chain.
func (c *Chain) Wrap(p llmpkg.Provider) llmpkg.Provider {
	return &wrappedProvider{Provider: p, handler: c.Then(p.Completion)}
}

type wrappedProvider struct {
	llmpkg.Provider
	handler Handler
}

func (w *wrappedProvider) Completion(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
	return w.handler(ctx, req)
}

// =============================================================================
// 内置中间件
// =============================================================================

// LoggingMiddleware 记录请求/响应详情.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "llm"))
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			fields := []zap.Field{
				zap.String("model", req.Model),
				zap.String("trace_id", req.TraceID),
				zap.Int("messages", len(req.Messages)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("llm request failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			logger.Debug("llm request completed", append(fields, zap.Int("total_tokens", resp.Usage.TotalTokens))...)
			return resp, nil
		}
	}
}

// TimeoutMiddleware 对请求添加超时. 请求自带 Timeout 时优先使用.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
			d := timeout
			if req.Timeout > 0 {
				d = req.Timeout
			}
			if d <= 0 {
				return next(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MetricsMiddleware 收集请求耗时与 token 用量.
func MetricsMiddleware(collector *metrics.Collector, provider string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			status := "success"
			var prompt, completion int
			if err != nil {
				status = "error"
			} else if resp != nil {
				prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
			}
			collector.RecordLLMRequest(provider, req.Model, status, time.Since(start), prompt, completion)
			return resp, err
		}
	}
}

// RateLimitMiddleware 在超出速率时阻塞等待.
func RateLimitMiddleware(limiter *rate.Limiter) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, &llmpkg.Error{Code: llmpkg.ErrRateLimited, Message: err.Error(), Retryable: true}
			}
			return next(ctx, req)
		}
	}
}

// RecoveryMiddleware 从 panic 中恢复.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (resp *llmpkg.ChatResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("llm handler panicked", zap.Any("panic", r), zap.Stack("stack"))
					err = &PanicError{Value: r}
				}
			}()
			return next(ctx, req)
		}
	}
}

// PanicError 表示已恢复的 panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

// TracingMiddleware 为每次请求创建 span.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
			ctx, span := tracer.Start(ctx, "llm.completion", trace.WithAttributes(
				attribute.String("llm.model", req.Model),
				attribute.Int("llm.messages", len(req.Messages)),
				attribute.Int("llm.tools", len(req.Tools)),
			))
			defer span.End()

			resp, err := next(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else if resp != nil {
				span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
			}
			return resp, err
		}
	}
}

// ValidatorMiddleware 在处理前对请求进行验证.
func ValidatorMiddleware(validators ...Validator) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
			for _, v := range validators {
				if err := v.Validate(req); err != nil {
					return nil, err
				}
			}
			return next(ctx, req)
		}
	}
}

// Validator 定义请求验证接口.
type Validator interface {
	Validate(req *llmpkg.ChatRequest) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(req *llmpkg.ChatRequest) error

func (f ValidatorFunc) Validate(req *llmpkg.ChatRequest) error { return f(req) }

// RequireMessages rejects requests without messages.
var RequireMessages = ValidatorFunc(func(req *llmpkg.ChatRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return &llmpkg.Error{Code: llmpkg.ErrInvalidRequest, Message: "request has no messages", HTTPStatus: 400}
	}
	return nil
})
