package middleware

import (
	"context"
	"fmt"

	llmpkg "github.com/BaSui01/hitlflow/llm"
)

// RequestRewriter 请求改写器接口
// 用于在请求发送到上游 API 之前进行参数清理和转换
type RequestRewriter interface {
	Rewrite(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error)
	Name() string
}

// RewriterChain 按顺序执行多个改写器
type RewriterChain struct {
	rewriters []RequestRewriter
}

// NewRewriterChain 创建改写器链
func NewRewriterChain(rewriters ...RequestRewriter) *RewriterChain {
	return &RewriterChain{rewriters: rewriters}
}

// Execute 执行改写器链，任何一个失败则中断并返回错误
func (c *RewriterChain) Execute(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	if c == nil {
		return req, nil
	}
	var err error
	for _, rw := range c.rewriters {
		req, err = rw.Rewrite(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("rewriter [%s] failed: %w", rw.Name(), err)
		}
	}
	return req, nil
}

// RewriteMiddleware 在请求发出前执行改写器链.
func RewriteMiddleware(chain *RewriterChain) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
			rewritten, err := chain.Execute(ctx, req)
			if err != nil {
				return nil, &llmpkg.Error{Code: llmpkg.ErrInvalidRequest, Message: err.Error(), HTTPStatus: 400}
			}
			return next(ctx, rewritten)
		}
	}
}
