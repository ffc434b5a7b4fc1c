package middleware

import (
	"context"

	llmpkg "github.com/BaSui01/hitlflow/llm"
)

// EmptyToolsCleaner 当请求的 Tools 为空时清除 ToolChoice.
// OpenAI 兼容接口在 tools 为空时设置 tool_choice 会返回 400.
type EmptyToolsCleaner struct{}

// NewEmptyToolsCleaner 创建空工具清理器
func NewEmptyToolsCleaner() *EmptyToolsCleaner {
	return &EmptyToolsCleaner{}
}

func (r *EmptyToolsCleaner) Name() string { return "empty_tools_cleaner" }

func (r *EmptyToolsCleaner) Rewrite(_ context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	if req != nil && len(req.Tools) == 0 {
		req.ToolChoice = ""
	}
	return req, nil
}
