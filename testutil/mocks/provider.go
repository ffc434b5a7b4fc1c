// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持脚本化响应队列、固定响应与错误注入。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/hitlflow/llm"
)

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	name      string
	queue     []*llm.ChatResponse
	errs      []error
	fallback  *llm.ChatResponse
	err       error
	delay     time.Duration
	unhealthy bool

	calls []*llm.ChatRequest
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:     "mock",
		fallback: TextResponse("Mock response"),
	}
}

// WithName 设置 Provider 名称
func (m *MockProvider) WithName(name string) *MockProvider {
	m.name = name
	return m
}

// WithResponse 设置队列耗尽后的固定文本响应
func (m *MockProvider) WithResponse(content string) *MockProvider {
	m.fallback = TextResponse(content)
	return m
}

// Enqueue 按顺序追加脚本化响应
func (m *MockProvider) Enqueue(resps ...*llm.ChatResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resps...)
	return m
}

// EnqueueError 让接下来的调用依次返回这些错误，优先于响应队列
func (m *MockProvider) EnqueueError(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
	return m
}

// WithError 让每次调用都返回 err
func (m *MockProvider) WithError(err error) *MockProvider {
	m.err = err
	return m
}

// WithDelay 模拟延迟，遵守上下文取消
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.delay = d
	return m
}

// WithUnhealthy 让 HealthCheck 报告不健康
func (m *MockProvider) WithUnhealthy() *MockProvider {
	m.unhealthy = true
	return m
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: !m.unhealthy}, nil
}

// Completion returns the next scripted response.
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if m.err != nil {
		return nil, m.err
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return resp, nil
	}
	return m.fallback, nil
}

// Calls returns the recorded requests.
func (m *MockProvider) Calls() []*llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.ChatRequest(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// TextResponse 构造单条 assistant 文本响应
func TextResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "resp-mock",
		Provider: "mock",
		Model:    "mock-model",
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		Usage: llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

// ToolCallResponse 构造带工具调用的 assistant 响应
func ToolCallResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	resp := TextResponse("")
	resp.Choices[0].FinishReason = "tool_calls"
	resp.Choices[0].Message.ToolCalls = calls
	return resp
}
