package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/hitlflow/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertMessagesEqual 按角色与内容比较两段对话
func AssertMessagesEqual(t *testing.T, expected, actual []types.Message) {
	t.Helper()
	if !assert.Len(t, actual, len(expected), "message count") {
		return
	}
	for i := range expected {
		assert.Equal(t, expected[i].Role, actual[i].Role, "message[%d] role", i)
		assert.Equal(t, expected[i].Content, actual[i].Content, "message[%d] content", i)
		assert.Equal(t, expected[i].ToolCallID, actual[i].ToolCallID, "message[%d] tool_call_id", i)
	}
}

// AssertToolCallsEqual 比较工具调用的名字与参数（参数按 JSON 语义比较）
func AssertToolCallsEqual(t *testing.T, expected, actual []types.ToolCall) {
	t.Helper()
	if !assert.Len(t, actual, len(expected), "tool call count") {
		return
	}
	for i := range expected {
		assert.Equal(t, expected[i].Name, actual[i].Name, "tool call[%d] name", i)
		assert.JSONEq(t, string(expected[i].Arguments), string(actual[i].Arguments), "tool call[%d] arguments", i)
	}
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}
