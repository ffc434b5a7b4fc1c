package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_CloneIsolatesToolCalls(t *testing.T) {
	t.Parallel()

	orig := NewAssistantMessage("").WithToolCalls([]ToolCall{
		{ID: "c1", Name: "write_email", Arguments: json.RawMessage(`{"to":"a@b.c"}`)},
	})
	cp := orig.Clone()
	cp.ToolCalls[0].Arguments[2] = 'X'
	cp.ToolCalls[0].Name = "changed"

	assert.Equal(t, `{"to":"a@b.c"}`, string(orig.ToolCalls[0].Arguments))
	assert.Equal(t, "write_email", orig.ToolCalls[0].Name)
	assert.True(t, orig.HasToolCalls())
	assert.False(t, NewUserMessage("hi").HasToolCalls())
}

func TestNewToolMessage(t *testing.T) {
	t.Parallel()

	m := NewToolMessage("c9", "search_emails", "found")
	assert.Equal(t, RoleTool, m.Role)
	assert.Equal(t, "c9", m.ToolCallID)
	assert.Equal(t, "search_emails", m.Name)
	assert.Nil(t, CloneMessages(nil))
}
