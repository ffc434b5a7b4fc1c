package tools

import (
	"context"
	"encoding/json"
)

// QuestionArgs Question 参数.
type QuestionArgs struct {
	Content string `json:"content"`
}

var questionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "content": {"type": "string", "description": "The question to ask the user"}
  },
  "required": ["content"]
}`)

var doneSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "done": {"type": "boolean", "description": "Set to true once the email has been handled"}
  }
}`)

// Question 的策略只允许 response / ignore，处理函数只在部署方放宽策略时才会被调用.
func Question(_ context.Context, raw json.RawMessage) (string, error) {
	var args QuestionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	return args.Content, nil
}

// Done 从不执行，工作流在路由阶段结束.
func Done(context.Context, json.RawMessage) (string, error) {
	return "done", nil
}
