package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/agent/email"
	"github.com/BaSui01/hitlflow/llm"
	"github.com/BaSui01/hitlflow/types"
)

// LLMConfig 配置基于 llm.Provider 的端口.
type LLMConfig struct {
	// Model 为空时使用 Provider 的默认模型
	Model string
	// Background 注入系统提示词，为空使用 DefaultBackground
	Background  string
	Temperature float32
	MaxTokens   int
}

func (c LLMConfig) background() string {
	if strings.TrimSpace(c.Background) == "" {
		return DefaultBackground
	}
	return c.Background
}

var routerSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "reasoning": {"type": "string", "description": "Step-by-step reasoning behind the classification."},
    "classification": {
      "type": "string",
      "enum": ["ignore", "respond", "notify"],
      "description": "The classification of an email: 'ignore' for irrelevant emails, 'notify' for important information that doesn't need a response, 'respond' for emails that need a reply"
    }
  },
  "required": ["reasoning", "classification"],
  "additionalProperties": false
}`)

var preferencesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "chain_of_thought": {"type": "string", "description": "Reasoning about which user preferences need to add / update if required"},
    "user_preferences": {"type": "string", "description": "Updated user preferences"}
  },
  "required": ["chain_of_thought", "user_preferences"],
  "additionalProperties": false
}`)

// =============================================================================
// Classifier
// =============================================================================

// LLMClassifier classifies emails with a structured-output completion.
type LLMClassifier struct {
	provider llm.Provider
	config   LLMConfig
	logger   *zap.Logger
}

// NewLLMClassifier creates a classifier backed by provider.
func NewLLMClassifier(provider llm.Provider, config LLMConfig, logger *zap.Logger) *LLMClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMClassifier{
		provider: provider,
		config:   config,
		logger:   logger.With(zap.String("component", "classifier")),
	}
}

func (c *LLMClassifier) Classify(ctx context.Context, request json.RawMessage, instructions string) (ClassifyResult, error) {
	req, err := email.Parse(request)
	if err != nil {
		return ClassifyResult{}, types.WrapError(err, types.ErrInvalidRequest, "invalid email request").
			WithHTTPStatus(http.StatusBadRequest)
	}
	resp, err := c.provider.Completion(ctx, &llm.ChatRequest{
		TraceID: traceID(ctx),
		Model:   c.config.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: triageSystemPrompt(c.config.background(), instructions)},
			{Role: llm.RoleUser, Content: req.PromptText()},
		},
		Temperature:    c.config.Temperature,
		MaxTokens:      c.config.MaxTokens,
		ResponseFormat: &llm.ResponseFormat{Name: "RouterSchema", Schema: routerSchema},
	})
	if err != nil {
		return ClassifyResult{}, portError("classifier", err)
	}

	var result ClassifyResult
	if err := decodeStructured(resp, &result); err != nil {
		return ClassifyResult{}, portError("classifier", err)
	}
	c.logger.Debug("email classified",
		zap.String("classification", string(result.Classification)),
		zap.String("subject", req.Subject),
	)
	return result, nil
}

// =============================================================================
// Proposer
// =============================================================================

// LLMProposer proposes tool calls with native function calling.
type LLMProposer struct {
	provider llm.Provider
	config   LLMConfig
	tools    []llm.ToolSchema
	logger   *zap.Logger
}

// NewLLMProposer creates a proposer offering schemas as callable tools.
func NewLLMProposer(provider llm.Provider, schemas []types.ToolSchema, config LLMConfig, logger *zap.Logger) *LLMProposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	tools := make([]llm.ToolSchema, 0, len(schemas))
	for _, s := range schemas {
		tools = append(tools, llm.ToolSchema{Name: s.Name, Description: s.Description, Parameters: s.Parameters})
	}
	return &LLMProposer{
		provider: provider,
		config:   config,
		tools:    tools,
		logger:   logger.With(zap.String("component", "proposer")),
	}
}

func (p *LLMProposer) Propose(ctx context.Context, conversation []types.Message, instructions string) (types.Message, error) {
	messages := make([]llm.Message, 0, len(conversation)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: agentSystemPrompt(p.config.background(), instructions)})
	messages = append(messages, ToLLMMessages(conversation)...)

	resp, err := p.provider.Completion(ctx, &llm.ChatRequest{
		TraceID:     traceID(ctx),
		Model:       p.config.Model,
		Messages:    messages,
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
		Tools:       p.tools,
		ToolChoice:  "required",
	})
	if err != nil {
		return types.Message{}, portError("proposer", err)
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return types.Message{}, portError("proposer", err)
	}

	msg := FromLLMMessage(choice.Message)
	p.logger.Debug("action proposed",
		zap.Int("tool_calls", len(msg.ToolCalls)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
	)
	return msg, nil
}

// =============================================================================
// Reviser
// =============================================================================

// LLMReviser revises preference profiles with a structured-output completion.
type LLMReviser struct {
	provider llm.Provider
	config   LLMConfig
	logger   *zap.Logger
}

// NewLLMReviser creates a reviser backed by provider.
func NewLLMReviser(provider llm.Provider, config LLMConfig, logger *zap.Logger) *LLMReviser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMReviser{
		provider: provider,
		config:   config,
		logger:   logger.With(zap.String("component", "reviser")),
	}
}

func (r *LLMReviser) Revise(ctx context.Context, req RevisionRequest) (Revision, error) {
	messages := make([]llm.Message, 0, len(req.Feedback)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: memorySystemPrompt(req.Namespace, req.Current)})
	messages = append(messages, ToLLMMessages(req.Feedback)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: MemoryUpdateReminder})

	resp, err := r.provider.Completion(ctx, &llm.ChatRequest{
		TraceID:        traceID(ctx),
		Model:          r.config.Model,
		Messages:       messages,
		MaxTokens:      r.config.MaxTokens,
		ResponseFormat: &llm.ResponseFormat{Name: "UserPreferences", Schema: preferencesSchema},
	})
	if err != nil {
		return Revision{}, portError("reviser", err)
	}

	var rev Revision
	if err := decodeStructured(resp, &rev); err != nil {
		return Revision{}, portError("reviser", err)
	}
	r.logger.Debug("preferences revised",
		zap.String("namespace", req.Namespace),
		zap.String("reasoning", rev.Reasoning),
	)
	return rev, nil
}

// =============================================================================
// helpers
// =============================================================================

func decodeStructured(resp *llm.ChatResponse, v any) error {
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return err
	}
	content := strings.TrimSpace(choice.Message.Content)
	// 部分兼容服务会把 JSON 包在代码块里
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), v); err != nil {
		return &llm.Error{
			Code:      llm.ErrMalformedResponse,
			Message:   fmt.Sprintf("decode structured output: %v", err),
			Retryable: true,
			Provider:  resp.Provider,
		}
	}
	return nil
}

// portError 把 Provider 错误包装为 PORT_FAILURE，保留可重试标记.
func portError(port string, err error) error {
	return types.WrapError(err, types.ErrPortFailure, port+" call failed").
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(llm.IsRetryable(err))
}

func traceID(ctx context.Context) string {
	id, _ := types.TraceID(ctx)
	return id
}

// ToLLMMessages converts conversation messages to provider messages.
func ToLLMMessages(msgs []types.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		lm := llm.Message{
			Role:       llm.Role(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		out = append(out, lm)
	}
	return out
}

// FromLLMMessage converts a provider message to an assistant conversation message.
func FromLLMMessage(m llm.Message) types.Message {
	msg := types.NewAssistantMessage(m.Content)
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return msg
}
