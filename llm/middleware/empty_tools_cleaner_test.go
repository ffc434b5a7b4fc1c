package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/hitlflow/agent/ports"
	llmpkg "github.com/BaSui01/hitlflow/llm"
	"github.com/BaSui01/hitlflow/testutil/fixtures"
	"github.com/BaSui01/hitlflow/testutil/mocks"
	"github.com/BaSui01/hitlflow/tools"
	"github.com/BaSui01/hitlflow/types"
)

// strayToolChoice 模拟上游网关给每个请求补默认 tool_choice.
func strayToolChoice(next Handler) Handler {
	return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
		if req.ToolChoice == "" {
			req.ToolChoice = "auto"
		}
		return next(ctx, req)
	}
}

type rewriterFunc func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error)

func (f rewriterFunc) Rewrite(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	return f(ctx, req)
}

func (f rewriterFunc) Name() string { return "func" }

// cleanedProvider 按服务端的装配顺序把清理器放在 provider 之前.
func cleanedProvider(upstream *mocks.MockProvider) llmpkg.Provider {
	return NewChain(
		strayToolChoice,
		RewriteMiddleware(NewRewriterChain(NewEmptyToolsCleaner())),
	).Wrap(upstream)
}

func TestEmptyToolsCleaner_StructuredOutputCalls(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("classify", func(t *testing.T) {
		upstream := mocks.NewMockProvider().
			WithResponse(`{"reasoning":"direct question","classification":"respond"}`)
		classifier := ports.NewLLMClassifier(cleanedProvider(upstream), ports.LLMConfig{}, logger)

		res, err := classifier.Classify(ctx, fixtures.APIQuestionEmail, "")
		require.NoError(t, err)
		assert.Equal(t, ports.ClassificationRespond, res.Classification)

		calls := upstream.Calls()
		require.Len(t, calls, 1)
		assert.Empty(t, calls[0].Tools)
		assert.Empty(t, calls[0].ToolChoice)
		require.NotNil(t, calls[0].ResponseFormat)
		assert.Equal(t, "RouterSchema", calls[0].ResponseFormat.Name)
	})

	t.Run("revise", func(t *testing.T) {
		upstream := mocks.NewMockProvider().
			WithResponse(`{"chain_of_thought":"user prefers short replies","user_preferences":"Keep replies short."}`)
		reviser := ports.NewLLMReviser(cleanedProvider(upstream), ports.LLMConfig{}, logger)

		rev, err := reviser.Revise(ctx, ports.RevisionRequest{
			Namespace: "response_preferences",
			Current:   "Be polite.",
			Feedback:  []types.Message{{Role: types.RoleUser, Content: "shorter please"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Keep replies short.", rev.Preferences)

		calls := upstream.Calls()
		require.Len(t, calls, 1)
		assert.Empty(t, calls[0].ToolChoice)
		require.NotNil(t, calls[0].ResponseFormat)
		assert.Equal(t, "UserPreferences", calls[0].ResponseFormat.Name)
	})
}

func TestEmptyToolsCleaner_KeepsProposerToolChoice(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := tools.NewDefaultRegistry(logger)

	upstream := mocks.NewMockProvider().Enqueue(mocks.ToolCallResponse(llmpkg.ToolCall{
		ID:        "call-1",
		Name:      "Done",
		Arguments: json.RawMessage(`{"done":true}`),
	}))
	proposer := ports.NewLLMProposer(cleanedProvider(upstream), registry.Schemas(), ports.LLMConfig{}, logger)

	msg, err := proposer.Propose(context.Background(), []types.Message{{Role: types.RoleUser, Content: "Respond to the email"}}, "")
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)

	calls := upstream.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "required", calls[0].ToolChoice)
	assert.Len(t, calls[0].Tools, len(registry.Schemas()))
	assert.Nil(t, calls[0].ResponseFormat)
}

func TestEmptyToolsCleaner_NilRequest(t *testing.T) {
	cleaner := NewEmptyToolsCleaner()
	assert.Equal(t, "empty_tools_cleaner", cleaner.Name())

	got, err := cleaner.Rewrite(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRewriteMiddleware_FailureIsInvalidRequest(t *testing.T) {
	upstream := mocks.NewMockProvider().WithResponse("unused")
	boom := errors.New("unsupported parameter")
	provider := NewChain(RewriteMiddleware(NewRewriterChain(
		NewEmptyToolsCleaner(),
		rewriterFunc(func(context.Context, *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) { return nil, boom }),
	))).Wrap(upstream)

	_, err := provider.Completion(context.Background(), &llmpkg.ChatRequest{})
	require.Error(t, err)

	var llmErr *llmpkg.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llmpkg.ErrInvalidRequest, llmErr.Code)
	assert.Equal(t, 400, llmErr.HTTPStatus)
	assert.Contains(t, llmErr.Message, "rewriter [func] failed")
	assert.Zero(t, upstream.CallCount())
}

func TestRewriterChain_NilChainPassesThrough(t *testing.T) {
	var chain *RewriterChain
	req := &llmpkg.ChatRequest{ToolChoice: "auto"}
	got, err := chain.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, req, got)
}
