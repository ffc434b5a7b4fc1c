package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/BaSui01/hitlflow/internal/metrics"
	llmpkg "github.com/BaSui01/hitlflow/llm"
	"github.com/BaSui01/hitlflow/testutil/mocks"
)

func request() *llmpkg.ChatRequest {
	return &llmpkg.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []llmpkg.Message{{Role: llmpkg.RoleUser, Content: "hi"}},
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	chain := NewChain(mark("b")).UseFront(mark("a")).Use(mark("c"))
	assert.Equal(t, 3, chain.Len())

	h := chain.Then(func(context.Context, *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
		order = append(order, "handler")
		return mocks.TextResponse("ok"), nil
	})
	_, err := h(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestChain_WrapKeepsProviderIdentity(t *testing.T) {
	provider := mocks.NewMockProvider().WithName("mock-a").WithResponse("hello")
	wrapped := NewChain(LoggingMiddleware(zaptest.NewLogger(t)), RecoveryMiddleware(nil)).Wrap(provider)

	assert.Equal(t, "mock-a", wrapped.Name())
	resp, err := wrapped.Completion(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, 1, provider.CallCount())
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zaptest.NewLogger(t))(func(context.Context, *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
		panic("boom")
	})
	_, err := h(context.Background(), request())
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
}

func TestTimeoutMiddleware(t *testing.T) {
	slow := mocks.NewMockProvider().WithDelay(time.Second)
	h := TimeoutMiddleware(20 * time.Millisecond)(slow.Completion)

	_, err := h(context.Background(), request())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	req := request()
	req.Timeout = 10 * time.Millisecond
	_, err = TimeoutMiddleware(time.Hour)(slow.Completion)(context.Background(), req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("mwtest", reg, zaptest.NewLogger(t))

	ok := mocks.NewMockProvider()
	_, err := MetricsMiddleware(collector, "mock")(ok.Completion)(context.Background(), request())
	require.NoError(t, err)

	failing := mocks.NewMockProvider().WithError(errors.New("down"))
	_, err = MetricsMiddleware(collector, "mock")(failing.Completion)(context.Background(), request())
	require.Error(t, err)

	n, err := testutil.GatherAndCount(reg, "mwtest_llm_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	h := RateLimitMiddleware(limiter)(mocks.NewMockProvider().Completion)

	_, err := h(context.Background(), request())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h(ctx, request())
	assert.True(t, llmpkg.IsRetryable(err))
}

func TestTracingMiddleware(t *testing.T) {
	h := TracingMiddleware(noop.NewTracerProvider().Tracer("test"))(mocks.NewMockProvider().Completion)
	resp, err := h(context.Background(), request())
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestValidatorAndRewriteMiddleware(t *testing.T) {
	provider := mocks.NewMockProvider()
	h := NewChain(
		ValidatorMiddleware(RequireMessages),
		RewriteMiddleware(NewRewriterChain(NewEmptyToolsCleaner())),
	).Then(provider.Completion)

	_, err := h(context.Background(), &llmpkg.ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 0, provider.CallCount())

	req := request()
	req.ToolChoice = "required"
	_, err = h(context.Background(), req)
	require.NoError(t, err)
	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].ToolChoice)
}
