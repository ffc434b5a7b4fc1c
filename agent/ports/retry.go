package ports

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/llm"
	"github.com/BaSui01/hitlflow/llm/retry"
	"github.com/BaSui01/hitlflow/types"
)

// RetryPolicy 返回只重试瞬时错误的策略：llm.Error 或 types.Error 标记为可重试的错误.
// 非法分类等语义错误不会被重试.
func RetryPolicy(base *retry.RetryPolicy) *retry.RetryPolicy {
	if base == nil {
		base = retry.DefaultRetryPolicy()
	}
	p := *base
	p.ShouldRetry = func(err error) bool {
		return llm.IsRetryable(err) || types.IsRetryable(err)
	}
	return &p
}

type retryingClassifier struct {
	next    Classifier
	retryer retry.Retryer
}

// WithClassifierRetry decorates c with exponential backoff.
func WithClassifierRetry(c Classifier, policy *retry.RetryPolicy, logger *zap.Logger) Classifier {
	return &retryingClassifier{next: c, retryer: retry.NewBackoffRetryer(RetryPolicy(policy), logger)}
}

func (r *retryingClassifier) Classify(ctx context.Context, request json.RawMessage, instructions string) (ClassifyResult, error) {
	return retry.DoTyped(ctx, r.retryer, func() (ClassifyResult, error) {
		return r.next.Classify(ctx, request, instructions)
	})
}

type retryingProposer struct {
	next    Proposer
	retryer retry.Retryer
}

// WithProposerRetry decorates p with exponential backoff.
func WithProposerRetry(p Proposer, policy *retry.RetryPolicy, logger *zap.Logger) Proposer {
	return &retryingProposer{next: p, retryer: retry.NewBackoffRetryer(RetryPolicy(policy), logger)}
}

func (r *retryingProposer) Propose(ctx context.Context, conversation []types.Message, instructions string) (types.Message, error) {
	return retry.DoTyped(ctx, r.retryer, func() (types.Message, error) {
		return r.next.Propose(ctx, conversation, instructions)
	})
}

type retryingReviser struct {
	next    Reviser
	retryer retry.Retryer
}

// WithReviserRetry decorates rv with exponential backoff.
func WithReviserRetry(rv Reviser, policy *retry.RetryPolicy, logger *zap.Logger) Reviser {
	return &retryingReviser{next: rv, retryer: retry.NewBackoffRetryer(RetryPolicy(policy), logger)}
}

func (r *retryingReviser) Revise(ctx context.Context, req RevisionRequest) (Revision, error) {
	return retry.DoTyped(ctx, r.retryer, func() (Revision, error) {
		return r.next.Revise(ctx, req)
	})
}
