package ports

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/hitlflow/types"
)

// Classification 是分类端口的封闭结果集合.
type Classification string

const (
	ClassificationIgnore  Classification = "ignore"
	ClassificationNotify  Classification = "notify"
	ClassificationRespond Classification = "respond"
)

// Valid reports whether c belongs to the closed enumeration.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationIgnore, ClassificationNotify, ClassificationRespond:
		return true
	}
	return false
}

// ClassifyResult 分类结果.
type ClassifyResult struct {
	Classification Classification `json:"classification"`
	Reasoning      string         `json:"reasoning"`
}

// Classifier classifies an inbound request using the current triage preferences.
type Classifier interface {
	Classify(ctx context.Context, request json.RawMessage, instructions string) (ClassifyResult, error)
}

// Proposer proposes the next assistant message for a conversation.
type Proposer interface {
	Propose(ctx context.Context, conversation []types.Message, instructions string) (types.Message, error)
}

// RevisionRequest 偏好修订请求.
type RevisionRequest struct {
	Namespace string
	Current   string
	Feedback  []types.Message
}

// Revision 修订结果. Reasoning 只用于日志.
type Revision struct {
	Reasoning   string `json:"chain_of_thought"`
	Preferences string `json:"user_preferences"`
}

// Reviser revises preference text from review feedback.
type Reviser interface {
	Revise(ctx context.Context, req RevisionRequest) (Revision, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, request json.RawMessage, instructions string) (ClassifyResult, error)

func (f ClassifierFunc) Classify(ctx context.Context, request json.RawMessage, instructions string) (ClassifyResult, error) {
	return f(ctx, request, instructions)
}

// ProposerFunc adapts a function to Proposer.
type ProposerFunc func(ctx context.Context, conversation []types.Message, instructions string) (types.Message, error)

func (f ProposerFunc) Propose(ctx context.Context, conversation []types.Message, instructions string) (types.Message, error) {
	return f(ctx, conversation, instructions)
}

// ReviserFunc adapts a function to Reviser.
type ReviserFunc func(ctx context.Context, req RevisionRequest) (Revision, error)

func (f ReviserFunc) Revise(ctx context.Context, req RevisionRequest) (Revision, error) {
	return f(ctx, req)
}
