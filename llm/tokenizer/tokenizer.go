package tokenizer

import (
	"sync"

	"go.uber.org/zap"
)

// Tokenizer是统一的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Message 是一个轻量级消息结构，避免依赖 types 包.
type Message struct {
	Role    string
	Content string
}

// ForModel 返回模型对应的分词器：优先 tiktoken，编码数据不可用时
// （例如离线环境首次下载失败）自动回退到估算器。
func ForModel(model string, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fallbackTokenizer{
		primary:   NewTiktokenTokenizer(model),
		secondary: NewEstimatorTokenizer(model, 0),
		logger:    logger.With(zap.String("component", "tokenizer")),
	}
}

type fallbackTokenizer struct {
	primary   Tokenizer
	secondary Tokenizer
	logger    *zap.Logger

	once   sync.Once
	failed bool
}

func (f *fallbackTokenizer) active() Tokenizer {
	f.once.Do(func() {
		if _, err := f.primary.CountTokens("probe"); err != nil {
			f.failed = true
			f.logger.Warn("tiktoken unavailable, using estimator", zap.Error(err))
		}
	})
	if f.failed {
		return f.secondary
	}
	return f.primary
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	return f.active().CountTokens(text)
}

func (f *fallbackTokenizer) CountMessages(messages []Message) (int, error) {
	return f.active().CountMessages(messages)
}

func (f *fallbackTokenizer) MaxTokens() int { return f.primary.MaxTokens() }

func (f *fallbackTokenizer) Name() string { return f.active().Name() }
