package tokenizer

import "unicode"

// 按 OpenAI 对话格式估算的固定开销
const (
	messageOverhead = 3
	replyPriming    = 3
	// 一个英文词片平均长度
	runeRunPerToken = 4
)

// EstimatorTokenizer 在 tiktoken 编码表不可用时做离线估算.
// 邮件正文按词片计数，工具参数 JSON 里的标点各算一个 token，汉字/假名/谚文逐字计数。
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

// NewEstimatorTokenizer creates an estimator; maxTokens <= 0 means 4096.
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &EstimatorTokenizer{model: model, maxTokens: maxTokens}
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	tokens, run := 0, 0
	flush := func() {
		if run > 0 {
			tokens += (run + runeRunPerToken - 1) / runeRunPerToken
			run = 0
		}
	}
	for _, r := range text {
		switch {
		case isIdeographic(r):
			flush()
			tokens++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			run++
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			tokens++
		}
	}
	flush()
	return tokens, nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := replyPriming
	for _, msg := range messages {
		n, err := e.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += n + messageOverhead
	}
	return total, nil
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }

func (e *EstimatorTokenizer) Name() string { return "estimator" }

func isIdeographic(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
