package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 为 OpenAI 系列模型提供精确计数.
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int

	enc     *tiktoken.Tiktoken
	once    sync.Once
	initErr error
}

type encodingInfo struct {
	encoding  string
	maxTokens int
}

// modelEncodings 按前缀匹配，较长的前缀排在前面.
var modelEncodings = []struct {
	prefix string
	info   encodingInfo
}{
	{"gpt-4.1", encodingInfo{"o200k_base", 1047576}},
	{"gpt-4o", encodingInfo{"o200k_base", 128000}},
	{"o3", encodingInfo{"o200k_base", 200000}},
	{"o4", encodingInfo{"o200k_base", 200000}},
	{"gpt-4-turbo", encodingInfo{"cl100k_base", 128000}},
	{"gpt-4", encodingInfo{"cl100k_base", 8192}},
	{"gpt-3.5-turbo", encodingInfo{"cl100k_base", 16385}},
}

// NewTiktokenTokenizer 创建分词器，未知模型使用 cl100k_base.
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	info := encodingInfo{encoding: "cl100k_base", maxTokens: 8192}
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			info = m.info
			break
		}
	}
	return &TiktokenTokenizer{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}
}

// init 延迟加载编码（首次使用时可能需要下载 BPE 数据）.
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}

	total := 0
	for _, msg := range messages {
		// 每条消息的开销: <|start|>role\n content<|end|>\n
		total += 4
		total += len(t.enc.Encode(msg.Content, nil, nil))
		total += len(t.enc.Encode(msg.Role, nil, nil))
	}
	total += 3 // conversation-end overhead
	return total, nil
}

func (t *TiktokenTokenizer) MaxTokens() int {
	return t.maxTokens
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
