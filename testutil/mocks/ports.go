package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BaSui01/hitlflow/agent/ports"
	"github.com/BaSui01/hitlflow/types"
)

// --- Classifier ---

// ClassifierCall 记录一次分类调用
type ClassifierCall struct {
	Request      json.RawMessage
	Instructions string
}

// ScriptedClassifier 按脚本返回分类结果，脚本耗尽后返回最后一个结果
type ScriptedClassifier struct {
	mu      sync.Mutex
	results []ports.ClassifyResult
	err     error
	calls   []ClassifierCall
}

// NewScriptedClassifier 创建脚本化分类端口
func NewScriptedClassifier(classes ...ports.Classification) *ScriptedClassifier {
	c := &ScriptedClassifier{}
	for _, cl := range classes {
		c.results = append(c.results, ports.ClassifyResult{Classification: cl, Reasoning: "scripted"})
	}
	return c
}

// WithError 让每次调用返回 err
func (c *ScriptedClassifier) WithError(err error) *ScriptedClassifier {
	c.err = err
	return c
}

func (c *ScriptedClassifier) Classify(_ context.Context, request json.RawMessage, instructions string) (ports.ClassifyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, ClassifierCall{Request: append(json.RawMessage(nil), request...), Instructions: instructions})
	if c.err != nil {
		return ports.ClassifyResult{}, c.err
	}
	if len(c.results) == 0 {
		return ports.ClassifyResult{}, fmt.Errorf("scripted classifier: no result configured")
	}
	res := c.results[0]
	if len(c.results) > 1 {
		c.results = c.results[1:]
	}
	return res, nil
}

// Calls returns the recorded calls.
func (c *ScriptedClassifier) Calls() []ClassifierCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ClassifierCall(nil), c.calls...)
}

// --- Proposer ---

// ProposerCall 记录一次提议调用
type ProposerCall struct {
	Conversation []types.Message
	Instructions string
}

// ScriptedProposer 依次返回预置的 assistant 消息，脚本耗尽后返回错误
type ScriptedProposer struct {
	mu      sync.Mutex
	replies []types.Message
	errs    []error
	calls   []ProposerCall
}

// NewScriptedProposer 创建脚本化提议端口
func NewScriptedProposer(replies ...types.Message) *ScriptedProposer {
	return &ScriptedProposer{replies: replies}
}

// Then 追加一条回复
func (p *ScriptedProposer) Then(msg types.Message) *ScriptedProposer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, msg)
	return p
}

// FailNext 让下一次调用返回 err 且不消耗回复
func (p *ScriptedProposer) FailNext(err error) *ScriptedProposer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
	return p
}

func (p *ScriptedProposer) Propose(_ context.Context, conversation []types.Message, instructions string) (types.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, ProposerCall{Conversation: types.CloneMessages(conversation), Instructions: instructions})
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return types.Message{}, err
	}
	if len(p.replies) == 0 {
		return types.Message{}, fmt.Errorf("scripted proposer: script exhausted")
	}
	msg := p.replies[0]
	p.replies = p.replies[1:]
	return msg.Clone(), nil
}

// Calls returns the recorded calls.
func (p *ScriptedProposer) Calls() []ProposerCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProposerCall(nil), p.calls...)
}

// ToolCallMessage 构造带工具调用的 assistant 消息，args 为 JSON 文本
func ToolCallMessage(calls ...types.ToolCall) types.Message {
	return types.NewAssistantMessage("").WithToolCalls(calls)
}

// Call 构造工具调用
func Call(id, name, args string) types.ToolCall {
	return types.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// --- Reviser ---

// RecordingReviser 记录修订请求，默认在原文后追加一行
type RecordingReviser struct {
	mu       sync.Mutex
	requests []ports.RevisionRequest
	fn       func(req ports.RevisionRequest) (ports.Revision, error)
}

// NewRecordingReviser 创建记录型修订端口
func NewRecordingReviser() *RecordingReviser {
	return &RecordingReviser{}
}

// WithFunc 替换默认修订逻辑
func (r *RecordingReviser) WithFunc(fn func(req ports.RevisionRequest) (ports.Revision, error)) *RecordingReviser {
	r.fn = fn
	return r
}

func (r *RecordingReviser) Revise(_ context.Context, req ports.RevisionRequest) (ports.Revision, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	fn := r.fn
	n := len(r.requests)
	r.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return ports.Revision{
		Reasoning:   "append",
		Preferences: fmt.Sprintf("%s\n- learned rule %d", req.Current, n),
	}, nil
}

// Requests returns recorded requests.
func (r *RecordingReviser) Requests() []ports.RevisionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ports.RevisionRequest(nil), r.requests...)
}

// Namespaces 返回按调用顺序记录的命名空间
func (r *RecordingReviser) Namespaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req.Namespace)
	}
	return out
}
