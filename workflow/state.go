package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/agent/ports"
	"github.com/BaSui01/hitlflow/internal/pool"
	"github.com/BaSui01/hitlflow/types"
)

// Node 是状态机中的节点.
type Node string

const (
	NodeTriage       Node = "triage"
	NodeNotifyReview Node = "notify_review"
	NodeAct          Node = "act"
	NodeActionReview Node = "action_review"
	NodeEnd          Node = "__end__"
)

// Status 是一次调用结束时线程所处的状态.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

// State 是线程的执行状态.
type State struct {
	// Request 是入站请求的原始载荷，引擎不解释其结构
	Request json.RawMessage `json:"request"`
	// Conversation 按追加顺序保存，挂起与恢复前后逐字保持
	Conversation []types.Message `json:"conversation"`
	// Classification 在分类节点写入一次
	Classification ports.Classification `json:"classification,omitempty"`
	// TerminationFlag 由 ignore 结论置位，本批处理完后结束工作流
	TerminationFlag bool `json:"termination_flag"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	cp := s
	if s.Request != nil {
		cp.Request = append(json.RawMessage(nil), s.Request...)
	}
	cp.Conversation = types.CloneMessages(s.Conversation)
	return cp
}

// lastAssistant returns the index of the latest assistant message, or -1.
func (s *State) lastAssistant() int {
	for i := len(s.Conversation) - 1; i >= 0; i-- {
		if s.Conversation[i].Role == types.RoleAssistant {
			return i
		}
	}
	return -1
}

func (s *State) append(msgs ...types.Message) {
	s.Conversation = append(s.Conversation, msgs...)
}

// Checkpoint 是挂起标记：等待恢复的节点与本批待审核中断.
// 线程完成后检查点为空.
type Checkpoint struct {
	Node    Node              `json:"node"`
	Pending []*hitl.Interrupt `json:"pending"`
}

// snapshot is the persisted layout of one thread.
type snapshot struct {
	State      State        `json:"state"`
	Checkpoint *Checkpoint  `json:"checkpoint,omitempty"`
	History    []NodeRecord `json:"history,omitempty"`
}

func encodeSnapshot(s *snapshot) (json.RawMessage, error) {
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(s); err != nil {
		return nil, fmt.Errorf("encode thread snapshot: %w", err)
	}
	out := make(json.RawMessage, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decodeSnapshot(data json.RawMessage) (*snapshot, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode thread snapshot: %w", err)
	}
	return &s, nil
}

// Input 是 Invoke 的输入：首次调用携带 Request，恢复调用携带 Verdicts.
type Input struct {
	Request  json.RawMessage `json:"request,omitempty"`
	Verdicts []hitl.Verdict  `json:"verdicts,omitempty"`
}

// Result 是一次调用的结果.
type Result struct {
	ThreadID   string            `json:"thread_id"`
	Status     Status            `json:"status"`
	State      State             `json:"state"`
	Interrupts []*hitl.Interrupt `json:"interrupts,omitempty"`
	Version    int64             `json:"version"`
}

// ThreadState 是 GetState 返回的线程视图.
type ThreadState struct {
	ThreadID string            `json:"thread_id"`
	Status   Status            `json:"status"`
	State    State             `json:"state"`
	Next     []Node            `json:"next"`
	Pending  []*hitl.Interrupt `json:"pending,omitempty"`
	History  []NodeRecord      `json:"history,omitempty"`
	Version  int64             `json:"version"`
	Created  time.Time         `json:"created_at"`
	Updated  time.Time         `json:"updated_at"`
}
