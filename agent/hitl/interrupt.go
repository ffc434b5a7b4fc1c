package hitl

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InterruptKind 区分通知审核与动作审核.
type InterruptKind string

const (
	InterruptKindNotify InterruptKind = "notify"
	InterruptKindAction InterruptKind = "action"
)

// InterruptStatus 代表中断状态.
type InterruptStatus string

const (
	InterruptStatusPending  InterruptStatus = "pending"
	InterruptStatusResolved InterruptStatus = "resolved"
)

// NotifyActionName is the action name carried by notification interrupts.
const NotifyActionName = "Email Assistant: notify"

// ReviewPolicy 限定审核人可以给出的结论类型.
type ReviewPolicy struct {
	AllowAccept  bool `json:"allow_accept"`
	AllowEdit    bool `json:"allow_edit"`
	AllowRespond bool `json:"allow_respond"`
	AllowIgnore  bool `json:"allow_ignore"`
}

// FullReviewPolicy allows every verdict type.
func FullReviewPolicy() ReviewPolicy {
	return ReviewPolicy{AllowAccept: true, AllowEdit: true, AllowRespond: true, AllowIgnore: true}
}

// RespondOrIgnorePolicy 只允许反馈或忽略，用于通知与提问.
func RespondOrIgnorePolicy() ReviewPolicy {
	return ReviewPolicy{AllowRespond: true, AllowIgnore: true}
}

// Allows reports whether the policy permits verdict type vt.
func (p ReviewPolicy) Allows(vt VerdictType) bool {
	switch vt {
	case VerdictAccept:
		return p.AllowAccept
	case VerdictEdit:
		return p.AllowEdit
	case VerdictRespond:
		return p.AllowRespond
	case VerdictIgnore:
		return p.AllowIgnore
	default:
		return false
	}
}

// Allowed lists the permitted verdict types in canonical order.
func (p ReviewPolicy) Allowed() []VerdictType {
	var out []VerdictType
	for _, vt := range []VerdictType{VerdictAccept, VerdictEdit, VerdictRespond, VerdictIgnore} {
		if p.Allows(vt) {
			out = append(out, vt)
		}
	}
	return out
}

// ActionRequest 是提交给审核人的动作（工具名 + 参数）.
type ActionRequest struct {
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args"`
}

// Interrupt 代表一个等待人工审核的挂起点.
type Interrupt struct {
	ID            string          `json:"id"`
	ThreadID      string          `json:"thread_id"`
	Kind          InterruptKind   `json:"kind"`
	ToolCallID    string          `json:"tool_call_id,omitempty"`
	ActionRequest ActionRequest   `json:"action_request"`
	Config        ReviewPolicy    `json:"config"`
	Description   string          `json:"description"`
	Status        InterruptStatus `json:"status"`
	Verdict       *Verdict        `json:"verdict,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// NewNotifyInterrupt 创建通知审核中断，参数为空对象.
func NewNotifyInterrupt(threadID, description string) *Interrupt {
	return &Interrupt{
		ID:            generateInterruptID(),
		ThreadID:      threadID,
		Kind:          InterruptKindNotify,
		ActionRequest: ActionRequest{Action: NotifyActionName, Args: json.RawMessage(`{}`)},
		Config:        RespondOrIgnorePolicy(),
		Description:   description,
		Status:        InterruptStatusPending,
		CreatedAt:     time.Now(),
	}
}

// NewActionInterrupt 为一次高风险工具调用创建审核中断.
func NewActionInterrupt(threadID, toolCallID, action string, args json.RawMessage, policy ReviewPolicy, description string) *Interrupt {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return &Interrupt{
		ID:            generateInterruptID(),
		ThreadID:      threadID,
		Kind:          InterruptKindAction,
		ToolCallID:    toolCallID,
		ActionRequest: ActionRequest{Action: action, Args: append(json.RawMessage(nil), args...)},
		Config:        policy,
		Description:   description,
		Status:        InterruptStatusPending,
		CreatedAt:     time.Now(),
	}
}

// Resolve marks the interrupt as consumed by verdict v.
func (i *Interrupt) Resolve(v Verdict) {
	now := time.Now()
	i.Status = InterruptStatusResolved
	i.Verdict = &v
	i.ResolvedAt = &now
}

// IsPending reports whether the interrupt still awaits a verdict.
func (i *Interrupt) IsPending() bool {
	return i.Status == InterruptStatusPending
}

func generateInterruptID() string {
	return "int_" + uuid.NewString()
}
