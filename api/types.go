package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/workflow"
)

// =============================================================================
// 线程调用
// =============================================================================

// InvokeRequest 开始一个新线程.
// @Description 以邮件请求启动线程
type InvokeRequest struct {
	// 原始邮件请求，字段 author/to/subject/email_thread
	Request json.RawMessage `json:"request" binding:"required"`
}

// ResumeRequest 以审核结论恢复挂起的线程.
// @Description 按挂起中断的顺序提交结论，每条结论须带 interrupt_id
type ResumeRequest struct {
	Verdicts []hitl.Verdict `json:"verdicts" binding:"required"`
}

// InvokeResponse 是 invoke/resume 的返回体.
type InvokeResponse struct {
	ThreadID   string            `json:"thread_id"`
	Status     workflow.Status   `json:"status"`
	Version    int64             `json:"version"`
	State      workflow.State    `json:"state"`
	Interrupts []*hitl.Interrupt `json:"interrupts,omitempty"`
}

// FromResult converts an engine result.
func FromResult(res *workflow.Result) InvokeResponse {
	return InvokeResponse{
		ThreadID:   res.ThreadID,
		Status:     res.Status,
		Version:    res.Version,
		State:      res.State,
		Interrupts: res.Interrupts,
	}
}

// ThreadSummary 线程列表项.
type ThreadSummary struct {
	ThreadID  string    `json:"thread_id"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ThreadListResponse 线程列表.
type ThreadListResponse struct {
	Threads []ThreadSummary `json:"threads"`
	Total   int             `json:"total"`
}

// =============================================================================
// 偏好记忆
// =============================================================================

// Preference 一个命名空间的偏好文本.
type Preference struct {
	Namespace string `json:"namespace"`
	Content   string `json:"content"`
}

// PutPreferenceRequest 覆盖命名空间内容.
type PutPreferenceRequest struct {
	Content string `json:"content" binding:"required"`
}

// =============================================================================
// 中断
// =============================================================================

// InterruptListResponse 待审核中断列表.
type InterruptListResponse struct {
	Interrupts []*hitl.Interrupt `json:"interrupts"`
	Total      int               `json:"total"`
}
