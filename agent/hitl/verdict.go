package hitl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/hitlflow/types"
)

// VerdictType 审核结论类型.
type VerdictType string

const (
	VerdictAccept  VerdictType = "accept"
	VerdictEdit    VerdictType = "edit"
	VerdictRespond VerdictType = "response"
	VerdictIgnore  VerdictType = "ignore"
)

// Verdict 是审核人对一个中断给出的结论.
//
// Edit 携带替换后的完整参数对象，Respond 携带自由文本反馈.
// InterruptID 必填，必须与对应位置的待审核中断一致；重放的结论因此不会
// 作用到之后产生的新中断上.
type Verdict struct {
	Type        VerdictType     `json:"type"`
	Args        json.RawMessage `json:"args,omitempty"`
	Feedback    string          `json:"feedback,omitempty"`
	InterruptID string          `json:"interrupt_id,omitempty"`
}

// Accept 构造 accept 结论.
func Accept() Verdict { return Verdict{Type: VerdictAccept} }

// Edit 构造 edit 结论.
func Edit(args json.RawMessage) Verdict { return Verdict{Type: VerdictEdit, Args: args} }

// Respond 构造 response 结论.
func Respond(feedback string) Verdict { return Verdict{Type: VerdictRespond, Feedback: feedback} }

// Ignore 构造 ignore 结论.
func Ignore() Verdict { return Verdict{Type: VerdictIgnore} }

// For binds the verdict to the interrupt it answers.
func (v Verdict) For(interruptID string) Verdict {
	v.InterruptID = interruptID
	return v
}

// Validate checks the verdict shape and that policy permits it.
func (v Verdict) Validate(policy ReviewPolicy) error {
	switch v.Type {
	case VerdictAccept, VerdictIgnore:
	case VerdictEdit:
		trimmed := bytes.TrimSpace(v.Args)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return types.NewInvalidVerdictError("edit verdict requires an argument object")
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return types.NewInvalidVerdictError("edit verdict arguments are not valid JSON").WithCause(err)
		}
	case VerdictRespond:
		if strings.TrimSpace(v.Feedback) == "" {
			return types.NewInvalidVerdictError("response verdict requires feedback text")
		}
	default:
		return types.NewInvalidVerdictError(fmt.Sprintf("unknown verdict type %q", v.Type))
	}
	if !policy.Allows(v.Type) {
		return types.NewInvalidVerdictError(fmt.Sprintf("verdict %q is not allowed by the review policy", v.Type))
	}
	return nil
}

// ValidateBatch 校验结论列表与待审核中断一一对应（数量、顺序、策略）.
// 任一结论不合法时整批拒绝，调用方不得在此之前修改任何状态.
func ValidateBatch(pending []*Interrupt, verdicts []Verdict) error {
	if len(pending) == 0 {
		return types.NewInvalidVerdictError("no interrupts await a verdict")
	}
	if len(verdicts) != len(pending) {
		return types.NewInvalidVerdictError(fmt.Sprintf("expected %d verdict(s), got %d", len(pending), len(verdicts)))
	}
	for i, v := range verdicts {
		if err := v.Validate(pending[i].Config); err != nil {
			e, _ := types.AsError(err)
			e.Message = fmt.Sprintf("verdict %d for %s: %s", i, pending[i].ActionRequest.Action, e.Message)
			return e
		}
	}
	return nil
}
