package memory

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/hitlflow/tools"
	"github.com/BaSui01/hitlflow/types"
)

// Feedback 是一次偏好修订请求：目标命名空间与描述审核人意图的消息.
type Feedback struct {
	Namespace string
	Messages  []types.Message
}

func userFeedback(namespace, content string) Feedback {
	return Feedback{Namespace: namespace, Messages: []types.Message{types.NewUserMessage(content)}}
}

// NotifyRespondFeedback 审核人选择回复一封被判为 notify 的邮件.
func NotifyRespondFeedback(emailMarkdown, feedback string) Feedback {
	return userFeedback(NamespaceTriage, fmt.Sprintf(
		"The user chose to reply to an email that was classified as 'notify'.\n\n%s\n\nUser feedback: %s\n\n"+
			"Update the triage preferences so that similar emails are classified as 'respond'.",
		emailMarkdown, feedback))
}

// NotifyIgnoreFeedback 审核人忽略了一封被判为 notify 的邮件.
func NotifyIgnoreFeedback(emailMarkdown string) Feedback {
	return userFeedback(NamespaceTriage, fmt.Sprintf(
		"The user dismissed an email that was classified as 'notify'.\n\n%s\n\n"+
			"Update the triage preferences so that similar emails are classified as 'ignore'.",
		emailMarkdown))
}

// ActionEditFeedback 审核人修改了提议的动作参数. 只有邮件与日程动作会产生反馈.
func ActionEditFeedback(action string, original, edited json.RawMessage) (Feedback, bool) {
	ns, what, ok := actionNamespace(action)
	if !ok {
		return Feedback{}, false
	}
	return userFeedback(ns, fmt.Sprintf(
		"The user edited the proposed %s before approving it.\n\nProposed arguments:\n%s\n\nApproved arguments:\n%s\n\n"+
			"Update the %s with anything the edit reveals about what the user wants.",
		what, string(original), string(edited), readableNamespace(ns))), true
}

// ActionRespondFeedback 审核人拒绝了提议的动作并给出反馈.
func ActionRespondFeedback(action string, args json.RawMessage, feedback string) (Feedback, bool) {
	ns, what, ok := actionNamespace(action)
	if !ok {
		return Feedback{}, false
	}
	return userFeedback(ns, fmt.Sprintf(
		"The user sent back the proposed %s with feedback instead of approving it.\n\nProposed arguments:\n%s\n\nUser feedback: %s\n\n"+
			"Update the %s with anything the feedback reveals about what the user wants.",
		what, string(args), feedback, readableNamespace(ns))), true
}

// ActionIgnoreFeedback 审核人忽略了动作，说明这封邮件本不应被判为 respond.
func ActionIgnoreFeedback(action, emailMarkdown string) Feedback {
	return userFeedback(NamespaceTriage, fmt.Sprintf(
		"The user ignored the proposed %s call for this email and ended the workflow.\n\n%s\n\n"+
			"Update the triage preferences so that similar emails are not classified as 'respond'.",
		action, emailMarkdown))
}

func actionNamespace(action string) (namespace, what string, ok bool) {
	switch action {
	case tools.ActionWriteEmail:
		return NamespaceResponse, "email reply", true
	case tools.ActionScheduleMeeting:
		return NamespaceCalendar, "meeting invitation", true
	default:
		return "", "", false
	}
}

func readableNamespace(ns string) string {
	switch ns {
	case NamespaceResponse:
		return "response preferences"
	case NamespaceCalendar:
		return "calendar preferences"
	default:
		return "triage preferences"
	}
}
