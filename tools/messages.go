package tools

import "fmt"

// IgnoreMessage 返回审核人忽略某个动作时写入的工具消息.
func IgnoreMessage(name string) string {
	switch name {
	case ActionWriteEmail:
		return "User ignored this email draft. Ignore this email and end the workflow."
	case ActionScheduleMeeting:
		return "User ignored this calendar meeting draft. Ignore this email and end the workflow."
	case ActionQuestion:
		return "User ignored this question. Ignore this email and end the workflow."
	default:
		return "User ignored this action. End the workflow."
	}
}

// FeedbackMessage 返回审核人给出反馈时写入的工具消息.
func FeedbackMessage(name, feedback string) string {
	switch name {
	case ActionWriteEmail:
		return fmt.Sprintf("User gave feedback, which we can incorporate into the email. Feedback: %s", feedback)
	case ActionScheduleMeeting:
		return fmt.Sprintf("User gave feedback, which we can incorporate into the meeting request. Feedback: %s", feedback)
	case ActionQuestion:
		return fmt.Sprintf("User answered the question, which we can use for any follow up actions. Feedback: %s", feedback)
	default:
		return fmt.Sprintf("User provided feedback: %s", feedback)
	}
}

// ErrorMessage formats a handler failure as tool message content.
func ErrorMessage(err error) string {
	return "Error: " + err.Error()
}
