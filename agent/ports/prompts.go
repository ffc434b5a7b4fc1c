package ports

import (
	"fmt"
	"strings"
)

// DefaultBackground 是系统提示词中的用户背景.
const DefaultBackground = `
You are an AI assistant helping to manage emails for a professional.
`

// AgentToolsPrompt 描述可用工具与强制使用规则.
const AgentToolsPrompt = `
You have access to the following tools to help respond to emails:

Email Tools:
- write_email: Compose and send email responses (use this to draft your final reply)
- search_emails: Search through past emails to find information, context, or previous conversations

Calendar Tools:
- search_events: Search for existing calendar events (use when rescheduling or checking existing meetings)
- update_event: Update an existing calendar event (use when rescheduling meetings)
- schedule_meeting: Schedule new calendar meetings with attendees
- check_calendar_availability: Check available time slots for a given day

Human Interaction Tools:
- Question: Ask the user a question when you need clarification or additional information

MANDATORY TOOL USAGE RULES:
1. Meeting reschedule requests: You MUST call search_events to find the current meeting, then update_event to reschedule it.
2. Status/information requests: You MUST call search_emails to find the requested information.
3. New meeting scheduling: You MUST call check_calendar_availability first, then schedule_meeting.
4. When you need clarification: Use the Question tool to ask the user.
5. Final step: after you have successfully taken the action (sent email, scheduled meeting), call Done.

NEVER provide a generic response without using tools first.
`

// MemoryUpdateInstructions 约束修订端口只做追加或针对性更正.
const MemoryUpdateInstructions = `
# Role
You maintain the "%s" preference profile of an email assistant's user.

# Rules
- NEVER rewrite the profile from scratch.
- Keep every existing entry unless the feedback directly contradicts it.
- Add a new entry only for information the feedback makes explicit.
- Correct an entry in place when the feedback contradicts it; leave its neighbours untouched.
- Keep the existing format and ordering.
- Output the complete updated profile.

# Current profile
<profile>
%s
</profile>

Think about which entries the feedback touches, then return the full profile.
`

// MemoryUpdateReminder 追加在反馈消息之后，重申只做最小修改.
const MemoryUpdateReminder = "Remember: preserve every existing preference that the feedback does not contradict, and make only targeted additions or corrections."

func triageSystemPrompt(background, instructions string) string {
	return fmt.Sprintf("\n%s\n\n%s\n\nProvide your reasoning and classification.\n",
		strings.TrimSpace(background), strings.TrimSpace(instructions))
}

func agentSystemPrompt(background, instructions string) string {
	return fmt.Sprintf("\n%s\n\n%s\n\n%s\n",
		strings.TrimSpace(background), strings.TrimSpace(instructions), strings.TrimSpace(AgentToolsPrompt))
}

func memorySystemPrompt(namespace, current string) string {
	return fmt.Sprintf(MemoryUpdateInstructions, namespace, current)
}

// AgentInstructions joins the response and calendar preferences into the
// instructions text handed to the proposer.
func AgentInstructions(responsePreferences, calendarPreferences string) string {
	return strings.TrimSpace(responsePreferences) + "\n\n" + strings.TrimSpace(calendarPreferences)
}
