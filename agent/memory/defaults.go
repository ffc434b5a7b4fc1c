package memory

import "strings"

// 偏好命名空间.
const (
	NamespaceTriage   = "triage_preferences"
	NamespaceResponse = "response_preferences"
	NamespaceCalendar = "cal_preferences"
)

// DefaultTriagePreferences 是分类偏好的初始内容.
const DefaultTriagePreferences = `
Analyze the email and classify it into one of three categories:
- 'ignore': Spam, promotional emails, newsletters, auto-replies, or irrelevant content
- 'notify': URGENT alerts or critical issues that require immediate attention but no direct response from you (e.g., system alerts, production outages where ops team handles it)
- 'respond': Emails that require a reply from you (questions, meeting requests, status requests, action items, or anything asking you to do something)

Key guidelines:
- If the email asks a question or requests action from you -> 'respond'
- If it's urgent but someone else is handling it -> 'notify'
- If it's promotional or informational only -> 'ignore'
`

// DefaultResponsePreferences 是回复偏好的初始内容.
const DefaultResponsePreferences = `
- Keep responses professional and concise
- Match the tone of the incoming email
- Be helpful and actionable
`

// DefaultCalendarPreferences 是日程偏好的初始内容.
const DefaultCalendarPreferences = `
- Prefer morning meetings (9 AM - 12 PM)
- Avoid scheduling back-to-back meetings
- Leave buffer time between meetings
`

var defaults = map[string]string{
	NamespaceTriage:   strings.TrimSpace(DefaultTriagePreferences),
	NamespaceResponse: strings.TrimSpace(DefaultResponsePreferences),
	NamespaceCalendar: strings.TrimSpace(DefaultCalendarPreferences),
}

// Default returns the initial content of a known namespace.
func Default(namespace string) (string, bool) {
	d, ok := defaults[namespace]
	return d, ok
}

// Namespaces lists the namespaces that carry defaults.
func Namespaces() []string {
	return []string{NamespaceTriage, NamespaceResponse, NamespaceCalendar}
}
