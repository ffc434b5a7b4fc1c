package tools

import (
	"encoding/json"

	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/types"
	"go.uber.org/zap"
)

type builtin struct {
	name        Action
	description string
	schema      json.RawMessage
	fn          HandlerFunc
	policy      hitl.ReviewPolicy
}

func builtins() []builtin {
	full := hitl.FullReviewPolicy()
	return []builtin{
		{ActionWriteEmail, "Compose and send email responses (use this to draft your final reply).", writeEmailSchema, WriteEmail, full},
		{ActionSearchEmails, "Search through past emails to find information, context, or previous conversations.", searchEmailsSchema, SearchEmails, hitl.ReviewPolicy{}},
		{ActionScheduleMeeting, "Schedule a calendar meeting.", scheduleMeetingSchema, ScheduleMeeting, full},
		{ActionCheckCalendar, "Check calendar availability for a given day.", checkCalendarSchema, CheckCalendarAvailability, hitl.ReviewPolicy{}},
		{ActionSearchEvents, "Search for calendar events.", searchEventsSchema, SearchEvents, hitl.ReviewPolicy{}},
		{ActionUpdateEvent, "Update an existing calendar event.", updateEventSchema, UpdateEvent, hitl.ReviewPolicy{}},
		{ActionQuestion, "Question to ask user when clarification or additional information is needed.", questionSchema, Question, hitl.RespondOrIgnorePolicy()},
		{ActionDone, "Signal that the email has been fully handled.", doneSchema, Done, hitl.ReviewPolicy{}},
	}
}

// NewDefaultRegistry 注册全部内置动作（占位实现）.
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	for _, b := range builtins() {
		meta := Metadata{
			Schema: types.ToolSchema{
				Name:        b.name,
				Description: b.description,
				Parameters:  b.schema,
			},
			RequiresReview: riskTable[b.name] == RiskReview,
			Policy:         b.policy,
		}
		if err := r.Register(b.name, b.fn, meta); err != nil {
			// 内置表与风险表由同一份代码维护，冲突属于编程错误
			panic(err)
		}
	}
	return r
}
