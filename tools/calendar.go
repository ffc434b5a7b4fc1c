package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduleMeetingArgs schedule_meeting 参数.
type ScheduleMeetingArgs struct {
	Attendees       []string `json:"attendees"`
	Subject         string   `json:"subject"`
	DurationMinutes int      `json:"duration_minutes"`
	PreferredDay    string   `json:"preferred_day"`
	StartTime       int      `json:"start_time"`
}

// CheckCalendarArgs check_calendar_availability 参数.
type CheckCalendarArgs struct {
	Day string `json:"day"`
}

// SearchEventsArgs search_events 参数.
type SearchEventsArgs struct {
	Query     string `json:"query"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// UpdateEventArgs update_event 参数.
type UpdateEventArgs struct {
	EventID      string `json:"event_id"`
	NewStartTime string `json:"new_start_time,omitempty"`
	NewDate      string `json:"new_date,omitempty"`
}

var scheduleMeetingSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "attendees": {"type": "array", "items": {"type": "string"}, "description": "List of attendee email addresses"},
    "subject": {"type": "string", "description": "Meeting subject/title"},
    "duration_minutes": {"type": "integer", "description": "Meeting duration in minutes"},
    "preferred_day": {"type": "string", "format": "date", "description": "Preferred date for the meeting"},
    "start_time": {"type": "integer", "description": "Meeting start time (hour in 24h format)"}
  },
  "required": ["attendees", "subject", "duration_minutes", "preferred_day", "start_time"]
}`)

var checkCalendarSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "day": {"type": "string", "description": "The day to check, e.g. \"Monday\" or \"2024-12-09\""}
  },
  "required": ["day"]
}`)

var searchEventsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query (subject, attendee name)"},
    "start_date": {"type": "string", "description": "Optional start date to search from"},
    "end_date": {"type": "string", "description": "Optional end date to search until"}
  },
  "required": ["query"]
}`)

var updateEventSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "event_id": {"type": "string", "description": "ID of the event to update"},
    "new_start_time": {"type": "string", "description": "New start time for the event"},
    "new_date": {"type": "string", "description": "New date for the event"}
  },
  "required": ["event_id"]
}`)

// 接受的日期格式，依次尝试.
var dayLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// formatDay renders preferred_day as "Monday, January 02, 2006" when it parses.
func formatDay(day string) string {
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, day); err == nil {
			return t.Format("Monday, January 02, 2006")
		}
	}
	return day
}

// ScheduleMeeting 占位实现.
func ScheduleMeeting(_ context.Context, raw json.RawMessage) (string, error) {
	var args ScheduleMeetingArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	return fmt.Sprintf("Meeting '%s' scheduled on %s at %d for %d minutes with %d attendees",
		args.Subject, formatDay(args.PreferredDay), args.StartTime, args.DurationMinutes, len(args.Attendees)), nil
}

// CheckCalendarAvailability 占位实现.
func CheckCalendarAvailability(_ context.Context, raw json.RawMessage) (string, error) {
	var args CheckCalendarArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	return fmt.Sprintf("Available times on %s: 9:00 AM, 2:00 PM, 4:00 PM", args.Day), nil
}

// SearchEvents 占位实现.
func SearchEvents(_ context.Context, raw json.RawMessage) (string, error) {
	var args SearchEventsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	return fmt.Sprintf("Found events matching '%s': Meeting with John Doe on Thursday at 2:00 PM", args.Query), nil
}

// UpdateEvent 占位实现.
func UpdateEvent(_ context.Context, raw json.RawMessage) (string, error) {
	var args UpdateEventArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	var details []string
	if args.NewDate != "" {
		details = append(details, "date to "+args.NewDate)
	}
	if args.NewStartTime != "" {
		details = append(details, "time to "+args.NewStartTime)
	}
	return fmt.Sprintf("Event %s updated: %s", args.EventID, strings.Join(details, ", ")), nil
}
