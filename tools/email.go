package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// WriteEmailArgs write_email 参数.
type WriteEmailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// SearchEmailsArgs search_emails 参数.
type SearchEmailsArgs struct {
	Query     string `json:"query"`
	Sender    string `json:"sender,omitempty"`
	DateRange string `json:"date_range,omitempty"`
}

var writeEmailSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "to": {"type": "string", "description": "Email recipient address"},
    "subject": {"type": "string", "description": "Email subject line"},
    "content": {"type": "string", "description": "Email body content"}
  },
  "required": ["to", "subject", "content"]
}`)

var searchEmailsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query (keywords, subject, content)"},
    "sender": {"type": "string", "description": "Optional filter by sender email address"},
    "date_range": {"type": "string", "description": "Optional date range, e.g. \"last week\""}
  },
  "required": ["query"]
}`)

// WriteEmail 占位实现：不真正发送，只返回确认文本.
func WriteEmail(_ context.Context, raw json.RawMessage) (string, error) {
	var args WriteEmailArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	return fmt.Sprintf("Email sent to %s with subject '%s' and content: %s", args.To, args.Subject, args.Content), nil
}

// SearchEmails 占位实现.
func SearchEmails(_ context.Context, raw json.RawMessage) (string, error) {
	var args SearchEmailsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	var filters []string
	if args.Sender != "" {
		filters = append(filters, "from "+args.Sender)
	}
	if args.DateRange != "" {
		filters = append(filters, "in "+args.DateRange)
	}
	filterStr := ""
	if len(filters) > 0 {
		filterStr = " " + strings.Join(filters, " ")
	}
	return fmt.Sprintf("Found emails matching '%s'%s: Latest update on Project Alpha - status is on track, deployment scheduled for next week",
		args.Query, filterStr), nil
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
