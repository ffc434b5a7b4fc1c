package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// 缺省字段占位值.
const (
	DefaultAuthor  = "Unknown"
	DefaultTo      = "Unknown"
	DefaultSubject = "No Subject"
)

// Request 是解析后的入站邮件.
type Request struct {
	Author  string `json:"author"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Thread  string `json:"email_thread"`
}

type rawRequest struct {
	Author      *string `json:"author"`
	To          *string `json:"to"`
	Subject     *string `json:"subject"`
	EmailThread string  `json:"email_thread"`
	Body        string  `json:"body"`
	Thread      string  `json:"thread"`
}

// Parse decodes an opaque request payload into a Request, filling defaults
// for absent fields. Body precedence: email_thread, body, thread.
func Parse(raw json.RawMessage) (Request, error) {
	var r rawRequest
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &r); err != nil {
			return Request{}, fmt.Errorf("decode email request: %w", err)
		}
	}

	req := Request{
		Author:  stringOr(r.Author, DefaultAuthor),
		To:      stringOr(r.To, DefaultTo),
		Subject: stringOr(r.Subject, DefaultSubject),
	}
	switch {
	case r.EmailThread != "":
		req.Thread = r.EmailThread
	case r.Body != "":
		req.Thread = r.Body
	default:
		req.Thread = r.Thread
	}
	return req, nil
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// Markdown 渲染为审核界面使用的 Markdown.
func (r Request) Markdown() string {
	return fmt.Sprintf("**Subject:** %s\n**From:** %s\n**To:** %s\n\n---\n\n%s\n",
		r.Subject, r.Author, r.To, r.Thread)
}

// PromptText 渲染为分类提示词的用户消息.
func (r Request) PromptText() string {
	return fmt.Sprintf("\nFrom: %s\nTo: %s\nSubject: %s\n\nEmail Thread:\n%s\n",
		r.Author, r.To, r.Subject, r.Thread)
}

// RenderMarkdown parses raw and renders it, falling back to the raw text
// when the payload is not a JSON object.
func RenderMarkdown(raw json.RawMessage) string {
	req, err := Parse(raw)
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	return req.Markdown()
}
