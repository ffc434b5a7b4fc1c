package email

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	req, err := Parse(json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Request{Author: "Unknown", To: "Unknown", Subject: "No Subject"}, req)

	req, err = Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "No Subject", req.Subject)
}

func TestParse_BodyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"email_thread wins", `{"email_thread":"a","body":"b","thread":"c"}`, "a"},
		{"body before thread", `{"body":"b","thread":"c"}`, "b"},
		{"thread last", `{"thread":"c"}`, "c"},
		{"empty email_thread falls through", `{"email_thread":"","body":"b"}`, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Parse(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Thread)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(json.RawMessage(`"just text"`))
	assert.Error(t, err)
	assert.Equal(t, "just text", RenderMarkdown(json.RawMessage(`  just text `)))
}

func TestRequest_Markdown(t *testing.T) {
	req := Request{Author: "alice@example.com", To: "bob@example.com", Subject: "Deploy", Thread: "Is it done?"}
	assert.Equal(t,
		"**Subject:** Deploy\n**From:** alice@example.com\n**To:** bob@example.com\n\n---\n\nIs it done?\n",
		req.Markdown())
	assert.Contains(t, req.PromptText(), "Email Thread:\nIs it done?")
}

func TestFormatToolCall_KeepsKeyOrder(t *testing.T) {
	out := FormatToolCall("write_email", json.RawMessage(`{"to":"bob@example.com","subject":"Re: Deploy","content":"Done.","cc":["x"],"n":3}`))
	assert.Equal(t,
		"\n## Proposed Action: write_email\n\n### Arguments:\n"+
			"- **to**: bob@example.com\n- **subject**: Re: Deploy\n- **content**: Done.\n- **cc**: [\"x\"]\n- **n**: 3\n",
		out)

	assert.Contains(t, FormatToolCall("", nil), "Proposed Action: Unknown")
}

func TestActionDescription(t *testing.T) {
	desc := ActionDescription(json.RawMessage(`{"subject":"S"}`), "Question", json.RawMessage(`{"content":"When?"}`))
	assert.Contains(t, desc, "**Subject:** S")
	assert.Contains(t, desc, "\n---\n\n## Proposed Action: Question")
	assert.Contains(t, desc, "- **content**: When?")
}
