package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want Risk
	}{
		{ActionWriteEmail, RiskReview},
		{ActionScheduleMeeting, RiskReview},
		{ActionQuestion, RiskReview},
		{ActionSearchEmails, RiskAuto},
		{ActionCheckCalendar, RiskAuto},
		{ActionSearchEvents, RiskAuto},
		{ActionUpdateEvent, RiskAuto},
		{ActionDone, RiskCompletion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Classify("delete_inbox")
	assert.True(t, types.IsErrorCode(err, types.ErrUnknownTool))
}

func TestClassify_UnknownNamesProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.StringMatching(`[a-z_]{1,24}`).Draw(rt, "name")
		if _, known := riskTable[name]; known {
			rt.Skip("known action")
		}
		_, err := Classify(name)
		if !types.IsErrorCode(err, types.ErrUnknownTool) {
			rt.Fatalf("expected UNKNOWN_TOOL for %q, got %v", name, err)
		}
	})
}

func TestRegistry_Register(t *testing.T) {
	noop := func(context.Context, json.RawMessage) (string, error) { return "", nil }

	t.Run("rejects names outside the action set", func(t *testing.T) {
		r := NewRegistry(nil)
		err := r.Register("launch", noop, Metadata{})
		assert.True(t, types.IsErrorCode(err, types.ErrUnknownTool))
	})

	t.Run("rejects risk mismatch", func(t *testing.T) {
		r := NewRegistry(nil)
		err := r.Register(ActionWriteEmail, noop, Metadata{RequiresReview: false})
		assert.Error(t, err)
		err = r.Register(ActionSearchEmails, noop, Metadata{RequiresReview: true})
		assert.Error(t, err)
	})

	t.Run("rejects duplicates and nil handlers", func(t *testing.T) {
		r := NewRegistry(nil)
		require.NoError(t, r.Register(ActionSearchEvents, noop, Metadata{}))
		assert.Error(t, r.Register(ActionSearchEvents, noop, Metadata{}))
		assert.Error(t, r.Register(ActionUpdateEvent, nil, Metadata{}))
	})

	t.Run("rejects schema name mismatch", func(t *testing.T) {
		r := NewRegistry(nil)
		err := r.Register(ActionSearchEvents, noop, Metadata{Schema: types.ToolSchema{Name: "other"}})
		assert.Error(t, err)
	})
}

func TestRegistry_Lookups(t *testing.T) {
	r := NewDefaultRegistry(nil)

	review, err := r.RequiresReview(ActionWriteEmail)
	require.NoError(t, err)
	assert.True(t, review)

	review, err = r.RequiresReview(ActionCheckCalendar)
	require.NoError(t, err)
	assert.False(t, review)

	policy, err := r.Policy(ActionQuestion)
	require.NoError(t, err)
	assert.Equal(t, hitl.RespondOrIgnorePolicy(), policy)

	policy, err = r.Policy(ActionScheduleMeeting)
	require.NoError(t, err)
	assert.Equal(t, hitl.FullReviewPolicy(), policy)

	_, err = r.Policy("nope")
	assert.True(t, types.IsErrorCode(err, types.ErrUnknownTool))
	_, err = r.RequiresReview("nope")
	assert.True(t, types.IsErrorCode(err, types.ErrUnknownTool))

	assert.True(t, IsCompletion(ActionDone))
	assert.False(t, IsCompletion(ActionWriteEmail))
	assert.True(t, r.Has(ActionDone))

	schemas := r.Schemas()
	require.Len(t, schemas, 8)
	assert.Equal(t, ActionWriteEmail, schemas[0].Name)
	assert.Equal(t, ActionDone, schemas[7].Name)
	for _, s := range schemas {
		assert.True(t, json.Valid(s.Parameters), s.Name)
	}
}

func TestRegistry_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown tool", func(t *testing.T) {
		r := NewDefaultRegistry(nil)
		_, err := r.Execute(ctx, "format_disk", nil)
		assert.True(t, types.IsErrorCode(err, types.ErrUnknownTool))
	})

	t.Run("handler error is wrapped", func(t *testing.T) {
		r := NewRegistry(nil)
		boom := errors.New("smtp down")
		require.NoError(t, r.Register(ActionWriteEmail, func(context.Context, json.RawMessage) (string, error) {
			return "", boom
		}, Metadata{RequiresReview: true}))

		var hooked atomic.Int32
		r.OnExecute(func(name string, d time.Duration, err error) {
			hooked.Add(1)
			assert.Equal(t, ActionWriteEmail, name)
			assert.ErrorIs(t, err, boom)
		})

		_, err := r.Execute(ctx, ActionWriteEmail, json.RawMessage(`{}`))
		assert.True(t, types.IsErrorCode(err, types.ErrToolExecution))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int32(1), hooked.Load())
	})

	t.Run("timeout reaches handler context", func(t *testing.T) {
		r := NewRegistry(nil)
		require.NoError(t, r.Register(ActionSearchEmails, func(ctx context.Context, _ json.RawMessage) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}, Metadata{Timeout: 20 * time.Millisecond}))

		_, err := r.Execute(ctx, ActionSearchEmails, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("rate limit honours cancelled context", func(t *testing.T) {
		r := NewRegistry(nil)
		require.NoError(t, r.Register(ActionSearchEvents, SearchEvents, Metadata{
			RateLimit: &RateLimitConfig{MaxCalls: 1, Window: time.Hour},
		}))
		_, err := r.Execute(ctx, ActionSearchEvents, json.RawMessage(`{"query":"a"}`))
		require.NoError(t, err)

		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err = r.Execute(cctx, ActionSearchEvents, json.RawMessage(`{"query":"b"}`))
		assert.True(t, types.IsErrorCode(err, types.ErrRateLimited))
	})
}

func TestPlaceholderHandlers(t *testing.T) {
	ctx := context.Background()
	r := NewDefaultRegistry(nil)

	tests := []struct {
		name string
		args string
		want string
	}{
		{ActionWriteEmail, `{"to":"bob@x.com","subject":"Hi","content":"Hello"}`,
			"Email sent to bob@x.com with subject 'Hi' and content: Hello"},
		{ActionSearchEmails, `{"query":"alpha"}`,
			"Found emails matching 'alpha': Latest update on Project Alpha - status is on track, deployment scheduled for next week"},
		{ActionSearchEmails, `{"query":"alpha","sender":"ann@x.com","date_range":"last week"}`,
			"Found emails matching 'alpha' from ann@x.com in last week: Latest update on Project Alpha - status is on track, deployment scheduled for next week"},
		{ActionScheduleMeeting, `{"attendees":["a","b"],"subject":"Sync","duration_minutes":30,"preferred_day":"2024-12-09","start_time":10}`,
			"Meeting 'Sync' scheduled on Monday, December 09, 2024 at 10 for 30 minutes with 2 attendees"},
		{ActionScheduleMeeting, `{"attendees":[],"subject":"Sync","duration_minutes":15,"preferred_day":"next week","start_time":9}`,
			"Meeting 'Sync' scheduled on next week at 9 for 15 minutes with 0 attendees"},
		{ActionCheckCalendar, `{"day":"Monday"}`, "Available times on Monday: 9:00 AM, 2:00 PM, 4:00 PM"},
		{ActionSearchEvents, `{"query":"John"}`, "Found events matching 'John': Meeting with John Doe on Thursday at 2:00 PM"},
		{ActionUpdateEvent, `{"event_id":"ev1","new_start_time":"3 PM","new_date":"Friday"}`, "Event ev1 updated: date to Friday, time to 3 PM"},
		{ActionQuestion, `{"content":"Which day?"}`, "Which day?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Execute(ctx, tt.name, json.RawMessage(tt.args))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := r.Execute(ctx, ActionWriteEmail, json.RawMessage(`{"to":5}`))
	assert.True(t, types.IsErrorCode(err, types.ErrToolExecution))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "User ignored this email draft. Ignore this email and end the workflow.", IgnoreMessage(ActionWriteEmail))
	assert.Equal(t, "User ignored this calendar meeting draft. Ignore this email and end the workflow.", IgnoreMessage(ActionScheduleMeeting))
	assert.Equal(t, "User ignored this question. Ignore this email and end the workflow.", IgnoreMessage(ActionQuestion))
	assert.Equal(t, "User ignored this action. End the workflow.", IgnoreMessage("other"))

	assert.Equal(t, "User gave feedback, which we can incorporate into the email. Feedback: shorter", FeedbackMessage(ActionWriteEmail, "shorter"))
	assert.Equal(t, "User gave feedback, which we can incorporate into the meeting request. Feedback: 3pm", FeedbackMessage(ActionScheduleMeeting, "3pm"))
	assert.Equal(t, "User answered the question, which we can use for any follow up actions. Feedback: Tue", FeedbackMessage(ActionQuestion, "Tue"))
	assert.Equal(t, "User provided feedback: ok", FeedbackMessage("other", "ok"))
	assert.Equal(t, "Error: x", ErrorMessage(errors.New("x")))
}
