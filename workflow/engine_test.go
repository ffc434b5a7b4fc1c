package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/hitlflow/agent/email"
	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/agent/memory"
	"github.com/BaSui01/hitlflow/agent/persistence"
	"github.com/BaSui01/hitlflow/agent/ports"
	"github.com/BaSui01/hitlflow/testutil"
	"github.com/BaSui01/hitlflow/testutil/fixtures"
	"github.com/BaSui01/hitlflow/testutil/mocks"
	"github.com/BaSui01/hitlflow/tools"
	"github.com/BaSui01/hitlflow/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	engine     *Engine
	store      *persistence.MemoryStateStore
	classifier *mocks.ScriptedClassifier
	proposer   *mocks.ScriptedProposer
	reviser    *mocks.RecordingReviser
	interrupts *hitl.InterruptManager
}

type harnessOption func(*Deps, *Options)

func withTools(r *tools.Registry) harnessOption {
	return func(d *Deps, _ *Options) { d.Tools = r }
}

func withStore(s persistence.StateStore) harnessOption {
	return func(d *Deps, _ *Options) { d.Store = s }
}

func withMaxSteps(n int) harnessOption {
	return func(_ *Deps, o *Options) { o.MaxSteps = n }
}

func newHarness(t *testing.T, class ports.Classification, replies []types.Message, opts ...harnessOption) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	h := &harness{
		store:      persistence.NewMemoryStateStore(),
		classifier: mocks.NewScriptedClassifier(class),
		proposer:   mocks.NewScriptedProposer(replies...),
		reviser:    mocks.NewRecordingReviser(),
		interrupts: hitl.NewInterruptManager(hitl.NewInMemoryInterruptStore(), logger),
	}
	cfg := memory.DefaultConfig()
	cfg.Mode = memory.ModeSync
	updater, err := memory.NewUpdater(h.store, h.reviser, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = updater.Close() })

	deps := Deps{
		Store:      h.store,
		Classifier: h.classifier,
		Proposer:   h.proposer,
		Tools:      tools.NewDefaultRegistry(logger),
		Memory:     updater,
		Interrupts: h.interrupts,
		Logger:     logger,
	}
	var o Options
	for _, opt := range opts {
		opt(&deps, &o)
	}
	h.engine, err = NewEngine(deps, o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

// resume 像审核界面一样先读取挂起中断，再按位置给未绑定的结论填上 interrupt_id
func (h *harness) resume(t *testing.T, ctx context.Context, threadID string, verdicts ...hitl.Verdict) (*Result, error) {
	t.Helper()
	if st, err := h.engine.GetState(ctx, threadID); err == nil {
		for i := range verdicts {
			if verdicts[i].InterruptID == "" && i < len(st.Pending) {
				verdicts[i] = verdicts[i].For(st.Pending[i].ID)
			}
		}
	}
	return h.engine.Resume(ctx, threadID, verdicts...)
}

func writeEmailCall(id string) types.ToolCall {
	return mocks.Call(id, tools.ActionWriteEmail,
		`{"to":"alice.smith@company.com","subject":"Re: Quick question about API documentation","content":"Thanks Alice, I'll check."}`)
}

func doneMessage() types.Message {
	return mocks.ToolCallMessage(mocks.Call("done-1", tools.ActionDone, `{"done":true}`))
}

func requireCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, types.GetErrorCode(err), "error: %v", err)
}

// --- triage ---

func TestEngine_IgnoreEndsWithEmptyConversation(t *testing.T) {
	h := newHarness(t, ports.ClassificationIgnore, nil)
	ctx := testutil.TestContext(t)

	res, err := h.engine.Start(ctx, "t-ignore", fixtures.NewsletterEmail)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.State.Conversation)
	assert.Equal(t, ports.ClassificationIgnore, res.State.Classification)
	assert.Empty(t, h.proposer.Calls())

	st, err := h.engine.GetState(ctx, "t-ignore")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Empty(t, st.Next)
	require.Len(t, st.History, 1)
	assert.Equal(t, NodeTriage, st.History[0].Node)
	assert.Equal(t, NodeEnd, st.History[0].Next)
}

func TestEngine_TriageUsesTriagePreferences(t *testing.T) {
	h := newHarness(t, ports.ClassificationIgnore, nil)
	_, err := h.engine.Start(testutil.TestContext(t), "t-prefs", fixtures.NewsletterEmail)
	require.NoError(t, err)

	def, _ := memory.Default(memory.NamespaceTriage)
	calls := h.classifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, def, calls[0].Instructions)
	assert.JSONEq(t, string(fixtures.NewsletterEmail), string(calls[0].Request))
}

func TestEngine_InvalidClassificationCommitsNothing(t *testing.T) {
	h := newHarness(t, ports.Classification("urgent"), nil)
	ctx := testutil.TestContext(t)

	_, err := h.engine.Start(ctx, "t-bad", fixtures.APIQuestionEmail)
	requireCode(t, err, types.ErrInvalidClassification)

	_, err = h.store.GetThread(ctx, "t-bad")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	// 未提交任何状态，同一输入可以重试
	_, err = h.engine.Start(ctx, "t-bad", fixtures.APIQuestionEmail)
	requireCode(t, err, types.ErrInvalidClassification)
}

func TestEngine_ClassifierFailure(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, nil)
	h.classifier.WithError(errors.New("model offline"))

	_, err := h.engine.Start(testutil.TestContext(t), "t-port", fixtures.APIQuestionEmail)
	requireCode(t, err, types.ErrPortFailure)
}

func TestEngine_StartOnExistingThread(t *testing.T) {
	h := newHarness(t, ports.ClassificationIgnore, nil)
	ctx := testutil.TestContext(t)

	_, err := h.engine.Start(ctx, "t-dup", fixtures.NewsletterEmail)
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, "t-dup", fixtures.NewsletterEmail)
	requireCode(t, err, types.ErrThreadExists)
}

func TestEngine_InputValidation(t *testing.T) {
	h := newHarness(t, ports.ClassificationIgnore, nil)
	ctx := testutil.TestContext(t)

	_, err := h.engine.Invoke(ctx, "t", Input{Request: fixtures.NewsletterEmail, Verdicts: []hitl.Verdict{hitl.Accept()}})
	requireCode(t, err, types.ErrInvalidRequest)

	_, err = h.engine.Invoke(ctx, "t", Input{})
	requireCode(t, err, types.ErrInvalidRequest)

	_, err = h.engine.Start(ctx, "  ", fixtures.NewsletterEmail)
	requireCode(t, err, types.ErrInvalidRequest)
}

// --- scenario 1: respond, accept, done ---

func TestEngine_RespondAcceptThenDone(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(writeEmailCall("call-1")),
		doneMessage(),
	})
	ctx := testutil.TestContext(t)

	res, err := h.engine.Start(ctx, "t-1", fixtures.APIQuestionEmail)
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)
	require.Len(t, res.Interrupts, 1)
	in := res.Interrupts[0]
	assert.Equal(t, tools.ActionWriteEmail, in.ActionRequest.Action)
	assert.Equal(t, "call-1", in.ToolCallID)
	assert.Equal(t, hitl.FullReviewPolicy(), in.Config)
	assert.Contains(t, in.Description, "## Proposed Action: write_email")
	assert.Contains(t, in.Description, "Quick question about API documentation")

	require.Len(t, res.State.Conversation, 2)
	assert.Equal(t, "Respond to the email: "+email.RenderMarkdown(fixtures.APIQuestionEmail), res.State.Conversation[0].Content)
	assert.Equal(t, types.RoleAssistant, res.State.Conversation[1].Role)

	st, err := h.engine.GetState(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, []Node{NodeActionReview}, st.Next)
	require.Len(t, st.Pending, 1)
	assert.Equal(t, in.ID, st.Pending[0].ID)

	pending, err := h.interrupts.Pending(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	res, err = h.resume(t, ctx, "t-1", hitl.Accept())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	conv := res.State.Conversation
	require.Len(t, conv, 4)
	assert.Equal(t, types.RoleTool, conv[2].Role)
	assert.Equal(t, "call-1", conv[2].ToolCallID)
	assert.True(t, strings.HasPrefix(conv[2].Content, "Email sent to alice.smith@company.com"))
	assert.Equal(t, tools.ActionDone, conv[3].ToolCalls[0].Name)

	// accept 不产生偏好反馈
	assert.Empty(t, h.reviser.Requests())

	pending, err = h.interrupts.Pending(ctx, "t-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = h.resume(t, ctx, "t-1", hitl.Accept())
	requireCode(t, err, types.ErrNoPendingInterrupt)
}

// --- scenario 2: edit ---

func TestEngine_EditRewritesCallAndRevisesResponsePreferences(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(writeEmailCall("call-1")),
		doneMessage(),
	})
	ctx := testutil.TestContext(t)

	_, err := h.engine.Start(ctx, "t-2", fixtures.APIQuestionEmail)
	require.NoError(t, err)

	edited := json.RawMessage(`{"to":"alice.smith@company.com","subject":"Re: API docs","content":"Both endpoints were omitted on purpose."}`)
	res, err := h.resume(t, ctx, "t-2", hitl.Edit(edited))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	conv := res.State.Conversation
	require.Len(t, conv, 4)
	assert.JSONEq(t, string(edited), string(conv[1].ToolCalls[0].Arguments))
	assert.Equal(t, "call-1", conv[1].ToolCalls[0].ID)
	assert.Contains(t, conv[2].Content, "subject 'Re: API docs'")
	assert.Equal(t, "call-1", conv[2].ToolCallID)

	// 下一轮提议看到的是修改后的参数
	calls := h.proposer.Calls()
	require.Len(t, calls, 2)
	testutil.AssertToolCallsEqual(t,
		[]types.ToolCall{{ID: "call-1", Name: tools.ActionWriteEmail, Arguments: edited}},
		calls[1].Conversation[1].ToolCalls)

	assert.Equal(t, []string{memory.NamespaceResponse}, h.reviser.Namespaces())
	prefs, ok, err := h.store.GetMemory(ctx, memory.NamespaceResponse)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, prefs, "learned rule 1")
}

// --- scenario 3: ignore action ---

func TestEngine_IgnoreActionTerminates(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(writeEmailCall("call-1")),
	})
	ctx := testutil.TestContext(t)

	_, err := h.engine.Start(ctx, "t-3", fixtures.APIQuestionEmail)
	require.NoError(t, err)

	res, err := h.resume(t, ctx, "t-3", hitl.Ignore())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, res.State.TerminationFlag)

	conv := res.State.Conversation
	require.Len(t, conv, 3)
	testutil.AssertMessagesEqual(t, []types.Message{
		conv[0],
		conv[1],
		{Role: types.RoleTool, Content: tools.IgnoreMessage(tools.ActionWriteEmail), ToolCallID: "call-1"},
	}, conv)
	assert.Len(t, h.proposer.Calls(), 1)
	assert.Equal(t, []string{memory.NamespaceTriage}, h.reviser.Namespaces())
}

// --- scenario 4: notify ---

func TestEngine_NotifyIgnore(t *testing.T) {
	h := newHarness(t, ports.ClassificationNotify, nil)
	ctx := testutil.TestContext(t)

	res, err := h.engine.Start(ctx, "t-4", fixtures.DeploymentNoticeEmail)
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)
	require.Len(t, res.Interrupts, 1)
	in := res.Interrupts[0]
	assert.Equal(t, hitl.InterruptKindNotify, in.Kind)
	assert.Equal(t, hitl.RespondOrIgnorePolicy(), in.Config)
	assert.Equal(t, email.RenderMarkdown(fixtures.DeploymentNoticeEmail), in.Description)
	assert.Empty(t, res.State.Conversation)

	res, err = h.resume(t, ctx, "t-4", hitl.Ignore())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.State.Conversation)
	assert.Equal(t, []string{memory.NamespaceTriage}, h.reviser.Namespaces())
	assert.Empty(t, h.proposer.Calls())
}

func TestEngine_NotifyRespondContinuesToAct(t *testing.T) {
	h := newHarness(t, ports.ClassificationNotify, []types.Message{doneMessage()})
	ctx := testutil.TestContext(t)

	_, err := h.engine.Start(ctx, "t-5", fixtures.DeploymentNoticeEmail)
	require.NoError(t, err)

	res, err := h.resume(t, ctx, "t-5", hitl.Respond("Tell them I'll skip deploys tonight"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	md := email.RenderMarkdown(fixtures.DeploymentNoticeEmail)
	conv := res.State.Conversation
	require.Len(t, conv, 3)
	assert.Equal(t, "Email to notify user about: "+md, conv[0].Content)
	assert.Equal(t, "User wants to reply to the email. Use this feedback to respond: Tell them I'll skip deploys tonight", conv[1].Content)
	assert.Equal(t, types.RoleAssistant, conv[2].Role)
	assert.Equal(t, []string{memory.NamespaceTriage}, h.reviser.Namespaces())
}

func TestEngine_NotifyRejectsAccept(t *testing.T) {
	h := newHarness(t, ports.ClassificationNotify, nil)
	ctx := testutil.TestContext(t)

	start, err := h.engine.Start(ctx, "t-6", fixtures.DeploymentNoticeEmail)
	require.NoError(t, err)

	_, err = h.resume(t, ctx, "t-6", hitl.Accept())
	requireCode(t, err, types.ErrInvalidVerdict)

	st, err := h.engine.GetState(ctx, "t-6")
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, st.Status)
	assert.Equal(t, start.Version, st.Version)
	assert.Equal(t, start.Interrupts[0].ID, st.Pending[0].ID)
}

// --- action review ---

func TestEngine_LowRiskCallsRunInline(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(
			mocks.Call("s-1", tools.ActionSearchEmails, `{"query":"api docs"}`),
			writeEmailCall("w-1"),
		),
		doneMessage(),
	})
	ctx := testutil.TestContext(t)

	res, err := h.engine.Start(ctx, "t-7", fixtures.APIQuestionEmail)
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)
	require.Len(t, res.Interrupts, 1)
	assert.Equal(t, "w-1", res.Interrupts[0].ToolCallID)

	conv := res.State.Conversation
	require.Len(t, conv, 3)
	assert.Equal(t, "s-1", conv[2].ToolCallID)
	assert.Contains(t, conv[2].Content, "Found emails matching 'api docs'")

	res, err = h.resume(t, ctx, "t-7", hitl.Accept())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "w-1", res.State.Conversation[3].ToolCallID)
}

func TestEngine_AutoOnlyBatchLoopsBackToAct(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(mocks.Call("c-1", tools.ActionCheckCalendar, `{"day":"2026-10-20"}`)),
		doneMessage(),
	})

	res, err := h.engine.Start(testutil.TestContext(t), "t-8", fixtures.MeetingRequestEmail)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.State.Conversation, 4)
	assert.Contains(t, res.State.Conversation[2].Content, "Available times on 2026-10-20")
	assert.Len(t, h.proposer.Calls(), 2)
}

func TestEngine_BatchWithIgnoreStillProcessesRemainingCalls(t *testing.T) {
	meeting := mocks.Call("m-1", tools.ActionScheduleMeeting,
		`{"attendees":["pm@client.com"],"subject":"Tax planning","duration_minutes":45,"preferred_day":"2026-10-20","start_time":14}`)
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(meeting, writeEmailCall("w-1")),
	})
	ctx := testutil.TestContext(t)

	res, err := h.engine.Start(ctx, "t-9", fixtures.MeetingRequestEmail)
	require.NoError(t, err)
	require.Len(t, res.Interrupts, 2)

	_, err = h.resume(t, ctx, "t-9", hitl.Ignore())
	requireCode(t, err, types.ErrInvalidVerdict)

	res, err = h.resume(t, ctx, "t-9", hitl.Ignore(), hitl.Respond("Make it shorter"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, res.State.TerminationFlag)

	conv := res.State.Conversation
	require.Len(t, conv, 4)
	assert.Equal(t, "m-1", conv[2].ToolCallID)
	assert.Equal(t, tools.IgnoreMessage(tools.ActionScheduleMeeting), conv[2].Content)
	assert.Equal(t, "w-1", conv[3].ToolCallID)
	assert.Equal(t, tools.FeedbackMessage(tools.ActionWriteEmail, "Make it shorter"), conv[3].Content)
	assert.Len(t, h.proposer.Calls(), 1)
	assert.Equal(t, []string{memory.NamespaceTriage, memory.NamespaceResponse}, h.reviser.Namespaces())
}

func TestEngine_QuestionRespondLoopsToAct(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(mocks.Call("q-1", tools.ActionQuestion, `{"content":"Which day works?"}`)),
		doneMessage(),
	})
	ctx := testutil.TestContext(t)

	res, err := h.engine.Start(ctx, "t-10", fixtures.MeetingRequestEmail)
	require.NoError(t, err)
	require.Len(t, res.Interrupts, 1)
	assert.Equal(t, hitl.RespondOrIgnorePolicy(), res.Interrupts[0].Config)

	_, err = h.resume(t, ctx, "t-10", hitl.Edit(json.RawMessage(`{"content":"x"}`)))
	requireCode(t, err, types.ErrInvalidVerdict)

	res, err = h.resume(t, ctx, "t-10", hitl.Respond("Thursday"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, tools.FeedbackMessage(tools.ActionQuestion, "Thursday"), res.State.Conversation[2].Content)
	assert.Len(t, h.proposer.Calls(), 2)
	assert.Empty(t, h.reviser.Requests())
}

func TestEngine_UnknownToolAbortsInvocation(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(mocks.Call("x-1", "delete_mailbox", `{}`)),
	})
	ctx := testutil.TestContext(t)

	_, err := h.engine.Start(ctx, "t-11", fixtures.APIQuestionEmail)
	requireCode(t, err, types.ErrUnknownTool)

	_, err = h.store.GetThread(ctx, "t-11")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestEngine_ToolHandlerErrorBecomesToolMessage(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := tools.NewRegistry(logger)
	require.NoError(t, reg.Register(tools.ActionSearchEmails, func(context.Context, json.RawMessage) (string, error) {
		return "", errors.New("mailbox index offline")
	}, tools.Metadata{}))

	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(mocks.Call("s-1", tools.ActionSearchEmails, `{"query":"x"}`)),
		mocks.ToolCallMessage(),
	}, withTools(reg))

	res, err := h.engine.Start(testutil.TestContext(t), "t-12", fixtures.APIQuestionEmail)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	conv := res.State.Conversation
	require.Len(t, conv, 4)
	assert.True(t, strings.HasPrefix(conv[2].Content, "Error: "), conv[2].Content)
	assert.Contains(t, conv[2].Content, "mailbox index offline")
}

func TestEngine_ProposalNormalization(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		{Role: types.RoleUser, ToolCalls: []types.ToolCall{{Name: tools.ActionWriteEmail}}},
	})

	res, err := h.engine.Start(testutil.TestContext(t), "t-13", fixtures.APIQuestionEmail)
	require.NoError(t, err)
	msg := res.State.Conversation[1]
	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.True(t, strings.HasPrefix(msg.ToolCalls[0].ID, "call_"))
	assert.JSONEq(t, `{}`, string(msg.ToolCalls[0].Arguments))
	assert.Equal(t, msg.ToolCalls[0].ID, res.Interrupts[0].ToolCallID)
}

// --- resume protocol ---

func TestEngine_ResumeUnknownThread(t *testing.T) {
	h := newHarness(t, ports.ClassificationIgnore, nil)
	_, err := h.resume(t, testutil.TestContext(t), "missing", hitl.Accept())
	requireCode(t, err, types.ErrThreadNotFound)

	_, err = h.engine.GetState(testutil.TestContext(t), "missing")
	requireCode(t, err, types.ErrThreadNotFound)
}

func TestEngine_StaleInterruptIDIsRejected(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(writeEmailCall("call-1")),
		mocks.ToolCallMessage(writeEmailCall("call-2")),
	})
	ctx := testutil.TestContext(t)

	res, err := h.engine.Start(ctx, "t-14", fixtures.APIQuestionEmail)
	require.NoError(t, err)
	first := res.Interrupts[0].ID

	v := hitl.Respond("Be more formal")
	v.InterruptID = first
	res, err = h.resume(t, ctx, "t-14", v)
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)
	require.NotEqual(t, first, res.Interrupts[0].ID)

	// 重放同一结论不会作用到新的中断上
	_, err = h.resume(t, ctx, "t-14", v)
	requireCode(t, err, types.ErrNoPendingInterrupt)
	assert.Len(t, h.reviser.Requests(), 1)
}

func TestEngine_ReplayedAcceptDoesNotApproveNextDraft(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(writeEmailCall("call-1")),
		mocks.ToolCallMessage(writeEmailCall("call-2")),
	})
	ctx := testutil.TestContext(t)

	res, err := h.engine.Start(ctx, "t-19", fixtures.APIQuestionEmail)
	require.NoError(t, err)
	accept := hitl.Accept().For(res.Interrupts[0].ID)

	// 未绑定中断的结论直接拒绝
	_, err = h.engine.Resume(ctx, "t-19", hitl.Accept())
	requireCode(t, err, types.ErrInvalidVerdict)

	res, err = h.engine.Resume(ctx, "t-19", accept)
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)
	require.Len(t, res.Interrupts, 1)
	assert.Equal(t, "call-2", res.Interrupts[0].ToolCallID)
	version := res.Version

	_, err = h.engine.Resume(ctx, "t-19", accept)
	requireCode(t, err, types.ErrNoPendingInterrupt)

	st, err := h.engine.GetState(ctx, "t-19")
	require.NoError(t, err)
	assert.Equal(t, version, st.Version)
	assert.Equal(t, StatusInterrupted, st.Status)
	for _, m := range st.State.Conversation {
		assert.NotEqual(t, "call-2", m.ToolCallID, "call-2 ran without review")
	}
}

func TestEngine_ResumeAfterRestartUsesOnlyTheStore(t *testing.T) {
	dir := t.TempDir()
	ctx := testutil.TestContext(t)
	logger := zaptest.NewLogger(t)

	open := func(classifier ports.Classifier, proposer ports.Proposer) *Engine {
		store, err := persistence.NewFileStateStore(persistence.StoreConfig{Type: persistence.StoreTypeFile, BaseDir: dir})
		require.NoError(t, err)
		e, err := NewEngine(Deps{
			Store:      store,
			Classifier: classifier,
			Proposer:   proposer,
			Tools:      tools.NewDefaultRegistry(logger),
			Logger:     logger,
		}, Options{})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = e.Close()
			_ = store.Close()
		})
		return e
	}

	first := open(mocks.NewScriptedClassifier(ports.ClassificationRespond),
		mocks.NewScriptedProposer(mocks.ToolCallMessage(writeEmailCall("call-1"))))
	res, err := first.Start(ctx, "t-20", fixtures.APIQuestionEmail)
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)
	pendingID := res.Interrupts[0].ID
	require.NoError(t, first.Close())

	classifier := mocks.NewScriptedClassifier()
	proposer := mocks.NewScriptedProposer(doneMessage())
	second := open(classifier, proposer)

	st, err := second.GetState(ctx, "t-20")
	require.NoError(t, err)
	require.Len(t, st.Pending, 1)
	assert.Equal(t, pendingID, st.Pending[0].ID)

	// 重开的存储足以列出并重建中断索引
	pending, err := second.PendingInterrupts(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, pendingID, pending[0].ID)
	index := hitl.NewInterruptManager(nil, logger)
	require.NoError(t, index.Restore(ctx, pending))
	indexed, err := index.Pending(ctx, "t-20")
	require.NoError(t, err)
	assert.Len(t, indexed, 1)

	res, err = second.Resume(ctx, "t-20", hitl.Accept().For(pendingID))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, classifier.Calls())
	assert.Len(t, proposer.Calls(), 1)

	pending, err = second.PendingInterrupts(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	conv := res.State.Conversation
	require.Len(t, conv, 4)
	assert.Equal(t, "call-1", conv[2].ToolCallID)
	assert.True(t, strings.HasPrefix(conv[2].Content, "Email sent to alice.smith@company.com"))
}

func TestEngine_PendingInterruptsReadsCheckpoints(t *testing.T) {
	h := newHarness(t, ports.ClassificationNotify, nil)
	ctx := testutil.TestContext(t)

	a, err := h.engine.Start(ctx, "t-21", fixtures.DeploymentNoticeEmail)
	require.NoError(t, err)
	b, err := h.engine.Start(ctx, "t-22", fixtures.DeploymentNoticeEmail)
	require.NoError(t, err)

	all, err := h.engine.PendingInterrupts(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.ElementsMatch(t, []string{a.Interrupts[0].ID, b.Interrupts[0].ID}, []string{all[0].ID, all[1].ID})
	assert.False(t, all[1].CreatedAt.Before(all[0].CreatedAt))

	one, err := h.engine.PendingInterrupts(ctx, "t-22")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, b.Interrupts[0].ID, one[0].ID)

	none, err := h.engine.PendingInterrupts(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = h.resume(t, ctx, "t-21", hitl.Ignore())
	require.NoError(t, err)
	all, err = h.engine.PendingInterrupts(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "t-22", all[0].ThreadID)

	// 已处理的中断同时从进程内索引删除
	_, err = h.interrupts.Get(ctx, a.Interrupts[0].ID)
	assert.Error(t, err)
}

func TestEngine_FailedResumeKeepsThreadSuspended(t *testing.T) {
	h := newHarness(t, ports.ClassificationRespond, []types.Message{
		mocks.ToolCallMessage(writeEmailCall("call-1")),
		doneMessage(),
	})
	ctx := testutil.TestContext(t)

	start, err := h.engine.Start(ctx, "t-15", fixtures.APIQuestionEmail)
	require.NoError(t, err)

	h.proposer.FailNext(types.NewError(types.ErrPortFailure, "upstream down"))
	_, err = h.resume(t, ctx, "t-15", hitl.Respond("shorter please"))
	requireCode(t, err, types.ErrPortFailure)

	st, err := h.engine.GetState(ctx, "t-15")
	require.NoError(t, err)
	assert.Equal(t, start.Version, st.Version)
	assert.Len(t, st.State.Conversation, 2)
	assert.Empty(t, h.reviser.Requests())

	res, err := h.resume(t, ctx, "t-15", hitl.Respond("shorter please"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Len(t, h.reviser.Requests(), 1)
}

type conflictingStore struct {
	persistence.StateStore
	conflict bool
}

func (s *conflictingStore) PutThread(ctx context.Context, rec *persistence.ThreadRecord, expected int64) (int64, error) {
	if s.conflict {
		return 0, persistence.ErrVersionConflict
	}
	return s.StateStore.PutThread(ctx, rec, expected)
}

func TestEngine_VersionConflictIsConcurrentInvocation(t *testing.T) {
	store := &conflictingStore{StateStore: persistence.NewMemoryStateStore()}
	h := newHarness(t, ports.ClassificationNotify, nil, withStore(store))
	ctx := testutil.TestContext(t)

	_, err := h.engine.Start(ctx, "t-16", fixtures.DeploymentNoticeEmail)
	require.NoError(t, err)

	store.conflict = true
	_, err = h.resume(t, ctx, "t-16", hitl.Ignore())
	requireCode(t, err, types.ErrConcurrentInvocation)
	assert.True(t, types.IsRetryable(err))
	assert.Empty(t, h.reviser.Requests())
}

type failingStore struct {
	persistence.StateStore
}

func (failingStore) GetThread(context.Context, string) (*persistence.ThreadRecord, error) {
	return nil, errors.New("connection refused")
}

func TestEngine_StoreUnavailable(t *testing.T) {
	h := newHarness(t, ports.ClassificationIgnore, nil,
		withStore(failingStore{StateStore: persistence.NewMemoryStateStore()}))

	_, err := h.engine.Start(testutil.TestContext(t), "t-17", fixtures.NewsletterEmail)
	requireCode(t, err, types.ErrStoreUnavailable)
}

func TestEngine_MaxStepsGuard(t *testing.T) {
	replies := make([]types.Message, 0, 10)
	for i := 0; i < 10; i++ {
		replies = append(replies, mocks.ToolCallMessage(mocks.Call(fmt.Sprintf("s-%d", i), tools.ActionSearchEmails, `{"query":"loop"}`)))
	}
	h := newHarness(t, ports.ClassificationRespond, replies, withMaxSteps(6))
	ctx := testutil.TestContext(t)

	_, err := h.engine.Start(ctx, "t-18", fixtures.APIQuestionEmail)
	requireCode(t, err, types.ErrInternalError)

	_, err = h.store.GetThread(ctx, "t-18")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestEngine_ThreadsAreIndependent(t *testing.T) {
	h := newHarness(t, ports.ClassificationNotify, nil)
	ctx := testutil.TestContext(t)

	for _, id := range []string{"a", "b"} {
		_, err := h.engine.Start(ctx, id, fixtures.DeploymentNoticeEmail)
		require.NoError(t, err)
	}
	_, err := h.resume(t, ctx, "a", hitl.Ignore())
	require.NoError(t, err)

	st, err := h.engine.GetState(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, st.Status)
}

func TestEngine_ClosedEngineRejectsInvocations(t *testing.T) {
	h := newHarness(t, ports.ClassificationIgnore, nil)
	require.NoError(t, h.engine.Close())
	require.NoError(t, h.engine.Close())

	_, err := h.engine.Start(testutil.TestContext(t), "t", fixtures.NewsletterEmail)
	assert.ErrorIs(t, err, ErrEngineClosed)
	requireCode(t, err, types.ErrServiceUnavailable)
	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, http.StatusServiceUnavailable, typed.HTTPStatus)
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	_, err := NewEngine(Deps{}, Options{})
	assert.Error(t, err)
}
