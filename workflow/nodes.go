package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/agent/email"
	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/agent/memory"
	"github.com/BaSui01/hitlflow/agent/ports"
	"github.com/BaSui01/hitlflow/llm/tokenizer"
	"github.com/BaSui01/hitlflow/tools"
	"github.com/BaSui01/hitlflow/types"
)

// invocation 是一次 Invoke 的工作副本，只有提交成功后才对外可见.
type invocation struct {
	threadID   string
	state      State
	checkpoint *Checkpoint
	history    *executionHistory

	feedback []memory.Feedback
	resolved []*hitl.Interrupt
	steps    int
}

func (inv *invocation) suspend(node Node, pending []*hitl.Interrupt) {
	inv.checkpoint = &Checkpoint{Node: node, Pending: pending}
}

// =============================================================================
// Triage
// =============================================================================

func (e *Engine) triage(ctx context.Context, inv *invocation) (Node, error) {
	prefs, err := e.memory.Get(ctx, memory.NamespaceTriage)
	if err != nil {
		return "", err
	}

	res, err := e.classifier.Classify(ctx, inv.state.Request, prefs)
	if err != nil {
		return "", portFailure("classifier", err)
	}
	next, err := routeAfterTriage(res.Classification)
	if err != nil {
		return "", err
	}

	inv.state.Classification = res.Classification
	e.logger.Info("request classified",
		zap.String("thread_id", inv.threadID),
		zap.String("classification", string(res.Classification)),
		zap.String("reasoning", res.Reasoning),
	)

	if next == NodeAct {
		inv.state.append(types.NewUserMessage("Respond to the email: " + email.RenderMarkdown(inv.state.Request)))
	}
	return next, nil
}

// =============================================================================
// Notify review
// =============================================================================

func (e *Engine) notifyReview(_ context.Context, inv *invocation) (Node, error) {
	in := hitl.NewNotifyInterrupt(inv.threadID, email.RenderMarkdown(inv.state.Request))
	inv.suspend(NodeNotifyReview, []*hitl.Interrupt{in})
	e.metrics.RecordInterrupt(in.ActionRequest.Action)
	return NodeEnd, nil
}

func (e *Engine) resumeNotify(_ context.Context, inv *invocation, _ *hitl.Interrupt, v hitl.Verdict) Node {
	md := email.RenderMarkdown(inv.state.Request)
	switch v.Type {
	case hitl.VerdictRespond:
		inv.state.append(
			types.NewUserMessage("Email to notify user about: "+md),
			types.NewUserMessage("User wants to reply to the email. Use this feedback to respond: "+v.Feedback),
		)
		inv.feedback = append(inv.feedback, memory.NotifyRespondFeedback(md, v.Feedback))
	case hitl.VerdictIgnore:
		inv.feedback = append(inv.feedback, memory.NotifyIgnoreFeedback(md))
	}
	return routeAfterNotify(v.Type)
}

// =============================================================================
// Act
// =============================================================================

func (e *Engine) act(ctx context.Context, inv *invocation) (Node, error) {
	resp, err := e.memory.Get(ctx, memory.NamespaceResponse)
	if err != nil {
		return "", err
	}
	cal, err := e.memory.Get(ctx, memory.NamespaceCalendar)
	if err != nil {
		return "", err
	}

	msg, err := e.proposer.Propose(ctx, types.CloneMessages(inv.state.Conversation), ports.AgentInstructions(resp, cal))
	if err != nil {
		return "", portFailure("proposer", err)
	}
	msg = normalizeProposal(msg)
	inv.state.append(msg)

	names := make([]string, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		names = append(names, tc.Name)
	}
	e.logger.Debug("action proposed",
		zap.String("thread_id", inv.threadID),
		zap.Strings("tool_calls", names),
	)
	e.observeTokens(inv.state.Conversation)
	return routeAfterAct(msg), nil
}

// normalizeProposal 强制 assistant 角色，并为缺少 id 的工具调用生成 id.
func normalizeProposal(msg types.Message) types.Message {
	msg = msg.Clone()
	msg.Role = types.RoleAssistant
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
		if len(msg.ToolCalls[i].Arguments) == 0 {
			msg.ToolCalls[i].Arguments = json.RawMessage(`{}`)
		}
	}
	return msg
}

func (e *Engine) observeTokens(conversation []types.Message) {
	if e.tokenizer == nil {
		return
	}
	msgs := make([]tokenizer.Message, 0, len(conversation))
	for _, m := range conversation {
		content := m.Content
		for _, tc := range m.ToolCalls {
			content += tc.Name + string(tc.Arguments)
		}
		msgs = append(msgs, tokenizer.Message{Role: string(m.Role), Content: content})
	}
	n, err := e.tokenizer.CountMessages(msgs)
	if err != nil {
		e.logger.Debug("token count failed", zap.Error(err))
		return
	}
	e.metrics.ObserveConversationTokens(n)
}

// =============================================================================
// Action review
// =============================================================================

// actionReview runs low-risk calls inline and raises one interrupt per
// high-risk call. It suspends when at least one interrupt was raised.
func (e *Engine) actionReview(ctx context.Context, inv *invocation) (Node, error) {
	idx := inv.state.lastAssistant()
	if idx < 0 {
		return "", types.NewError(types.ErrInternalError, "action review without a proposed action")
	}
	calls := inv.state.Conversation[idx].ToolCalls

	var pending []*hitl.Interrupt
	for _, tc := range calls {
		review, err := e.tools.RequiresReview(tc.Name)
		if err != nil {
			return "", err
		}
		if !review {
			out, err := e.execute(ctx, tc.Name, tc.Arguments)
			if err != nil {
				return "", err
			}
			inv.state.append(types.NewToolMessage(tc.ID, tc.Name, out))
			continue
		}

		policy, err := e.tools.Policy(tc.Name)
		if err != nil {
			return "", err
		}
		in := hitl.NewActionInterrupt(inv.threadID, tc.ID, tc.Name, tc.Arguments, policy,
			email.ActionDescription(inv.state.Request, tc.Name, tc.Arguments))
		pending = append(pending, in)
		e.metrics.RecordInterrupt(tc.Name)
	}

	if len(pending) > 0 {
		inv.suspend(NodeActionReview, pending)
		return NodeEnd, nil
	}
	return routeAfterActionReview(&inv.state), nil
}

// resumeActionReview applies verdicts in order. Pending and verdicts have
// already been validated as a batch.
func (e *Engine) resumeActionReview(ctx context.Context, inv *invocation, pending []*hitl.Interrupt, verdicts []hitl.Verdict) (Node, error) {
	idx := inv.state.lastAssistant()
	if idx < 0 {
		return "", types.NewError(types.ErrInternalError, "action review checkpoint without a proposed action")
	}
	md := email.RenderMarkdown(inv.state.Request)

	for i, in := range pending {
		v := verdicts[i]
		action := in.ActionRequest.Action

		switch v.Type {
		case hitl.VerdictAccept:
			out, err := e.execute(ctx, action, in.ActionRequest.Args)
			if err != nil {
				return "", err
			}
			inv.state.append(types.NewToolMessage(in.ToolCallID, action, out))

		case hitl.VerdictEdit:
			if !inv.state.rewriteCall(idx, in.ToolCallID, v.Args) {
				return "", types.NewError(types.ErrInternalError,
					fmt.Sprintf("tool call %s not found in the proposed action", in.ToolCallID))
			}
			out, err := e.execute(ctx, action, v.Args)
			if err != nil {
				return "", err
			}
			inv.state.append(types.NewToolMessage(in.ToolCallID, action, out))
			if fb, ok := memory.ActionEditFeedback(action, in.ActionRequest.Args, v.Args); ok {
				inv.feedback = append(inv.feedback, fb)
			}

		case hitl.VerdictRespond:
			inv.state.append(types.NewToolMessage(in.ToolCallID, action, tools.FeedbackMessage(action, v.Feedback)))
			if fb, ok := memory.ActionRespondFeedback(action, in.ActionRequest.Args, v.Feedback); ok {
				inv.feedback = append(inv.feedback, fb)
			}

		case hitl.VerdictIgnore:
			inv.state.append(types.NewToolMessage(in.ToolCallID, action, tools.IgnoreMessage(action)))
			inv.state.TerminationFlag = true
			inv.feedback = append(inv.feedback, memory.ActionIgnoreFeedback(action, md))
		}
	}
	return routeAfterActionReview(&inv.state), nil
}

// rewriteCall replaces the arguments of call id in message idx so that the
// conversation shows the executed arguments.
func (s *State) rewriteCall(idx int, id string, args json.RawMessage) bool {
	calls := s.Conversation[idx].ToolCalls
	for i := range calls {
		if calls[i].ID == id {
			calls[i].Arguments = append(json.RawMessage(nil), args...)
			return true
		}
	}
	return false
}

// execute runs a tool. Unknown tools and cancellation abort the invocation;
// handler failures become the tool result text.
func (e *Engine) execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	out, err := e.tools.Execute(ctx, name, args)
	if err == nil {
		return out, nil
	}
	if types.IsErrorCode(err, types.ErrUnknownTool) {
		return "", err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	e.logger.Warn("tool returned an error",
		zap.String("tool", name),
		zap.Error(err),
	)
	return tools.ErrorMessage(err), nil
}

func portFailure(port string, err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.WrapError(err, types.ErrPortFailure, port+" failed").WithHTTPStatus(http.StatusBadGateway)
}
