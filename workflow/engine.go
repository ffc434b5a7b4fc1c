package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/agent/memory"
	"github.com/BaSui01/hitlflow/agent/persistence"
	"github.com/BaSui01/hitlflow/agent/ports"
	"github.com/BaSui01/hitlflow/internal/metrics"
	"github.com/BaSui01/hitlflow/llm/tokenizer"
	"github.com/BaSui01/hitlflow/tools"
	"github.com/BaSui01/hitlflow/types"
)

// DefaultMaxSteps 单次调用内最多执行的节点步数.
const DefaultMaxSteps = 64

// ErrEngineClosed matches (errors.Is) the error invocations return after Close.
var ErrEngineClosed = newEngineClosedError()

func newEngineClosedError() *types.Error {
	return types.NewError(types.ErrServiceUnavailable, "workflow engine is closed").
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithRetryable(true)
}

// Deps 是引擎的外部依赖. Store、Classifier、Proposer、Tools 必填.
type Deps struct {
	Store      persistence.StateStore
	Classifier ports.Classifier
	Proposer   ports.Proposer
	Tools      *tools.Registry

	// Memory 为空时使用不带修订端口的同步更新器（只读取偏好）
	Memory *memory.Updater
	// Interrupts 为空时不广播中断事件
	Interrupts *hitl.InterruptManager
	Metrics    *metrics.Collector
	// Tokenizer 为空时不统计对话 token
	Tokenizer tokenizer.Tokenizer
	Logger    *zap.Logger
}

// Options 引擎选项
type Options struct {
	MaxSteps int
	Tracer   trace.Tracer
}

// Engine drives threads through the triage/notify/act/review state machine,
// persisting a snapshot after every invocation.
type Engine struct {
	store      persistence.StateStore
	classifier ports.Classifier
	proposer   ports.Proposer
	tools      *tools.Registry
	memory     *memory.Updater
	ownMemory  bool
	interrupts *hitl.InterruptManager
	metrics    *metrics.Collector
	tokenizer  tokenizer.Tokenizer
	tracer     trace.Tracer
	logger     *zap.Logger

	maxSteps atomic.Int64
	locks    *threadLocks
	closed   atomic.Bool
}

// NewEngine creates an engine.
func NewEngine(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("workflow engine: store is required")
	case deps.Classifier == nil:
		return nil, fmt.Errorf("workflow engine: classifier is required")
	case deps.Proposer == nil:
		return nil, fmt.Errorf("workflow engine: proposer is required")
	case deps.Tools == nil:
		return nil, fmt.Errorf("workflow engine: tool registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		store:      deps.Store,
		classifier: deps.Classifier,
		proposer:   deps.Proposer,
		tools:      deps.Tools,
		memory:     deps.Memory,
		interrupts: deps.Interrupts,
		metrics:    deps.Metrics,
		tokenizer:  deps.Tokenizer,
		tracer:     opts.Tracer,
		logger:     logger.With(zap.String("component", "workflow_engine")),
		locks:      newThreadLocks(),
	}
	if e.memory == nil {
		cfg := memory.DefaultConfig()
		cfg.Mode = memory.ModeSync
		m, err := memory.NewUpdater(deps.Store, nil, cfg, logger, memory.WithMetrics(deps.Metrics))
		if err != nil {
			return nil, err
		}
		e.memory = m
		e.ownMemory = true
	}
	if e.metrics != nil {
		e.tools.OnExecute(e.metrics.RecordToolExecution)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/BaSui01/hitlflow/workflow")
	}
	e.SetMaxSteps(opts.MaxSteps)
	return e, nil
}

// SetMaxSteps 调整单次调用的步数上限，运行中的调用在下一步读取新值. n <= 0 恢复默认值.
func (e *Engine) SetMaxSteps(n int) {
	if n <= 0 {
		n = DefaultMaxSteps
	}
	e.maxSteps.Store(int64(n))
}

// Start runs a new thread from Triage with request.
func (e *Engine) Start(ctx context.Context, threadID string, request []byte) (*Result, error) {
	return e.Invoke(ctx, threadID, Input{Request: request})
}

// Resume applies verdicts to the pending interrupt batch of threadID.
func (e *Engine) Resume(ctx context.Context, threadID string, verdicts ...hitl.Verdict) (*Result, error) {
	return e.Invoke(ctx, threadID, Input{Verdicts: verdicts})
}

// Invoke starts or resumes a thread. Exactly one of in.Request and
// in.Verdicts must be set. Nothing is persisted when an error is returned.
func (e *Engine) Invoke(ctx context.Context, threadID string, in Input) (res *Result, err error) {
	if e.closed.Load() {
		return nil, newEngineClosedError()
	}
	if strings.TrimSpace(threadID) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "thread id is required").WithHTTPStatus(http.StatusBadRequest)
	}
	hasRequest := len(bytes.TrimSpace(in.Request)) > 0
	if hasRequest == (len(in.Verdicts) > 0) {
		return nil, types.NewError(types.ErrInvalidRequest, "exactly one of request or verdicts must be provided").
			WithHTTPStatus(http.StatusBadRequest)
	}

	kind := "start"
	if !hasRequest {
		kind = "resume"
	}
	ctx = types.WithThreadID(ctx, threadID)
	ctx, span := e.tracer.Start(ctx, "workflow."+kind, trace.WithAttributes(attribute.String("thread.id", threadID)))
	start := time.Now()
	defer func() {
		status := "error"
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			status = string(res.Status)
			span.SetAttributes(attribute.String("workflow.status", status))
		}
		e.metrics.RecordInvocation(kind, status, time.Since(start))
		span.End()
	}()

	unlock, err := e.locks.acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if hasRequest {
		return e.start(ctx, threadID, in.Request)
	}
	return e.resume(ctx, threadID, in.Verdicts)
}

func (e *Engine) start(ctx context.Context, threadID string, request []byte) (*Result, error) {
	_, err := e.store.GetThread(ctx, threadID)
	switch {
	case err == nil:
		return nil, types.NewThreadExistsError(threadID)
	case !errors.Is(err, persistence.ErrNotFound):
		return nil, e.storeError(ctx, err)
	}

	inv := &invocation{
		threadID: threadID,
		state:    State{Request: append([]byte(nil), request...), Conversation: []types.Message{}},
		history:  newExecutionHistory(nil),
	}
	e.logger.Info("thread started", zap.String("thread_id", threadID))

	if err := e.run(ctx, inv, NodeTriage); err != nil {
		return nil, err
	}
	return e.commit(ctx, inv, 0)
}

func (e *Engine) resume(ctx context.Context, threadID string, verdicts []hitl.Verdict) (*Result, error) {
	rec, err := e.store.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, types.NewThreadNotFoundError(threadID)
		}
		return nil, e.storeError(ctx, err)
	}
	snap, err := decodeSnapshot(rec.Data)
	if err != nil {
		return nil, types.WrapError(err, types.ErrInternalError, "corrupt thread snapshot")
	}
	cp := snap.Checkpoint
	if cp == nil || len(cp.Pending) == 0 {
		return nil, types.NewNoPendingInterruptError(threadID)
	}
	for i, v := range verdicts {
		if v.InterruptID == "" {
			return nil, types.NewInvalidVerdictError(fmt.Sprintf("verdict %d is missing interrupt_id", i))
		}
		if i < len(cp.Pending) && v.InterruptID != cp.Pending[i].ID {
			return nil, types.NewNoPendingInterruptError(threadID).
				WithCause(fmt.Errorf("interrupt %s is not pending", v.InterruptID))
		}
	}
	if err := hitl.ValidateBatch(cp.Pending, verdicts); err != nil {
		return nil, err
	}

	inv := &invocation{
		threadID: threadID,
		state:    snap.State,
		history:  newExecutionHistory(snap.History),
	}
	e.logger.Info("thread resumed",
		zap.String("thread_id", threadID),
		zap.String("node", string(cp.Node)),
		zap.Int("verdicts", len(verdicts)),
	)

	next, err := e.applyVerdicts(ctx, inv, cp, verdicts)
	if err != nil {
		return nil, err
	}
	if next != NodeEnd {
		if err := e.run(ctx, inv, next); err != nil {
			return nil, err
		}
	}
	return e.commit(ctx, inv, rec.Version)
}

// applyVerdicts continues the suspended node with the validated verdicts.
func (e *Engine) applyVerdicts(ctx context.Context, inv *invocation, cp *Checkpoint, verdicts []hitl.Verdict) (Node, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.node."+string(cp.Node)+".resume")
	defer span.End()

	start := time.Now()
	var (
		next Node
		err  error
	)
	switch cp.Node {
	case NodeNotifyReview:
		next = e.resumeNotify(ctx, inv, cp.Pending[0], verdicts[0])
	case NodeActionReview:
		next, err = e.resumeActionReview(ctx, inv, cp.Pending, verdicts)
	default:
		err = types.NewError(types.ErrInternalError, fmt.Sprintf("checkpoint at unexpected node %q", cp.Node))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	for i, in := range cp.Pending {
		resolved := *in
		resolved.Resolve(verdicts[i])
		inv.resolved = append(inv.resolved, &resolved)
		e.metrics.RecordVerdict(in.ActionRequest.Action, string(verdicts[i].Type))
	}
	inv.history.record(cp.Node, next, start, false)
	e.metrics.RecordTransition(string(cp.Node), string(next))
	return next, nil
}

// run executes nodes from node until End or a suspension.
func (e *Engine) run(ctx context.Context, inv *invocation, node Node) error {
	for node != NodeEnd {
		if limit := int(e.maxSteps.Load()); inv.steps >= limit {
			return types.NewError(types.ErrInternalError,
				fmt.Sprintf("thread %s exceeded %d steps in one invocation", inv.threadID, limit))
		}
		inv.steps++

		start := time.Now()
		next, err := e.step(ctx, inv, node)
		if err != nil {
			e.logger.Warn("node failed",
				zap.String("thread_id", inv.threadID),
				zap.String("node", string(node)),
				zap.Error(err),
			)
			return err
		}
		if inv.checkpoint != nil {
			inv.history.record(node, inv.checkpoint.Node, start, true)
			return nil
		}
		inv.history.record(node, next, start, false)
		e.metrics.RecordTransition(string(node), string(next))
		node = next
	}
	return nil
}

func (e *Engine) step(ctx context.Context, inv *invocation, node Node) (next Node, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.node."+string(node),
		trace.WithAttributes(attribute.String("thread.id", inv.threadID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("workflow.next", string(next)))
		}
		span.End()
	}()

	switch node {
	case NodeTriage:
		return e.triage(ctx, inv)
	case NodeNotifyReview:
		return e.notifyReview(ctx, inv)
	case NodeAct:
		return e.act(ctx, inv)
	case NodeActionReview:
		return e.actionReview(ctx, inv)
	default:
		return "", types.NewError(types.ErrInternalError, fmt.Sprintf("unknown node %q", node))
	}
}

// commit persists the invocation with a version check, then publishes
// interrupt events and memory feedback.
func (e *Engine) commit(ctx context.Context, inv *invocation, expectedVersion int64) (*Result, error) {
	status := ThreadStatusFor(inv.checkpoint)
	data, err := encodeSnapshot(&snapshot{
		State:      inv.state,
		Checkpoint: inv.checkpoint,
		History:    inv.history.list(),
	})
	if err != nil {
		return nil, types.WrapError(err, types.ErrInternalError, "encode thread snapshot")
	}

	version, err := e.store.PutThread(ctx, &persistence.ThreadRecord{
		ThreadID: inv.threadID,
		Status:   status,
		Data:     data,
	}, expectedVersion)
	if err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) {
			if expectedVersion == 0 {
				return nil, types.NewThreadExistsError(inv.threadID)
			}
			return nil, types.NewConcurrentInvocationError(inv.threadID, err)
		}
		return nil, e.storeError(ctx, err)
	}

	e.publish(ctx, inv)

	res := &Result{
		ThreadID: inv.threadID,
		Status:   StatusCompleted,
		State:    inv.state.Clone(),
		Version:  version,
	}
	if inv.checkpoint != nil {
		res.Status = StatusInterrupted
		res.Interrupts = inv.checkpoint.Pending
	}
	e.logger.Info("invocation committed",
		zap.String("thread_id", inv.threadID),
		zap.String("status", string(res.Status)),
		zap.Int64("version", version),
		zap.Int("messages", len(inv.state.Conversation)),
	)
	return res, nil
}

func (e *Engine) publish(ctx context.Context, inv *invocation) {
	if e.interrupts != nil {
		if len(inv.resolved) > 0 {
			if err := e.interrupts.Resolve(ctx, inv.resolved); err != nil {
				e.logger.Warn("failed to index resolved interrupts", zap.Error(err))
			}
		}
		if inv.checkpoint != nil {
			if err := e.interrupts.Raise(ctx, inv.checkpoint.Pending); err != nil {
				e.logger.Warn("failed to index raised interrupts", zap.Error(err))
			}
		}
	}
	for _, fb := range inv.feedback {
		e.memory.Submit(ctx, fb)
	}
}

// GetState returns the persisted view of a thread.
func (e *Engine) GetState(ctx context.Context, threadID string) (*ThreadState, error) {
	rec, err := e.store.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, types.NewThreadNotFoundError(threadID)
		}
		return nil, e.storeError(ctx, err)
	}
	snap, err := decodeSnapshot(rec.Data)
	if err != nil {
		return nil, types.WrapError(err, types.ErrInternalError, "corrupt thread snapshot")
	}

	ts := &ThreadState{
		ThreadID: threadID,
		Status:   StatusCompleted,
		State:    snap.State,
		Next:     []Node{},
		History:  snap.History,
		Version:  rec.Version,
		Created:  rec.CreatedAt,
		Updated:  rec.UpdatedAt,
	}
	if snap.Checkpoint != nil {
		ts.Status = StatusInterrupted
		ts.Next = []Node{snap.Checkpoint.Node}
		ts.Pending = snap.Checkpoint.Pending
	}
	return ts, nil
}

// PendingInterrupts 从检查点读取挂起中断，threadID 为空时遍历所有中断中的线程.
// 结果只依赖存储，进程重启或多实例共享存储时保持一致.
func (e *Engine) PendingInterrupts(ctx context.Context, threadID string) ([]*hitl.Interrupt, error) {
	if threadID != "" {
		st, err := e.GetState(ctx, threadID)
		if err != nil {
			if types.IsErrorCode(err, types.ErrThreadNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return st.Pending, nil
	}

	recs, err := e.store.ListThreads(ctx, persistence.ThreadFilter{Status: persistence.ThreadStatusInterrupted})
	if err != nil {
		return nil, e.storeError(ctx, err)
	}
	var out []*hitl.Interrupt
	for _, rec := range recs {
		snap, err := decodeSnapshot(rec.Data)
		if err != nil {
			e.logger.Warn("skipping corrupt thread snapshot",
				zap.String("thread_id", rec.ThreadID), zap.Error(err))
			continue
		}
		if snap.Checkpoint != nil {
			out = append(out, snap.Checkpoint.Pending...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close stops accepting invocations and drains the memory updater when the
// engine created it.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.ownMemory {
		return e.memory.Close()
	}
	return nil
}

// ThreadStatusFor maps a checkpoint to the coarse store status.
func ThreadStatusFor(cp *Checkpoint) persistence.ThreadStatus {
	if cp != nil {
		return persistence.ThreadStatusInterrupted
	}
	return persistence.ThreadStatusCompleted
}

func (e *Engine) storeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.NewStoreUnavailableError(err)
}
