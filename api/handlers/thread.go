package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/agent/persistence"
	"github.com/BaSui01/hitlflow/api"
	"github.com/BaSui01/hitlflow/types"
	"github.com/BaSui01/hitlflow/workflow"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ThreadEngine 是线程处理器依赖的引擎能力，*workflow.Engine 实现了它.
type ThreadEngine interface {
	Invoke(ctx context.Context, threadID string, in workflow.Input) (*workflow.Result, error)
	GetState(ctx context.Context, threadID string) (*workflow.ThreadState, error)
}

// ThreadLister lists persisted threads.
type ThreadLister interface {
	ListThreads(ctx context.Context, filter persistence.ThreadFilter) ([]*persistence.ThreadRecord, error)
}

// ThreadHandler 处理线程的启动、恢复与查询.
type ThreadHandler struct {
	engine ThreadEngine
	lister ThreadLister
	logger *zap.Logger
}

// NewThreadHandler 创建线程处理器. lister 为空时不提供列表接口.
func NewThreadHandler(engine ThreadEngine, lister ThreadLister, logger *zap.Logger) *ThreadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadHandler{
		engine: engine,
		lister: lister,
		logger: logger.With(zap.String("handler", "thread")),
	}
}

// HandleInvoke 以邮件请求启动线程.
// @Summary 启动线程
// @Tags threads
// @Accept json
// @Produce json
// @Param id path string true "线程 ID"
// @Param request body api.InvokeRequest true "邮件请求"
// @Success 200 {object} Response
// @Failure 409 {object} Response "线程已存在"
// @Router /api/v1/threads/{id}/invoke [post]
func (h *ThreadHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	var req api.InvokeRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.invoke(w, r, workflow.Input{Request: req.Request})
}

// HandleResume 以审核结论恢复线程.
// @Summary 恢复线程
// @Tags threads
// @Accept json
// @Produce json
// @Param id path string true "线程 ID"
// @Param request body api.ResumeRequest true "审核结论"
// @Success 200 {object} Response
// @Failure 400 {object} Response "结论不合法"
// @Failure 409 {object} Response "没有待审核中断"
// @Router /api/v1/threads/{id}/resume [post]
func (h *ThreadHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	var req api.ResumeRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if len(req.Verdicts) == 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidVerdict, "verdicts must not be empty", h.logger)
		return
	}
	for i, v := range req.Verdicts {
		if v.InterruptID == "" {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidVerdict,
				fmt.Sprintf("verdicts[%d].interrupt_id is required", i), h.logger)
			return
		}
	}
	h.invoke(w, r, workflow.Input{Verdicts: req.Verdicts})
}

func (h *ThreadHandler) invoke(w http.ResponseWriter, r *http.Request, in workflow.Input) {
	threadID := r.PathValue("id")
	res, err := h.engine.Invoke(r.Context(), threadID, in)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.FromResult(res))
}

// HandleGetState 返回线程状态、下一节点与挂起的中断.
// @Router /api/v1/threads/{id} [get]
func (h *ThreadHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, state)
}

// HandleList 按更新时间倒序列出线程，支持 status 与 limit 查询参数.
// @Router /api/v1/threads [get]
func (h *ThreadHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		WriteErrorMessage(w, r, http.StatusNotImplemented, types.ErrServiceUnavailable, "thread listing is not available", h.logger)
		return
	}

	q := r.URL.Query()
	filter := persistence.ThreadFilter{Limit: defaultListLimit}
	if s := q.Get("status"); s != "" {
		st := persistence.ThreadStatus(s)
		if st != persistence.ThreadStatusInterrupted && st != persistence.ThreadStatusCompleted {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "status must be interrupted or completed", h.logger)
			return
		}
		filter.Status = st
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxListLimit {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be between 1 and 500", h.logger)
			return
		}
		filter.Limit = n
	}

	recs, err := h.lister.ListThreads(r.Context(), filter)
	if err != nil {
		WriteError(w, r, types.NewStoreUnavailableError(err), h.logger)
		return
	}
	out := api.ThreadListResponse{Threads: make([]api.ThreadSummary, 0, len(recs)), Total: len(recs)}
	for _, rec := range recs {
		out.Threads = append(out.Threads, api.ThreadSummary{
			ThreadID:  rec.ThreadID,
			Status:    string(rec.Status),
			Version:   rec.Version,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	WriteSuccess(w, r, out)
}
