package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/api"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// PendingSource 从线程检查点列出挂起中断，*workflow.Engine 实现了它.
type PendingSource interface {
	PendingInterrupts(ctx context.Context, threadID string) ([]*hitl.Interrupt, error)
}

// EventSource 是中断事件流，*hitl.InterruptManager 实现了它.
type EventSource interface {
	Subscribe(buffer int) (<-chan hitl.Event, func())
}

// InterruptHandler 列出待审核中断，并通过 websocket 推送中断事件.
type InterruptHandler struct {
	pending        PendingSource
	events         EventSource
	originPatterns []string
	logger         *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInterruptHandler 创建中断处理器. originPatterns 为允许跨域的 websocket 来源.
func NewInterruptHandler(pending PendingSource, events EventSource, originPatterns []string, logger *zap.Logger) *InterruptHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InterruptHandler{
		pending:        pending,
		events:         events,
		originPatterns: originPatterns,
		logger:         logger.With(zap.String("handler", "interrupt")),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// HandleList 返回待审核中断，可按 thread_id 过滤.
// @Router /api/v1/interrupts [get]
func (h *InterruptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.pending.PendingInterrupts(r.Context(), r.URL.Query().Get("thread_id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if list == nil {
		list = []*hitl.Interrupt{}
	}
	WriteSuccess(w, r, api.InterruptListResponse{Interrupts: list, Total: len(list)})
}

// HandleStream 升级为 websocket，逐条推送 hitl.Event JSON.
// 可选 thread_id 查询参数只推送该线程的事件.
// @Router /api/v1/interrupts/stream [get]
func (h *InterruptHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	h.wg.Add(1)
	defer h.wg.Done()

	// 握手前订阅，握手完成后产生的事件不会丢失
	threadID := r.URL.Query().Get("thread_id")
	events, unsubscribe := h.events.Subscribe(streamBuffer)
	defer unsubscribe()

	// 清除服务器级读写超时，长连接只受 ping 与写超时约束
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端不发送数据，CloseRead 在对端关闭时取消 ctx.
	// 关闭处理器时 h.ctx 单独取消，读循环仍在运行，GoingAway 关闭帧才能完成握手
	ctx := conn.CloseRead(r.Context())
	h.logger.Info("interrupt stream opened", zap.String("thread_id", threadID), zap.String("remote", r.RemoteAddr))

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-h.ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			h.logger.Info("interrupt stream closed on shutdown", zap.String("remote", r.RemoteAddr))
			return
		case <-ctx.Done():
			h.logger.Info("interrupt stream closed", zap.String("remote", r.RemoteAddr))
			return
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			if threadID != "" && ev.Interrupt.ThreadID != threadID {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Warn("interrupt stream write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

// Close 关闭所有推送连接并等待其退出，注册为 HTTP 服务器关闭钩子.
func (h *InterruptHandler) Close() {
	h.cancel()
	h.wg.Wait()
}
