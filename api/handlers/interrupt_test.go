package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/agent/ports"
	"github.com/BaSui01/hitlflow/api"
	"github.com/BaSui01/hitlflow/testutil"
	"github.com/BaSui01/hitlflow/testutil/fixtures"
	"github.com/BaSui01/hitlflow/testutil/mocks"
	"github.com/BaSui01/hitlflow/tools"
	"github.com/BaSui01/hitlflow/workflow"
)

func TestInterruptHandler_ListPending(t *testing.T) {
	a := newTestAPI(t, ports.ClassificationNotify)

	w, _ := a.do(t, http.MethodPost, "/api/v1/threads/a/invoke", api.InvokeRequest{Request: fixtures.DeploymentNoticeEmail})
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = a.do(t, http.MethodPost, "/api/v1/threads/b/invoke", api.InvokeRequest{Request: fixtures.DeploymentNoticeEmail})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := a.do(t, http.MethodGet, "/api/v1/interrupts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decodeData[api.InterruptListResponse](t, env).Total)

	w, env = a.do(t, http.MethodGet, "/api/v1/interrupts?thread_id=b", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeData[api.InterruptListResponse](t, env)
	require.Len(t, list.Interrupts, 1)
	assert.Equal(t, "b", list.Interrupts[0].ThreadID)
	assert.Equal(t, hitl.InterruptKindNotify, list.Interrupts[0].Kind)

	w, env = a.do(t, http.MethodGet, "/api/v1/interrupts?thread_id=none", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeData[api.InterruptListResponse](t, env).Interrupts)
}

func TestInterruptHandler_ListReadsSharedStore(t *testing.T) {
	a := newTestAPI(t)
	ctx := testutil.TestContext(t)
	logger := zaptest.NewLogger(t)

	// 另一个实例共用同一存储，本进程的中断索引对它一无所知
	other, err := workflow.NewEngine(workflow.Deps{
		Store:      a.store,
		Classifier: mocks.NewScriptedClassifier(ports.ClassificationNotify),
		Proposer:   mocks.NewScriptedProposer(),
		Tools:      tools.NewDefaultRegistry(logger),
		Logger:     logger,
	}, workflow.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })

	res, err := other.Start(ctx, "elsewhere", fixtures.DeploymentNoticeEmail)
	require.NoError(t, err)
	require.Len(t, res.Interrupts, 1)

	indexed, err := a.interrupts.Pending(ctx, "")
	require.NoError(t, err)
	require.Empty(t, indexed)

	w, env := a.do(t, http.MethodGet, "/api/v1/interrupts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeData[api.InterruptListResponse](t, env)
	require.Len(t, list.Interrupts, 1)
	assert.Equal(t, res.Interrupts[0].ID, list.Interrupts[0].ID)

	// 本实例处理后列表为空
	id := res.Interrupts[0].ID
	w, _ = a.do(t, http.MethodPost, "/api/v1/threads/elsewhere/resume",
		api.ResumeRequest{Verdicts: []hitl.Verdict{hitl.Ignore().For(id)}})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = a.do(t, http.MethodGet, "/api/v1/interrupts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeData[api.InterruptListResponse](t, env).Interrupts)
}

func TestInterruptHandler_StreamPushesRaisedInterrupts(t *testing.T) {
	a := newTestAPI(t, ports.ClassificationNotify)
	srv := httptest.NewServer(a.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/interrupts/stream?thread_id=watched"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// an unrelated thread is filtered out
	w, _ := a.do(t, http.MethodPost, "/api/v1/threads/other/invoke", api.InvokeRequest{Request: fixtures.DeploymentNoticeEmail})
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = a.do(t, http.MethodPost, "/api/v1/threads/watched/invoke", api.InvokeRequest{Request: fixtures.DeploymentNoticeEmail})
	require.Equal(t, http.StatusOK, w.Code)

	var ev hitl.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, hitl.EventRaised, ev.Type)
	require.NotNil(t, ev.Interrupt)
	assert.Equal(t, "watched", ev.Interrupt.ThreadID)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestInterruptHandler_CloseEndsStreams(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/interrupts/stream", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	done := make(chan struct{})
	go func() {
		a.intHandler.Close()
		close(done)
	}()

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	_, ok := testutil.WaitForChannel(done, 5*time.Second)
	require.True(t, ok, "Close did not return")
}

func TestInterruptHandler_RejectsPlainHTTP(t *testing.T) {
	a := newTestAPI(t)
	w, _ := a.do(t, http.MethodGet, "/api/v1/interrupts/stream", nil)
	assert.GreaterOrEqual(t, w.Code, 400)
}
