package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/agent/ports"
	"github.com/BaSui01/hitlflow/api"
	"github.com/BaSui01/hitlflow/testutil/fixtures"
	"github.com/BaSui01/hitlflow/types"
	"github.com/BaSui01/hitlflow/workflow"
)

func TestThreadHandler_InvokeIgnoredEmail(t *testing.T) {
	a := newTestAPI(t, ports.ClassificationIgnore)

	w, env := a.do(t, http.MethodPost, "/api/v1/threads/t-1/invoke", api.InvokeRequest{Request: fixtures.NewsletterEmail})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.True(t, env.Success)

	res := decodeData[api.InvokeResponse](t, env)
	assert.Equal(t, "t-1", res.ThreadID)
	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Equal(t, int64(1), res.Version)
	assert.Empty(t, res.Interrupts)
}

func TestThreadHandler_InvokeTwiceConflicts(t *testing.T) {
	a := newTestAPI(t, ports.ClassificationIgnore)
	body := api.InvokeRequest{Request: fixtures.NewsletterEmail}

	w, _ := a.do(t, http.MethodPost, "/api/v1/threads/t-1/invoke", body)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := a.do(t, http.MethodPost, "/api/v1/threads/t-1/invoke", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrThreadExists), env.Error.Code)
}

func TestThreadHandler_NotifyThenResume(t *testing.T) {
	a := newTestAPI(t, ports.ClassificationNotify)

	w, env := a.do(t, http.MethodPost, "/api/v1/threads/t-2/invoke", api.InvokeRequest{Request: fixtures.DeploymentNoticeEmail})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeData[api.InvokeResponse](t, env)
	require.Equal(t, workflow.StatusInterrupted, res.Status)
	require.Len(t, res.Interrupts, 1)

	w, env = a.do(t, http.MethodGet, "/api/v1/threads/t-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decodeData[workflow.ThreadState](t, env)
	assert.Equal(t, []workflow.Node{workflow.NodeNotifyReview}, state.Next)
	require.Len(t, state.Pending, 1)

	// accept is not allowed on a notification
	w, env = a.do(t, http.MethodPost, "/api/v1/threads/t-2/resume", api.ResumeRequest{Verdicts: []hitl.Verdict{hitl.Accept().For(res.Interrupts[0].ID)}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrInvalidVerdict), env.Error.Code)

	ignore := hitl.Ignore().For(res.Interrupts[0].ID)
	w, env = a.do(t, http.MethodPost, "/api/v1/threads/t-2/resume", api.ResumeRequest{Verdicts: []hitl.Verdict{ignore}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = decodeData[api.InvokeResponse](t, env)
	assert.Equal(t, workflow.StatusCompleted, res.Status)

	// 重放同一结论
	w, env = a.do(t, http.MethodPost, "/api/v1/threads/t-2/resume", api.ResumeRequest{Verdicts: []hitl.Verdict{ignore}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrNoPendingInterrupt), env.Error.Code)
}

func TestThreadHandler_ClosedEngineIsUnavailable(t *testing.T) {
	a := newTestAPI(t, ports.ClassificationIgnore)
	require.NoError(t, a.engine.Close())

	w, env := a.do(t, http.MethodPost, "/api/v1/threads/t-1/invoke", api.InvokeRequest{Request: fixtures.NewsletterEmail})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrServiceUnavailable), env.Error.Code)
	assert.True(t, env.Error.Retryable)
}

func TestThreadHandler_Errors(t *testing.T) {
	a := newTestAPI(t, ports.ClassificationIgnore)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"unknown thread", http.MethodGet, "/api/v1/threads/missing", nil, http.StatusNotFound, types.ErrThreadNotFound},
		{"resume unknown thread", http.MethodPost, "/api/v1/threads/missing/resume",
			api.ResumeRequest{Verdicts: []hitl.Verdict{hitl.Ignore().For("int-1")}}, http.StatusNotFound, types.ErrThreadNotFound},
		{"verdict without interrupt id", http.MethodPost, "/api/v1/threads/x/resume",
			`{"verdicts":[{"type":"ignore"}]}`, http.StatusBadRequest, types.ErrInvalidVerdict},
		{"empty verdicts", http.MethodPost, "/api/v1/threads/x/resume", `{"verdicts":[]}`, http.StatusBadRequest, types.ErrInvalidVerdict},
		{"unknown field", http.MethodPost, "/api/v1/threads/x/invoke", `{"email":{}}`, http.StatusBadRequest, types.ErrInvalidRequest},
		{"malformed json", http.MethodPost, "/api/v1/threads/x/invoke", `{"request":`, http.StatusBadRequest, types.ErrInvalidRequest},
		{"missing request", http.MethodPost, "/api/v1/threads/x/invoke", `{}`, http.StatusBadRequest, types.ErrInvalidRequest},
		{"trailing data", http.MethodPost, "/api/v1/threads/x/invoke", `{"request":{}} {}`, http.StatusBadRequest, types.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := a.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, string(tt.wantCode), env.Error.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestThreadHandler_List(t *testing.T) {
	a := newTestAPI(t, ports.ClassificationIgnore, ports.ClassificationNotify)

	w, _ := a.do(t, http.MethodPost, "/api/v1/threads/done/invoke", api.InvokeRequest{Request: fixtures.NewsletterEmail})
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = a.do(t, http.MethodPost, "/api/v1/threads/waiting/invoke", api.InvokeRequest{Request: fixtures.DeploymentNoticeEmail})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := a.do(t, http.MethodGet, "/api/v1/threads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decodeData[api.ThreadListResponse](t, env)
	assert.Equal(t, 2, all.Total)

	w, env = a.do(t, http.MethodGet, "/api/v1/threads?status=interrupted", nil)
	require.Equal(t, http.StatusOK, w.Code)
	waiting := decodeData[api.ThreadListResponse](t, env)
	require.Len(t, waiting.Threads, 1)
	assert.Equal(t, "waiting", waiting.Threads[0].ThreadID)

	w, _ = a.do(t, http.MethodGet, "/api/v1/threads?status=running", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = a.do(t, http.MethodGet, "/api/v1/threads?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestThreadHandler_ListWithoutLister(t *testing.T) {
	h := NewThreadHandler(nil, nil, nil)
	mux := http.NewServeMux()
	Register(mux, Routes{Threads: h})

	a := &testAPI{mux: mux}
	w, env := a.do(t, http.MethodGet, "/api/v1/threads", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, string(types.ErrServiceUnavailable), env.Error.Code)
}
