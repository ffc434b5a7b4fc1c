package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/agent/memory"
	"github.com/BaSui01/hitlflow/agent/persistence"
	"github.com/BaSui01/hitlflow/agent/ports"
	"github.com/BaSui01/hitlflow/testutil/mocks"
	"github.com/BaSui01/hitlflow/tools"
	"github.com/BaSui01/hitlflow/workflow"
)

// envelope mirrors Response with a raw payload for typed decoding.
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorInfo      `json:"error"`
	RequestID string          `json:"request_id"`
}

type testAPI struct {
	mux        *http.ServeMux
	store      *persistence.MemoryStateStore
	interrupts *hitl.InterruptManager
	intHandler *InterruptHandler
	engine     *workflow.Engine
}

func newTestAPI(t *testing.T, classes ...ports.Classification) *testAPI {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store := persistence.NewMemoryStateStore()
	interrupts := hitl.NewInterruptManager(nil, logger)

	cfg := memory.DefaultConfig()
	cfg.Mode = memory.ModeSync
	updater, err := memory.NewUpdater(store, mocks.NewRecordingReviser(), cfg, logger)
	require.NoError(t, err)

	engine, err := workflow.NewEngine(workflow.Deps{
		Store:      store,
		Classifier: mocks.NewScriptedClassifier(classes...),
		Proposer:   mocks.NewScriptedProposer(),
		Tools:      tools.NewDefaultRegistry(logger),
		Memory:     updater,
		Interrupts: interrupts,
		Logger:     logger,
	}, workflow.Options{})
	require.NoError(t, err)

	ih := NewInterruptHandler(engine, interrupts, nil, logger)
	t.Cleanup(func() {
		ih.Close()
		_ = engine.Close()
		_ = updater.Close()
	})

	mux := http.NewServeMux()
	Register(mux, Routes{
		Health:      NewHealthHandler("test", logger),
		Threads:     NewThreadHandler(engine, store, logger),
		Preferences: NewPreferenceHandler(updater, store, logger),
		Interrupts:  ih,
	})
	return &testAPI{mux: mux, store: store, interrupts: interrupts, intHandler: ih, engine: engine}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}
