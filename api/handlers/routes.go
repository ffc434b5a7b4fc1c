package handlers

import "net/http"

// Routes 汇总需要挂载的处理器，为空的处理器对应的路由不注册.
type Routes struct {
	Health      *HealthHandler
	Threads     *ThreadHandler
	Preferences *PreferenceHandler
	Interrupts  *InterruptHandler

	BuildTime string
	GitCommit string
}

// PublicPaths 不需要认证的路径.
var PublicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// Register 在 mux 上注册 API 路由.
func Register(mux *http.ServeMux, rt Routes) {
	if h := rt.Health; h != nil {
		mux.HandleFunc("GET /health", h.HandleHealth)
		mux.HandleFunc("GET /healthz", h.HandleHealth)
		mux.HandleFunc("GET /ready", h.HandleReady)
		mux.HandleFunc("GET /readyz", h.HandleReady)
		mux.HandleFunc("GET /version", h.HandleVersion(rt.BuildTime, rt.GitCommit))
	}
	if h := rt.Threads; h != nil {
		mux.HandleFunc("GET /api/v1/threads", h.HandleList)
		mux.HandleFunc("GET /api/v1/threads/{id}", h.HandleGetState)
		mux.HandleFunc("POST /api/v1/threads/{id}/invoke", h.HandleInvoke)
		mux.HandleFunc("POST /api/v1/threads/{id}/resume", h.HandleResume)
	}
	if h := rt.Preferences; h != nil {
		mux.HandleFunc("GET /api/v1/preferences", h.HandleList)
		mux.HandleFunc("GET /api/v1/preferences/{namespace}", h.HandleGet)
		mux.HandleFunc("PUT /api/v1/preferences/{namespace}", h.HandlePut)
	}
	if h := rt.Interrupts; h != nil {
		mux.HandleFunc("GET /api/v1/interrupts", h.HandleList)
		mux.HandleFunc("GET /api/v1/interrupts/stream", h.HandleStream)
	}
}
