package handlers

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/agent/memory"
	"github.com/BaSui01/hitlflow/api"
	"github.com/BaSui01/hitlflow/types"
)

// PreferenceReader 读取偏好，首次读取时写入默认值. *memory.Updater 实现了它.
type PreferenceReader interface {
	Get(ctx context.Context, namespace string) (string, error)
}

// PreferenceWriter 覆盖偏好. persistence.PreferenceStore 实现了它.
type PreferenceWriter interface {
	PutMemory(ctx context.Context, namespace, content string) error
}

// PreferenceHandler 查看与人工修订偏好记忆.
type PreferenceHandler struct {
	reader PreferenceReader
	writer PreferenceWriter
	logger *zap.Logger
}

// NewPreferenceHandler 创建偏好处理器
func NewPreferenceHandler(reader PreferenceReader, writer PreferenceWriter, logger *zap.Logger) *PreferenceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreferenceHandler{
		reader: reader,
		writer: writer,
		logger: logger.With(zap.String("handler", "preference")),
	}
}

// HandleList 返回所有已知命名空间的内容.
// @Router /api/v1/preferences [get]
func (h *PreferenceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	out := make([]api.Preference, 0, len(memory.Namespaces()))
	for _, ns := range memory.Namespaces() {
		content, err := h.reader.Get(r.Context(), ns)
		if err != nil {
			WriteError(w, r, err, h.logger)
			return
		}
		out = append(out, api.Preference{Namespace: ns, Content: content})
	}
	WriteSuccess(w, r, out)
}

// HandleGet 读取一个命名空间.
// @Router /api/v1/preferences/{namespace} [get]
func (h *PreferenceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ns, ok := h.namespace(w, r)
	if !ok {
		return
	}
	content, err := h.reader.Get(r.Context(), ns)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.Preference{Namespace: ns, Content: content})
}

// HandlePut 覆盖一个命名空间. 人工修订不经过保留规则.
// @Router /api/v1/preferences/{namespace} [put]
func (h *PreferenceHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	ns, ok := h.namespace(w, r)
	if !ok {
		return
	}
	var req api.PutPreferenceRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "content must not be empty", h.logger)
		return
	}
	if err := h.writer.PutMemory(r.Context(), ns, req.Content); err != nil {
		WriteError(w, r, types.NewStoreUnavailableError(err), h.logger)
		return
	}
	h.logger.Info("preferences overwritten", zap.String("namespace", ns), zap.Int("length", len(req.Content)))
	WriteSuccess(w, r, api.Preference{Namespace: ns, Content: req.Content})
}

func (h *PreferenceHandler) namespace(w http.ResponseWriter, r *http.Request) (string, bool) {
	ns := r.PathValue("namespace")
	if !slices.Contains(memory.Namespaces(), ns) {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrInvalidRequest, "unknown preference namespace "+ns, h.logger)
		return "", false
	}
	return ns, true
}
