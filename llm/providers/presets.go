package providers

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/llm"
	"github.com/BaSui01/hitlflow/llm/providers/openaicompat"
)

// Config 构造 Provider 所需的配置.
type Config struct {
	Name    string        `json:"name" yaml:"name"`
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// EndpointPath 覆盖预设的 Chat Completions 路径
	EndpointPath string `json:"endpoint_path,omitempty" yaml:"endpoint_path,omitempty"`
}

type preset struct {
	baseURL  string
	endpoint string
	models   string
}

var presets = map[string]preset{
	"openai":   {baseURL: "https://api.openai.com", endpoint: "/v1/chat/completions", models: "/v1/models"},
	"deepseek": {baseURL: "https://api.deepseek.com", endpoint: "/chat/completions", models: "/models"},
	"qwen":     {baseURL: "https://dashscope.aliyuncs.com", endpoint: "/compatible-mode/v1/chat/completions", models: "/compatible-mode/v1/models"},
	"kimi":     {baseURL: "https://api.moonshot.cn", endpoint: "/v1/chat/completions", models: "/v1/models"},
	"grok":     {baseURL: "https://api.x.ai", endpoint: "/v1/chat/completions", models: "/v1/models"},
	"mistral":  {baseURL: "https://api.mistral.ai", endpoint: "/v1/chat/completions", models: "/v1/models"},
	"hunyuan":  {baseURL: "https://api.hunyuan.cloud.tencent.com", endpoint: "/v1/chat/completions", models: "/v1/models"},
	"doubao":   {baseURL: "https://ark.cn-beijing.volces.com", endpoint: "/api/v3/chat/completions", models: "/api/v3/models"},
	"glm":      {baseURL: "https://open.bigmodel.cn", endpoint: "/api/paas/v4/chat/completions", models: "/api/paas/v4/models"},
}

// Names returns the known provider names, sorted.
func Names() []string {
	out := make([]string, 0, len(presets))
	for name := range presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds a provider. Unknown names are accepted when BaseURL is set and
// are treated as a generic OpenAI-compatible endpoint.
func New(cfg Config, logger *zap.Logger) (llm.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		name = "openai"
	}
	p, known := presets[name]
	if !known && cfg.BaseURL == "" {
		return nil, fmt.Errorf("unknown llm provider %q (known: %s)", cfg.Name, strings.Join(Names(), ", "))
	}

	oc := openaicompat.Config{
		ProviderName:   name,
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		DefaultModel:   cfg.Model,
		Timeout:        cfg.Timeout,
		EndpointPath:   cfg.EndpointPath,
		ModelsEndpoint: p.models,
	}
	if oc.BaseURL == "" {
		oc.BaseURL = p.baseURL
	}
	if oc.EndpointPath == "" {
		oc.EndpointPath = p.endpoint
	}
	return openaicompat.New(oc, logger), nil
}
