/*
包 middleware 为 llm.Provider 提供可组合的中间件链。

# 核心类型

  - Handler：func(ctx, *ChatRequest) (*ChatResponse, error)
  - Middleware：func(Handler) Handler
  - Chain：Use / UseFront / Then 组合，Wrap 把链套在 Provider 外层，
    Name 与 HealthCheck 透传
  - RewriterChain：请求发出前的改写器链，EmptyToolsCleaner 在 tools
    为空时清除 tool_choice

# 内置中间件

日志（zap）、超时、指标（internal/metrics）、限流（x/time/rate）、
panic 恢复、OpenTelemetry 追踪、请求校验与改写。
*/
package middleware
