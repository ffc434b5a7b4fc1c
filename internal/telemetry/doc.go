// Package telemetry 初始化 OpenTelemetry SDK，为工作流节点、LLM 调用与 HTTP 请求的
// span 提供 OTLP gRPC 导出。禁用时全局 provider 保持 noop，不连接任何外部服务。
package telemetry
