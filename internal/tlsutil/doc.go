// Package tlsutil 集中 hitlflow 的 TLS 设置：API 服务端证书加载、
// Redis 状态存储的客户端配置，以及访问 LLM 端点的 HTTP 客户端。
// 所有配置均为 TLS 1.2+，TLS 1.2 下仅允许 AEAD 套件。
package tlsutil
