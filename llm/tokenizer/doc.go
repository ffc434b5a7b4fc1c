// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器，工作流用它统计每次 Act 之后的会话长度。
package tokenizer
