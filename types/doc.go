/*
Package types 提供 hitlflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、workflow、tools、
api 等上层模块提供统一的类型契约。对话消息、工具调用、结构化错误码
以及 Context 传播辅助函数都定义于此，以避免循环依赖。

# 核心类型

  - Message / ToolCall: 对话消息与工具调用（按 call id 关联工具结果）
  - ToolSchema: 工具定义（name + description + JSON Schema parameters）
  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithTraceID / WithTenantID / WithUserID / WithThreadID
  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable
  - 工作流错误构造：NewInvalidVerdictError / NewUnknownToolError 等
*/
package types
