/*
包 llm 提供工作流端口使用的大语言模型接入层。

# 概述

[Provider] 屏蔽模型服务商在接口、鉴权与错误语义上的差异，
上层的分类、动作提议与偏好修订端口只依赖 [ChatRequest] / [ChatResponse]。

# 子包

  - providers：按服务商名称解析基础地址与默认模型的预设表
  - providers/openaicompat：OpenAI 兼容协议的 HTTP 实现
  - middleware：日志、超时、限流、熔断、指标、追踪与请求改写中间件链
  - retry：指数退避重试器，供端口装饰器使用
  - tokenizer：tiktoken 精确计数与估算器回退，用于会话 token 统计

# 错误

所有 Provider 错误统一为 [Error]，其中 Retryable 决定上层装饰器是否重试。
*/
package llm
