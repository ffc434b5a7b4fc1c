/*
包 ports 定义工作流依赖的三个外部端口，以及基于 llm.Provider 的实现。

# 端口

  - [Classifier]：对请求分类为 ignore / notify / respond，并给出理由
  - [Proposer]：根据完整会话提出下一条助手消息，可携带零个或多个工具调用
  - [Reviser]：根据审核反馈修订偏好文本，只允许追加或有针对性的更正

工作流核心只依赖这些接口，测试中用确定性的函数实现替换（见 testutil/mocks）。

# LLM 实现

[LLMClassifier] 与 [LLMReviser] 使用 JSON Schema 结构化输出；
[LLMProposer] 使用原生工具调用，并强制模型至少调用一个工具。

# 重试

核心本身从不重试。需要重试时用 [WithClassifierRetry]、[WithProposerRetry]、
[WithReviserRetry] 把 llm/retry 的退避策略叠加到端口上。
*/
package ports
