/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、LLM 端口、
工作流引擎与数据库四个维度。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 向量指标。
    nil *Collector 可以安全调用，未启用指标时组件无需判空。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - LLM 指标：请求总数、耗时、Token 用量，按 provider/model 分组。
  - 工作流指标：调用次数与耗时、节点迁移、中断、审核结论、工具执行、
    偏好修订结果、对话 token 分布、排队中的异步偏好更新。
  - 数据库指标：活跃/空闲连接数、查询耗时。
*/
package metrics
