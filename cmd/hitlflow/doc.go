/*
Package main 是 hitlflow 服务端程序入口。

# 子命令

  - serve    加载配置，组装存储、模型端口、工作流引擎与 HTTP 接口并监听
  - migrate  管理 SQL 状态存储的表结构版本（up/down/steps/goto/force/version/status）
  - version  输出构建注入的版本信息
  - health   请求运行中服务的 /ready

# 中间件链

外到内依次为 Recovery、RequestID、OTelTracing、SecurityHeaders、RequestLogger、
Metrics、CORS、Auth（X-API-Key 或 HS256 Bearer）以及可选的按客户端限流。
健康检查与版本路径不需要认证。

# 热重载

指定 --config 时监听配置文件。log.level、rate_limit.* 与 workflow.max_steps
立即生效，其余字段变更只记录日志，需要重启。
*/
package main
