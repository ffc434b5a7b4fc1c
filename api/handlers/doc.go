/*
Package handlers 实现 hitlflow HTTP API 的请求处理器.

  - ThreadHandler      线程 invoke / resume / 状态查询 / 列表
  - PreferenceHandler  偏好记忆读取与人工覆盖
  - InterruptHandler   待审核中断列表与 websocket 事件推送
  - HealthHandler      存活、就绪与版本端点

所有响应使用 Response 包裹. WriteError 接受任意 error：*types.Error 按
HTTPStatus 或 HTTPStatusFor 映射状态码，其他错误视为内部错误.
Register 按 Go 1.22 的方法 + 路径模式挂载路由.
*/
package handlers
