/*
Package api 定义 hitlflow HTTP API 的请求与响应结构.

路由由 api/handlers 实现：

  - POST /api/v1/threads/{id}/invoke   以邮件请求启动线程
  - POST /api/v1/threads/{id}/resume   以审核结论恢复线程
  - GET  /api/v1/threads/{id}          查看线程状态与下一节点
  - GET  /api/v1/threads               按更新时间列出线程
  - GET  /api/v1/preferences/{ns}      读取偏好记忆
  - PUT  /api/v1/preferences/{ns}      覆盖偏好记忆
  - GET  /api/v1/interrupts            待审核中断
  - GET  /api/v1/interrupts/stream     中断事件 websocket 推送

所有 JSON 响应包裹在 handlers.Response 中，错误以 types.ErrorCode 标识.
*/
package api
