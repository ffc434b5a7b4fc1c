/*
Package server 管理 hitlflow HTTP API 的监听与优雅关闭.

Manager 封装 net/http.Server：Start 非阻塞启动（配置证书时通过
internal/tlsutil 的加固配置启用 TLS），Wait 在收到 SIGINT/SIGTERM、
ctx 结束或服务异常退出时排空请求并关闭. OnShutdown 注册的钩子用于
关闭中断推送的 websocket 长连接.
*/
package server
