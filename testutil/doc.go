/*
Package testutil 提供 hitlflow 测试共享的辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertMessagesEqual / AssertToolCallsEqual
  - 通道工具: WaitForChannel，带超时等待一次接收

# 子包

  - testutil/mocks: 分类、提议、修订端口的脚本化实现与 MockProvider
    （llm.Provider），均记录调用并支持错误注入
  - testutil/fixtures: 样例邮件请求与 ChatResponse 工厂
*/
package testutil
