/*
Package workflow 实现邮件分诊的人在回路状态机。

# 概述

每个线程从 Triage 开始，按分类结果进入 NotifyReview、Act 或结束：

	triage        -> __end__ | notify_review | act
	notify_review -> act | __end__
	act           -> action_review | __end__
	action_review -> act | __end__

NotifyReview 与 ActionReview 可能挂起线程。挂起时引擎把状态、检查点
（等待恢复的节点与本批中断）和节点执行记录一起写入 StateStore，
Resume 读取检查点，整批校验审核结论后从挂起点继续。

# 核心类型

  - [Engine]：Start / Resume / Invoke / GetState。同一线程的调用串行执行，
    提交时使用存储版本号做比较并交换，冲突返回 CONCURRENT_INVOCATION。
  - [State]：请求载荷、对话、分类结果与终止标记。
  - [Checkpoint]：挂起标记，线程完成后为空。
  - [Result] / [ThreadState]：调用结果与持久化视图。

# 失败语义

任一节点出错时整次调用放弃，不写入任何状态。偏好反馈与中断事件只在
提交成功后发布。工具处理函数的错误不会中止调用，而是以 "Error: ..."
工具消息写入对话。
*/
package workflow
