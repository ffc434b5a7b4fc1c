// Package hitl 提供 Human-in-the-Loop 审核协议的数据模型与中断管理。
//
// 工作流在高风险动作（发送邮件、安排会议、向用户提问）或通知节点处
// 挂起并产出 Interrupt；调用方以与中断批次等长、同序的 Verdict 列表
// 恢复执行。每个 Interrupt 携带一个 ReviewPolicy，限定审核人可以给出
// 的结论类型（accept / edit / response / ignore），不被允许的结论在
// 任何状态修改之前以 INVALID_VERDICT 拒绝。
//
// InterruptManager 维护跨线程的待审核中断索引，并把新产生与已解决的
// 中断广播给订阅者（例如 websocket 推送流）。
package hitl
