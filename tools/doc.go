// Package tools 定义邮件助手的封闭动作集合、静态风险表以及工具注册中心。
//
// 每个动作在注册时都必须出现在静态风险表中：
//
//   - 需要人工审核：write_email、schedule_meeting、Question
//   - 自动执行：check_calendar_availability、search_emails、search_events、update_event
//   - 完成信号：Done
//
// 不在集合中的名字一律返回 UNKNOWN_TOOL。邮件与日历工具的实现为占位
// 实现，只返回固定文本，真实副作用由部署方替换处理函数接入。
package tools
