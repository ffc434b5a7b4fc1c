// Package email 解析入站邮件请求并渲染为审核与提示词使用的 Markdown。
//
// 工作流核心把请求视为不透明的 JSON，只有这里知道邮件字段：
// author、to、subject 以及正文（email_thread / body / thread 任选其一）。
// 缺失字段使用固定占位值，因此任意 JSON 对象都能被渲染。
package email
