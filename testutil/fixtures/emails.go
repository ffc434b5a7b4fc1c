// 样例邮件请求，用于分诊与端到端测试。
package fixtures

import "encoding/json"

// APIQuestionEmail 需要回复的技术问题
var APIQuestionEmail = json.RawMessage(`{
  "author": "Alice Smith <alice.smith@company.com>",
  "to": "Lance Martin <lance@company.com>",
  "subject": "Quick question about API documentation",
  "email_thread": "Hi Lance,\n\nI was reviewing the API documentation for the new authentication service and noticed a few endpoints seem to be missing from the specs. Could you help clarify if this was intentional or if we should update the docs?\n\nSpecifically, I'm looking at:\n- /auth/refresh\n- /auth/validate\n\nThanks!\nAlice"
}`)

// DeploymentNoticeEmail 只需通知用户的系统公告
var DeploymentNoticeEmail = json.RawMessage(`{
  "author": "System Admin <sysadmin@company.com>",
  "to": "Development Team <dev@company.com>",
  "subject": "Scheduled maintenance - database downtime",
  "email_thread": "Hi team,\n\nThis is a reminder that we'll be performing scheduled maintenance on the production database tonight from 2AM to 4AM EST. During this time, all database services will be unavailable.\n\nPlease plan your work accordingly and ensure no critical deployments are scheduled during this window.\n\nThanks,\nSystem Admin Team"
}`)

// NewsletterEmail 应当忽略的营销邮件
var NewsletterEmail = json.RawMessage(`{
  "author": "Marketing Team <marketing@amazingdeals.com>",
  "to": "John Doe <john.doe@company.com>",
  "subject": "🔥 EXCLUSIVE OFFER: Limited Time Discount on Developer Tools! 🔥",
  "email_thread": "Dear Valued Developer,\n\nDon't miss out on this INCREDIBLE opportunity!\n\nFor a LIMITED TIME ONLY, get 80% OFF on our Premium Developer Suite!\n\nAct now!\nMarketing Team"
}`)

// MeetingRequestEmail 需要安排会议的邮件
var MeetingRequestEmail = json.RawMessage(`{
  "author": "Project Manager <pm@client.com>",
  "to": "Lance Martin <lance@company.com>",
  "subject": "Tax season let's schedule call",
  "email_thread": "Lance,\n\nIt's tax season again, and I wanted to schedule a call to discuss your tax planning strategies for this year. I have some suggestions that could potentially save you money.\n\nAre you available sometime next week? Tuesday or Thursday afternoon would work best for me, for about 45 minutes.\n\nRegards,\nProject Manager"
}`)
