/*
包 memory 维护跨线程共享的用户偏好记忆。

# 概述

偏好按命名空间保存为一段文本（triage_preferences、response_preferences、
cal_preferences），首次读取时写入默认值。审核人的反馈通过 Reviser 端口
修订对应命名空间，修订只做追加或针对性更正。

# 核心类型

  - [Updater]：Get 读取并惰性初始化命名空间；Submit 提交反馈，异步模式下
    由 internal/pool 的 worker 执行，同步模式下就地执行；Revise 在存储的
    原子读-改-写中调用修订端口。
  - [Feedback]：目标命名空间与反馈消息，由 NotifyRespondFeedback、
    ActionEditFeedback 等构造函数生成。
  - [Preserve]：修订结果整体改写时把丢失的原有行追加回去，定点更正原样保留。

修订失败只记录日志与指标，不会让工作流迁移失败。
*/
package memory
