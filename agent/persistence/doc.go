/*
包 persistence 提供工作流引擎的持久化状态存储抽象及多后端实现。

# 概述

引擎在每次挂起或完成时把线程快照（执行状态 + 检查点）整体写入存储，
恢复时只依赖存储中的数据，因此进程重启后可以从任意挂起点继续。
偏好记忆按命名空间存储，跨线程共享，并提供原子的读-改-写。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - ThreadStore: 线程快照，PutThread 以期望版本做比较并交换，
    版本不匹配返回 ErrVersionConflict 且不写入任何内容。
  - PreferenceStore: 命名空间偏好文本，UpdateMemory 保证同一命名空间的
    并发更新串行化、不丢失。
  - StateStore: 以上两者的组合，由 workflow.Engine 使用。

# 后端实现

  - Memory: 内存实现，适合开发与测试，重启后数据丢失。
  - File: 每个线程 / 命名空间一个文件，临时文件 + 重命名原子写入。
  - Redis: WATCH/MULTI 乐观事务，Sorted Set 按更新时间索引线程。
  - SQL: GORM（PostgreSQL / MySQL / SQLite），version 列条件更新。
  - Mongo: {_id, version} 条件更新，唯一键冲突即版本冲突。

# 使用方式

	store, err := persistence.NewStateStore(config, logger)
*/
package persistence
