/*
包 database 提供基于 GORM 的数据库连接池管理，支持健康检查与事务重试，
为 SQL 状态存储（agent/persistence.SQLStateStore）提供底层连接。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 方言选择：Open / Dialector 支持 postgres、mysql、sqlite（纯 Go）。
  - 健康检查：后台定时 PingContext 探活，Close 时等待其退出。
  - 事务管理：WithTransaction 单次执行，WithTransactionRetry 对死锁、
    序列化失败、SQLite 忙等瞬时错误做指数退避重试。
*/
package database
