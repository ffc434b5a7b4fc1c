/*
包 migration 管理 hitlflow 状态表（hitl_threads、hitl_preferences）的
Schema 迁移，支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate。

迁移 SQL 通过 embed.FS 内嵌在二进制中，按方言存放于 migrations/<dialect>/，
文件名形如 000001_hitl_state.up.sql。sql 状态存储的 AutoMigrate 只适合开发环境，
生产环境使用 `hitlflow migrate up`。

  - [Migrator] / [DefaultMigrator]：Up、Down、Steps、Goto、Force、Version、Status、Info。
  - [CLI]：为 migrate 子命令格式化输出。
  - [NewMigratorFromConfig]：从 config.DatabaseConfig 拼接连接 URL。
*/
package migration
