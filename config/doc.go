/*
包 config 提供 hitlflow 服务的配置加载、校验与热重载。

# 加载顺序

默认值 → YAML 文件（支持 ${VAR} 展开）→ HITLFLOW_ 前缀的环境变量 → 校验器：

	cfg, err := config.NewLoader().
	    WithConfigPath("config.yaml").
	    Load()

环境变量按 PREFIX_SECTION_FIELD 命名，例如 HITLFLOW_STORE_TYPE=redis、
HITLFLOW_LLM_API_KEY=sk-...。字符串切片使用逗号分隔。

# 热重载

[Watcher] 轮询配置文件摘要，变化后重新加载并校验。只有 [HotReloadable]
中的字段会在运行中生效，其余字段变更会被记录并提示重启。
*/
package config
