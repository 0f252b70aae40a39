// Package config 负责加载 StayRelay 的启动配置。配置文件可以是 JSON 或 YAML，
// 未填写的字段使用默认值，任何有默认值的键都可以用 STAYRELAY_ 前缀的环境变量覆盖，
// 例如 STAYRELAY_LLM_PROVIDER=openai。
package config
