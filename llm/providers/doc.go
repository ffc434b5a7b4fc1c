/*
包 providers 按服务商名称构造 llm.Provider。

已知服务商（openai、deepseek、qwen、kimi、grok、mistral、hunyuan、doubao、glm）
都暴露 OpenAI 兼容的 Chat Completions 接口，差异只在默认 BaseURL 与端点路径，
因此统一由 openaicompat 子包实现，本包只维护预设表。

  - [New]：按 [Config] 构造 Provider，未设置的 BaseURL / EndpointPath 取预设值
  - [Names]：列出已知服务商
*/
package providers
