// Package openaicompat implements llm.Provider against any OpenAI-compatible
// Chat Completions endpoint (OpenAI, DeepSeek, Qwen, vLLM, Ollama, ...).
//
// The workflow ports use two features of the protocol: native tool calling for
// the action proposer, and json_schema response formats for the classifier
// and the preference reviser.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-4.1",
//	}, logger)
package openaicompat
