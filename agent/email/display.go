package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FormatToolCall 渲染一次工具调用，作为动作审核中断的描述.
// 参数按原始 JSON 中的键顺序输出.
func FormatToolCall(name string, args json.RawMessage) string {
	if name == "" {
		name = "Unknown"
	}
	lines := make([]string, 0, 4)
	for _, kv := range orderedArgs(args) {
		lines = append(lines, fmt.Sprintf("- **%s**: %s", kv.key, kv.value))
	}
	return fmt.Sprintf("\n## Proposed Action: %s\n\n### Arguments:\n%s\n", name, strings.Join(lines, "\n"))
}

// ActionDescription 组合邮件 Markdown 与工具调用展示.
func ActionDescription(request json.RawMessage, name string, args json.RawMessage) string {
	return RenderMarkdown(request) + "\n---\n" + FormatToolCall(name, args)
}

type argPair struct {
	key   string
	value string
}

func orderedArgs(args json.RawMessage) []argPair {
	dec := json.NewDecoder(bytes.NewReader(args))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}

	var out []argPair
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return out
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return out
		}
		out = append(out, argPair{key: key, value: displayValue(raw)})
	}
	return out
}

func displayValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
