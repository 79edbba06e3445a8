package translate

import (
	"encoding/json"
	"testing"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contentText(t *testing.T, c []acp.ToolCallContent) []string {
	t.Helper()
	var out []string
	for _, item := range c {
		data, err := json.Marshal(item)
		require.NoError(t, err)
		var m struct {
			Type    string `json:"type"`
			Content struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		require.NoError(t, json.Unmarshal(data, &m))
		out = append(out, m.Content.Type+":"+m.Content.Text)
	}
	return out
}

func TestNormalizeResult(t *testing.T) {
	tests := []struct {
		name      string
		blockType string
		content   string
		want      []string
	}{
		{"plain string", "tool_result", `"hello"`, []string{"text:hello"}},
		{"empty", "tool_result", ``, nil},
		{"text blocks", "tool_result", `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, []string{"text:a", "text:b"}},
		{"image block", "tool_result", `[{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAA="}}]`, []string{"image:"}},
		{"web search", "web_search_tool_result", `[{"type":"web_search_result","title":"Go","url":"https://go.dev"}]`, []string{"text:- [Go](https://go.dev)"}},
		{"web search error", "web_search_tool_result", `{"type":"web_search_tool_result_error","error_code":"max_uses_exceeded"}`, []string{"text:Error: max_uses_exceeded"}},
		{"code execution", "bash_code_execution_tool_result", `{"type":"bash_code_execution_result","stdout":"hi","stderr":"","return_code":2}`, []string{"text:```\nhi\n```", "text:Exit code: 2"}},
		{"editor create", "text_editor_code_execution_tool_result", `{"type":"text_editor_code_execution_create_result","is_file_update":true}`, []string{"text:File updated"}},
		{"editor replace", "text_editor_code_execution_tool_result", `{"type":"text_editor_code_execution_str_replace_result","lines":["-a","+b"]}`, []string{"text:```diff\n-a\n+b\n```"}},
		{"mcp result", "mcp_tool_result", `{"type":"mcp_tool_result","content":[{"type":"text","text":"x"}]}`, []string{"text:x"}},
		{"unknown shape", "tool_result", `[{"type":"weird","n":1}]`, []string{"text:```json\n{\n  \"type\": \"weird\",\n  \"n\": 1\n}\n```"}},
		{"unknown block type", "mystery_result", `{"a":1}`, []string{"text:```json\n{\n  \"a\": 1\n}\n```"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := contentText(t, NormalizeResult(tt.blockType, json.RawMessage(tt.content)))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFence(t *testing.T) {
	assert.Equal(t, "```\nabc\n```", fence("abc", ""))
	assert.Equal(t, "````\nuse ``` here\n````", fence("use ``` here", ""))
	assert.Equal(t, "```go\nx\n```", fence("x\n", "go"))
}

func TestParseUnifiedDiff(t *testing.T) {
	text := "--- a/x.txt\n+++ b/x.txt\n@@ -1,2 +1,2 @@\n-old\n+new\n same\n"
	files := ParseUnifiedDiff(text)
	require.Len(t, files, 1)
	assert.Equal(t, "x.txt", files[0].Path)
	assert.Equal(t, "old\nsame\n", files[0].OldText)
	assert.Equal(t, "new\nsame\n", files[0].NewText)

	assert.Nil(t, ParseUnifiedDiff("The file was updated"))
}

func TestToolUseCache(t *testing.T) {
	c := NewToolUseCache()
	_, ok := c.Get("a")
	assert.False(t, ok)
	c.Put(ToolUse{ID: "a", Name: "Read"})
	use, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Read", use.Name)
	assert.Equal(t, 1, c.Len())
}
