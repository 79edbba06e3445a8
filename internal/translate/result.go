package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	acp "github.com/coder/acp-go-sdk"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
)

// resultBlock is a tool result as carried in a message.
type resultBlock struct {
	Type    string
	Content json.RawMessage
	IsError bool
}

func newResultBlock(b agentsdk.Block) resultBlock {
	return resultBlock{Type: b.Type, Content: b.Content, IsError: b.IsError}
}

// NormalizeResult maps the heterogeneous result shapes the runtime produces
// onto tool call content. Unrecognized shapes are shown as fenced JSON.
func NormalizeResult(blockType string, content json.RawMessage) []acp.ToolCallContent {
	switch blockType {
	case "web_search_tool_result":
		return webSearchResult(content)
	case "web_fetch_tool_result":
		return normalizeItem(content)
	case "code_execution_tool_result", "bash_code_execution_tool_result",
		"text_editor_code_execution_tool_result":
		return normalizeItem(content)
	case "", agentsdk.BlockToolResult, "mcp_tool_result":
		return normalizeContent(content)
	}
	return fencedJSON(content)
}

func normalizeContent(raw json.RawMessage) []acp.ToolCallContent {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return nil
		}
		return []acp.ToolCallContent{text(s)}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return fencedJSON(raw)
		}
		var out []acp.ToolCallContent
		for _, item := range items {
			out = append(out, normalizeItem(item)...)
		}
		return out
	case '{':
		return normalizeItem(raw)
	}
	return fencedJSON(raw)
}

type resultItem struct {
	Type    string           `json:"type"`
	Text    string           `json:"text"`
	Source  *agentsdk.Source `json:"source"`
	Title   string           `json:"title"`
	URL     string           `json:"url"`
	Content json.RawMessage  `json:"content"`

	// code execution
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`

	// text editor
	IsFileUpdate bool     `json:"is_file_update"`
	Lines        []string `json:"lines"`

	ErrorCode string `json:"error_code"`
}

func normalizeItem(raw json.RawMessage) []acp.ToolCallContent {
	var item resultItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return fencedJSON(raw)
	}

	switch item.Type {
	case "text":
		if item.Text == "" {
			return nil
		}
		return []acp.ToolCallContent{text(item.Text)}
	case "image":
		if item.Source == nil {
			return fencedJSON(raw)
		}
		if item.Source.Type == "url" {
			return []acp.ToolCallContent{acp.ToolContent(acp.ResourceLinkBlock(item.Source.URL, item.Source.URL))}
		}
		return []acp.ToolCallContent{acp.ToolContent(acp.ImageBlock(item.Source.Data, item.Source.MediaType))}
	case "web_search_result":
		return []acp.ToolCallContent{text(fmt.Sprintf("[%s](%s)", item.Title, item.URL))}
	case "web_fetch_result":
		if item.URL != "" {
			return []acp.ToolCallContent{text("Fetched " + item.URL)}
		}
		return nil
	case "code_execution_result", "bash_code_execution_result":
		return codeExecResult(item)
	case "text_editor_code_execution_view_result":
		var s string
		if json.Unmarshal(item.Content, &s) == nil {
			return []acp.ToolCallContent{text(fence(s, ""))}
		}
		return fencedJSON(item.Content)
	case "text_editor_code_execution_create_result":
		if item.IsFileUpdate {
			return []acp.ToolCallContent{text("File updated")}
		}
		return []acp.ToolCallContent{text("File created")}
	case "text_editor_code_execution_str_replace_result":
		return []acp.ToolCallContent{text(fence(strings.Join(item.Lines, "\n"), "diff"))}
	case "web_search_tool_result_error", "web_fetch_tool_error",
		"code_execution_tool_result_error", "bash_code_execution_tool_result_error",
		"text_editor_code_execution_tool_result_error":
		return []acp.ToolCallContent{text("Error: " + item.ErrorCode)}
	case "tool_result", "mcp_tool_result":
		return normalizeContent(item.Content)
	}
	return fencedJSON(raw)
}

func webSearchResult(raw json.RawMessage) []acp.ToolCallContent {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		return normalizeItem(raw)
	}
	var items []resultItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return fencedJSON(raw)
	}
	var lines []string
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("- [%s](%s)", it.Title, it.URL))
	}
	if len(lines) == 0 {
		return nil
	}
	return []acp.ToolCallContent{text(strings.Join(lines, "\n"))}
}

func codeExecResult(item resultItem) []acp.ToolCallContent {
	var out []acp.ToolCallContent
	if item.Stdout != "" {
		out = append(out, text(fence(item.Stdout, "")))
	}
	if item.Stderr != "" {
		out = append(out, text(fence(item.Stderr, "")))
	}
	if item.ReturnCode != 0 {
		out = append(out, text(fmt.Sprintf("Exit code: %d", item.ReturnCode)))
	}
	return out
}

func fencedJSON(raw json.RawMessage) []acp.ToolCallContent {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	return []acp.ToolCallContent{text(fence(buf.String(), "json"))}
}

// fence wraps s in a code fence longer than any backtick run inside it.
func fence(s, lang string) string {
	longest, run := 0, 0
	for _, r := range s {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	marker := strings.Repeat("`", max(3, longest+1))
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return marker + lang + "\n" + s + marker
}

// resultText concatenates the text items of a result.
func resultText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", true
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	var items []resultItem
	if json.Unmarshal(raw, &items) != nil {
		return "", false
	}
	var parts []string
	for _, it := range items {
		if it.Type != "text" {
			return "", false
		}
		parts = append(parts, it.Text)
	}
	return strings.Join(parts, "\n"), true
}

// fencedResult shows textual output verbatim inside a fence.
func fencedResult(_ ToolUse, b resultBlock) []acp.ToolCallContent {
	s, ok := resultText(b.Content)
	if !ok {
		return NormalizeResult(b.Type, b.Content)
	}
	if s == "" {
		return nil
	}
	return []acp.ToolCallContent{text(fence(s, ""))}
}

// diffResult renders unified-diff results as diffs. Other results return nil
// so the diff shown when the call started is kept.
func diffResult(use ToolUse, b resultBlock) []acp.ToolCallContent {
	if b.IsError {
		return fencedResult(use, b)
	}
	s, ok := resultText(b.Content)
	if !ok {
		return nil
	}
	files := ParseUnifiedDiff(s)
	if len(files) == 0 {
		return nil
	}
	out := make([]acp.ToolCallContent, 0, len(files))
	for _, f := range files {
		path := f.Path
		if p := input(use.Input).str("file_path"); p != "" && (path == "" || strings.HasSuffix(p, path)) {
			path = p
		}
		out = append(out, acp.ToolDiffContent(path, f.NewText, f.OldText))
	}
	return out
}
