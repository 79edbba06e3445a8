package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	acp "github.com/coder/acp-go-sdk"

	"github.com/zed-industries/claude-code-acp-sub000/internal/permission"
)

// Runtime-native tool names.
const (
	ToolTask          = "Task"
	ToolNotebookRead  = "NotebookRead"
	ToolNotebookEdit  = "NotebookEdit"
	ToolBash          = "Bash"
	ToolBashOutput    = "BashOutput"
	ToolKillShell     = "KillShell"
	ToolRead          = "Read"
	ToolLS            = "LS"
	ToolEdit          = "Edit"
	ToolMultiEdit     = "MultiEdit"
	ToolWrite         = "Write"
	ToolGlob          = "Glob"
	ToolGrep          = "Grep"
	ToolWebFetch      = "WebFetch"
	ToolWebSearch     = "WebSearch"
	ToolTodoWrite     = "TodoWrite"
	ToolExitPlanMode  = "ExitPlanMode"
	ToolEnterPlanMode = "EnterPlanMode"
)

// ToolInfo is the presentation of a pending tool call.
type ToolInfo struct {
	Title     string
	Kind      acp.ToolKind
	Content   []acp.ToolCallContent
	Locations []acp.ToolCallLocation
}

// toolEntry renders one tool. A nil result uses NormalizeResult.
type toolEntry struct {
	info   func(in input, cwd string) ToolInfo
	result func(use ToolUse, block resultBlock) []acp.ToolCallContent
}

var toolTable = map[string]toolEntry{
	ToolTask:          {info: taskInfo},
	ToolNotebookRead:  {info: notebookReadInfo},
	ToolNotebookEdit:  {info: notebookEditInfo},
	ToolBash:          {info: bashInfo, result: fencedResult},
	ToolBashOutput:    {info: fixedInfo("Tail Logs", acp.ToolKindExecute), result: fencedResult},
	ToolKillShell:     {info: fixedInfo("Kill Process", acp.ToolKindExecute)},
	ToolRead:          {info: readInfo, result: fencedResult},
	ToolLS:            {info: lsInfo},
	ToolEdit:          {info: editInfo, result: diffResult},
	ToolMultiEdit:     {info: multiEditInfo, result: diffResult},
	ToolWrite:         {info: writeInfo, result: diffResult},
	ToolGlob:          {info: globInfo},
	ToolGrep:          {info: grepInfo},
	ToolWebFetch:      {info: webFetchInfo},
	ToolWebSearch:     {info: webSearchInfo},
	ToolTodoWrite:     {info: todoInfo},
	ToolExitPlanMode:  {info: exitPlanInfo},
	ToolEnterPlanMode: {info: fixedInfo("Plan mode", acp.ToolKindSwitchMode)},
}

var otherTool = toolEntry{info: otherInfo}

// lookup returns the table entry for name. Bridge-proxied tools share the entry of
// the native tool they replace.
func lookup(name string) toolEntry {
	if entry, ok := toolTable[strings.TrimPrefix(name, permission.ToolPrefix)]; ok {
		return entry
	}
	return otherTool
}

// Info derives a human title, kind and initial content for a tool call.
func Info(name string, rawInput map[string]any, cwd string) ToolInfo {
	info := lookup(name).info(input(rawInput), cwd)
	if info.Title == "" {
		info.Title = name
	}
	return info
}

// input gives typed access to a decoded tool input.
type input map[string]any

func (in input) str(key string) string {
	s, _ := in[key].(string)
	return s
}

func (in input) num(key string) (int, bool) {
	switch v := in[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

func (in input) flag(key string) bool {
	b, _ := in[key].(bool)
	return b
}

func (in input) list(key string) []any {
	l, _ := in[key].([]any)
	return l
}

func (in input) strings(key string) []string {
	var out []string
	for _, v := range in.list(key) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func text(s string) acp.ToolCallContent {
	return acp.ToolContent(acp.TextBlock(s))
}

func location(path string, line *int) []acp.ToolCallLocation {
	if path == "" {
		return nil
	}
	return []acp.ToolCallLocation{{Path: path, Line: line}}
}

func fixedInfo(title string, kind acp.ToolKind) func(input, string) ToolInfo {
	return func(input, string) ToolInfo {
		return ToolInfo{Title: title, Kind: kind}
	}
}

func taskInfo(in input, _ string) ToolInfo {
	info := ToolInfo{Title: in.str("description"), Kind: acp.ToolKindThink}
	if info.Title == "" {
		info.Title = "Task"
	}
	if p := in.str("prompt"); p != "" {
		info.Content = []acp.ToolCallContent{text(p)}
	}
	return info
}

func notebookReadInfo(in input, _ string) ToolInfo {
	path := in.str("notebook_path")
	title := "Read Notebook"
	if path != "" {
		title += " " + path
	}
	return ToolInfo{Title: title, Kind: acp.ToolKindRead, Locations: location(path, nil)}
}

func notebookEditInfo(in input, _ string) ToolInfo {
	path := in.str("notebook_path")
	title := "Edit Notebook"
	if path != "" {
		title += " " + path
	}
	info := ToolInfo{Title: title, Kind: acp.ToolKindEdit, Locations: location(path, nil)}
	if src := in.str("new_source"); src != "" {
		info.Content = []acp.ToolCallContent{text(src)}
	}
	return info
}

func bashInfo(in input, _ string) ToolInfo {
	cmd := in.str("command")
	title := "Terminal"
	if cmd != "" {
		title = "`" + strings.ReplaceAll(cmd, "`", "\\`") + "`"
	}
	info := ToolInfo{Title: title, Kind: acp.ToolKindExecute}
	if d := in.str("description"); d != "" {
		info.Content = []acp.ToolCallContent{text(d)}
	}
	return info
}

func readInfo(in input, _ string) ToolInfo {
	path := in.str("file_path")
	title := "Read File"
	if path != "" {
		title = "Read " + path
	}
	offset, hasOffset := in.num("offset")
	limit, hasLimit := in.num("limit")
	switch {
	case hasOffset && hasLimit:
		title += fmt.Sprintf(" (%d - %d)", offset, offset+limit-1)
	case hasOffset:
		title += fmt.Sprintf(" (from line %d)", offset)
	case hasLimit:
		title += fmt.Sprintf(" (1 - %d)", limit)
	}
	var line *int
	if hasOffset {
		line = &offset
	} else {
		zero := 0
		line = &zero
	}
	return ToolInfo{Title: title, Kind: acp.ToolKindRead, Locations: location(path, line)}
}

func lsInfo(in input, _ string) ToolInfo {
	path := in.str("path")
	title := "List the current directory's contents"
	if path != "" {
		title = "List the `" + path + "` directory's contents"
	}
	return ToolInfo{Title: title, Kind: acp.ToolKindSearch, Locations: location(path, nil)}
}

func editInfo(in input, _ string) ToolInfo {
	path := in.str("file_path")
	title := "Edit"
	if path != "" {
		title = "Edit `" + path + "`"
	}
	info := ToolInfo{Title: title, Kind: acp.ToolKindEdit, Locations: location(path, nil)}
	if path != "" {
		info.Content = []acp.ToolCallContent{acp.ToolDiffContent(path, in.str("new_string"), in.str("old_string"))}
	}
	return info
}

func multiEditInfo(in input, _ string) ToolInfo {
	path := in.str("file_path")
	title := "Edit"
	if path != "" {
		title = "Edit `" + path + "`"
	}
	info := ToolInfo{Title: title, Kind: acp.ToolKindEdit, Locations: location(path, nil)}
	if path == "" {
		return info
	}
	for _, e := range in.list("edits") {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		edit := input(m)
		info.Content = append(info.Content, acp.ToolDiffContent(path, edit.str("new_string"), edit.str("old_string")))
	}
	return info
}

func writeInfo(in input, _ string) ToolInfo {
	path := in.str("file_path")
	title := "Write"
	if path != "" {
		title = "Write " + path
	}
	info := ToolInfo{Title: title, Kind: acp.ToolKindEdit, Locations: location(path, nil)}
	if path != "" {
		info.Content = []acp.ToolCallContent{acp.ToolDiffContent(path, in.str("content"))}
	}
	return info
}

func globInfo(in input, _ string) ToolInfo {
	title := "Find"
	if p := in.str("path"); p != "" {
		title += " `" + p + "`"
	}
	if p := in.str("pattern"); p != "" {
		title += " `" + p + "`"
	}
	return ToolInfo{Title: title, Kind: acp.ToolKindSearch, Locations: location(in.str("path"), nil)}
}

func grepInfo(in input, _ string) ToolInfo {
	parts := []string{"grep"}
	if in.flag("-i") {
		parts = append(parts, "-i")
	}
	if in.flag("-n") {
		parts = append(parts, "-n")
	}
	for _, f := range []string{"-A", "-B", "-C"} {
		if n, ok := in.num(f); ok {
			parts = append(parts, fmt.Sprintf("%s %d", f, n))
		}
	}
	switch in.str("output_mode") {
	case "files_with_matches":
		parts = append(parts, "-l")
	case "count":
		parts = append(parts, "-c")
	}
	if n, ok := in.num("head_limit"); ok {
		parts = append(parts, fmt.Sprintf("| head -%d", n))
	}
	if g := in.str("glob"); g != "" {
		parts = append(parts, fmt.Sprintf("--include=%q", g))
	}
	if t := in.str("type"); t != "" {
		parts = append(parts, "--type="+t)
	}
	if in.flag("multiline") {
		parts = append(parts, "-P")
	}
	if p := in.str("pattern"); p != "" {
		parts = append(parts, fmt.Sprintf("%q", p))
	}
	if p := in.str("path"); p != "" {
		parts = append(parts, p)
	}
	return ToolInfo{Title: strings.Join(parts, " "), Kind: acp.ToolKindSearch}
}

func webFetchInfo(in input, _ string) ToolInfo {
	title := "Fetch"
	if u := in.str("url"); u != "" {
		title += " " + u
	}
	info := ToolInfo{Title: title, Kind: acp.ToolKindFetch}
	if p := in.str("prompt"); p != "" {
		info.Content = []acp.ToolCallContent{text(p)}
	}
	return info
}

func webSearchInfo(in input, _ string) ToolInfo {
	title := in.str("query")
	if allowed := in.strings("allowed_domains"); len(allowed) > 0 {
		title += " (allowed: " + strings.Join(allowed, ", ") + ")"
	}
	if blocked := in.strings("blocked_domains"); len(blocked) > 0 {
		title += " (blocked: " + strings.Join(blocked, ", ") + ")"
	}
	return ToolInfo{Title: title, Kind: acp.ToolKindFetch}
}

func todoInfo(in input, _ string) ToolInfo {
	var items []string
	for _, t := range in.list("todos") {
		if m, ok := t.(map[string]any); ok {
			if c := input(m).str("content"); c != "" {
				items = append(items, c)
			}
		}
	}
	title := "Update TODOs"
	if len(items) > 0 {
		title += ": " + strings.Join(items, ", ")
	}
	return ToolInfo{Title: title, Kind: acp.ToolKindThink}
}

func exitPlanInfo(in input, _ string) ToolInfo {
	info := ToolInfo{Title: "Ready to code?", Kind: acp.ToolKindSwitchMode}
	if p := in.str("plan"); p != "" {
		info.Content = []acp.ToolCallContent{text(p)}
	}
	return info
}

func otherInfo(in input, _ string) ToolInfo {
	info := ToolInfo{Kind: acp.ToolKindOther}
	if len(in) == 0 {
		return info
	}
	data, err := json.MarshalIndent(map[string]any(in), "", "  ")
	if err != nil {
		return info
	}
	info.Content = []acp.ToolCallContent{text("```json\n" + string(data) + "\n```")}
	return info
}

// PlanEntries converts a TodoWrite input into plan entries.
func PlanEntries(rawInput map[string]any) []acp.PlanEntry {
	var entries []acp.PlanEntry
	for _, t := range input(rawInput).list("todos") {
		m, ok := t.(map[string]any)
		if !ok {
			continue
		}
		todo := input(m)
		status := todo.str("status")
		if status == "" {
			status = "pending"
		}
		entries = append(entries, acp.PlanEntry{
			Content:  todo.str("content"),
			Priority: acp.PlanEntryPriorityMedium,
			Status:   acp.PlanEntryStatus(status),
		})
	}
	return entries
}
