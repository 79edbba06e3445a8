// Package translate converts agent runtime messages into session updates.
//
// A Translator is owned by one session. It records every tool invocation in
// that session's ToolUseCache so the matching result, which arrives in a later
// message, can be rendered against the tool's name and input. Per-tool
// presentation lives in a table keyed by tool name; unknown tools fall back to
// a generic entry that shows the raw input as JSON.
package translate
