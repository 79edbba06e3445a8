package agentsdk

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
)

// MCPServer configures one MCP server handed to the runtime.
type MCPServer struct {
	Type    string            `json:"type"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options configure one runtime conversation. The JSON form is the shape
// clients may pass through session metadata.
type Options struct {
	Cwd        string `json:"cwd,omitempty"`
	Executable string `json:"executable,omitempty"`

	SessionID   string `json:"sessionId,omitempty"`
	Resume      string `json:"resume,omitempty"`
	ForkSession bool   `json:"forkSession,omitempty"`

	Model              string            `json:"model,omitempty"`
	FallbackModel      string            `json:"fallbackModel,omitempty"`
	PermissionMode     string            `json:"permissionMode,omitempty"`
	AllowedTools       []string          `json:"allowedTools,omitempty"`
	DisallowedTools    []string          `json:"disallowedTools,omitempty"`
	AppendSystemPrompt string            `json:"appendSystemPrompt,omitempty"`
	MaxThinkingTokens  *int              `json:"maxThinkingTokens,omitempty"`
	MaxTurns           int               `json:"maxTurns,omitempty"`
	AddDirs            []string          `json:"additionalDirectories,omitempty"`
	Env                map[string]string `json:"env,omitempty"`
	ExtraArgs          map[string]string `json:"extraArgs,omitempty"`

	MCPServers map[string]MCPServer `json:"mcpServers,omitempty"`

	IncludePartialMessages bool `json:"-"`

	CanUseTool CanUseToolFunc              `json:"-"`
	Hooks      map[HookEvent][]HookMatcher `json:"-"`
	Stderr     func(line string)           `json:"-"`
}

// Args renders the CLI flags for o.
func (o Options) Args() []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if o.IncludePartialMessages {
		args = append(args, "--include-partial-messages")
	}

	switch {
	case o.Resume != "" && o.ForkSession:
		args = append(args, "--resume", o.Resume, "--fork-session")
		if o.SessionID != "" {
			args = append(args, "--session-id", o.SessionID)
		}
	case o.Resume != "":
		args = append(args, "--resume", o.Resume)
	case o.SessionID != "":
		args = append(args, "--session-id", o.SessionID)
	}

	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	if o.FallbackModel != "" {
		args = append(args, "--fallback-model", o.FallbackModel)
	}
	if o.PermissionMode != "" {
		args = append(args, "--permission-mode", o.PermissionMode)
	}
	if o.CanUseTool != nil {
		args = append(args, "--permission-prompt-tool", "stdio")
	}
	if o.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", o.AppendSystemPrompt)
	}
	if o.MaxThinkingTokens != nil {
		args = append(args, "--max-thinking-tokens", strconv.Itoa(*o.MaxThinkingTokens))
	}
	if o.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(o.MaxTurns))
	}
	for _, t := range o.AllowedTools {
		args = append(args, "--allowedTools", t)
	}
	for _, t := range o.DisallowedTools {
		args = append(args, "--disallowedTools", t)
	}
	for _, d := range o.AddDirs {
		args = append(args, "--add-dir", d)
	}
	if len(o.MCPServers) > 0 {
		cfg, _ := json.Marshal(map[string]any{"mcpServers": o.MCPServers})
		args = append(args, "--mcp-config", string(cfg))
	}

	keys := make([]string, 0, len(o.ExtraArgs))
	for k := range o.ExtraArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := o.ExtraArgs[k]; v != "" {
			args = append(args, "--"+k, v)
		} else {
			args = append(args, "--"+k)
		}
	}
	return args
}

// HookEvent names a runtime lifecycle hook.
type HookEvent string

const (
	HookPreToolUse  HookEvent = "PreToolUse"
	HookPostToolUse HookEvent = "PostToolUse"
)

// HookInput is the payload of a hook_callback request.
type HookInput struct {
	HookEventName string          `json:"hook_event_name"`
	SessionID     string          `json:"session_id,omitempty"`
	Cwd           string          `json:"cwd,omitempty"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolInput     json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse  json.RawMessage `json:"tool_response,omitempty"`
	ToolUseID     string          `json:"tool_use_id,omitempty"`
}

// HookOutput is returned to the runtime from a hook.
type HookOutput struct {
	Continue           bool                `json:"continue"`
	SuppressOutput     bool                `json:"suppressOutput,omitempty"`
	Reason             string              `json:"reason,omitempty"`
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// HookSpecificOutput carries a PreToolUse permission decision.
type HookSpecificOutput struct {
	HookEventName            HookEvent `json:"hookEventName"`
	PermissionDecision       string    `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string    `json:"permissionDecisionReason,omitempty"`
}

// HookCallback handles one hook invocation.
type HookCallback func(ctx context.Context, input HookInput, toolUseID string) (HookOutput, error)

// HookMatcher binds callbacks to tool names. An empty Matcher matches all.
type HookMatcher struct {
	Matcher string
	Hooks   []HookCallback
}

// PermissionRequest is a can_use_tool control request.
type PermissionRequest struct {
	ToolName    string          `json:"tool_name"`
	Input       json.RawMessage `json:"input"`
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	Suggestions json.RawMessage `json:"permission_suggestions,omitempty"`
}

// Behaviors of a PermissionResult.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// PermissionResult answers a can_use_tool request.
type PermissionResult struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
	Interrupt    bool            `json:"interrupt,omitempty"`
}

// Allow approves the invocation with input unchanged.
func Allow(input json.RawMessage) PermissionResult {
	return PermissionResult{Behavior: BehaviorAllow, UpdatedInput: input}
}

// Deny rejects the invocation.
func Deny(message string, interrupt bool) PermissionResult {
	return PermissionResult{Behavior: BehaviorDeny, Message: message, Interrupt: interrupt}
}

// CanUseToolFunc decides whether a tool may run.
type CanUseToolFunc func(ctx context.Context, req PermissionRequest) (PermissionResult, error)
