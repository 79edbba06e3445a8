package acptools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/zed-industries/claude-code-acp-sub000/internal/terminal"
	"github.com/zed-industries/claude-code-acp-sub000/internal/tool"
)

// Tool names as registered on the MCP server.
const (
	ToolRead       = "Read"
	ToolWrite      = "Write"
	ToolEdit       = "Edit"
	ToolMultiEdit  = "MultiEdit"
	ToolBash       = "Bash"
	ToolBashOutput = "BashOutput"
	ToolKillShell  = "KillShell"
)

const (
	// DefaultBashTimeout bounds a foreground command without a timeout.
	DefaultBashTimeout = 2 * time.Minute
	// MaxBashTimeout is the largest timeout a caller may request.
	MaxBashTimeout = 10 * time.Minute

	// toolUseIDKey is the _meta field carrying the runtime's tool use id.
	toolUseIDKey = "claudecode/toolUseId"
)

// NewMCPServer builds the tool server for one session.
func NewMCPServer(sess Session) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	h := &handlers{sess: sess}

	s.AddTool(mcp.NewTool(ToolRead,
		mcp.WithDescription("Reads a file. Lines are numbered from 1. Use offset and limit to page through large files. Sees unsaved editor changes."),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Absolute path of the file to read")),
		mcp.WithNumber("offset", mcp.Description("Line number to start reading from")),
		mcp.WithNumber("limit", mcp.Description("Number of lines to read")),
		mcp.WithReadOnlyHintAnnotation(true),
	), h.read)

	s.AddTool(mcp.NewTool(ToolWrite,
		mcp.WithDescription("Writes a file, replacing any existing content. Returns the change as a unified diff."),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Absolute path of the file to write")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Content to write")),
		mcp.WithDestructiveHintAnnotation(true),
	), h.write)

	s.AddTool(mcp.NewTool(ToolEdit,
		mcp.WithDescription("Replaces text in a file. old_string must match exactly once unless replace_all is set. Returns the change as a unified diff."),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Absolute path of the file to edit")),
		mcp.WithString("old_string", mcp.Required(), mcp.Description("Text to replace")),
		mcp.WithString("new_string", mcp.Required(), mcp.Description("Replacement text")),
		mcp.WithBoolean("replace_all", mcp.Description("Replace every occurrence")),
	), h.edit)

	s.AddTool(mcp.NewTool(ToolMultiEdit,
		mcp.WithDescription("Applies several replacements to one file in order. Either all apply or none do."),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Absolute path of the file to edit")),
		mcp.WithArray("edits", mcp.Required(), mcp.Description("Replacements applied in order"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"old_string":  map[string]any{"type": "string"},
					"new_string":  map[string]any{"type": "string"},
					"replace_all": map[string]any{"type": "boolean"},
				},
				"required": []string{"old_string", "new_string"},
			}),
		),
	), h.multiEdit)

	s.AddTool(mcp.NewTool(ToolBash,
		mcp.WithDescription("Runs a shell command in the session's working directory. Set run_in_background to keep it running and poll it with BashOutput."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command line to run")),
		mcp.WithNumber("timeout", mcp.Description("Timeout in milliseconds (max 600000)")),
		mcp.WithString("description", mcp.Description("What the command does, in a few words")),
		mcp.WithBoolean("run_in_background", mcp.Description("Return immediately and keep the command running")),
	), h.bash)

	s.AddTool(mcp.NewTool(ToolBashOutput,
		mcp.WithDescription("Returns output a background command produced since the last call, and its status."),
		mcp.WithString("bash_id", mcp.Required(), mcp.Description("ID returned by Bash")),
		mcp.WithReadOnlyHintAnnotation(true),
	), h.bashOutput)

	s.AddTool(mcp.NewTool(ToolKillShell,
		mcp.WithDescription("Kills a background command."),
		mcp.WithString("shell_id", mcp.Required(), mcp.Description("ID returned by Bash")),
	), h.killShell)

	return s
}

type handlers struct {
	sess Session
}

func (h *handlers) path(req mcp.CallToolRequest) (string, error) {
	p, err := req.RequireString("file_path")
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(h.sess.Cwd(), p)
	}
	return p, nil
}

func (h *handlers) read(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := h.path(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if tool.IsImageFile(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to read image", err), nil
		}
		return mcp.NewToolResultImage(filepath.Base(path), base64.StdEncoding.EncodeToString(data), tool.DetectMediaType(path)), nil
	}

	content, err := h.sess.FS().ReadTextFile(ctx, path)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to read file", err), nil
	}
	if tool.IsBinary([]byte(content)) {
		return mcp.NewToolResultError("file appears to be binary: " + path), nil
	}
	w := tool.ReadWindow(content, req.GetInt("offset", 0), req.GetInt("limit", 0))
	return mcp.NewToolResultText(w.Format()), nil
}

func (h *handlers) write(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := h.path(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	change, err := tool.WriteFile(ctx, h.sess.FS(), path, content)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to write file", err), nil
	}
	return changeResult(change), nil
}

func (h *handlers) edit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := h.path(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var e tool.Edit
	if e.OldString, err = req.RequireString("old_string"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if e.NewString, err = req.RequireString("new_string"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e.ReplaceAll = req.GetBool("replace_all", false)

	change, err := tool.EditFile(ctx, h.sess.FS(), path, []tool.Edit{e})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return changeResult(change), nil
}

func (h *handlers) multiEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := h.path(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var args struct {
		Edits []tool.Edit `json:"edits"`
	}
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid edits", err), nil
	}
	change, err := tool.EditFile(ctx, h.sess.FS(), path, args.Edits)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return changeResult(change), nil
}

func changeResult(c tool.Change) *mcp.CallToolResult {
	diff := c.Diff()
	if diff == "" {
		return mcp.NewToolResultText("No changes to " + c.Path)
	}
	return mcp.NewToolResultText(diff)
}

func (h *handlers) bash(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	line, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cmd := terminal.ShellCommand(line, h.sess.Cwd())

	if req.GetBool("run_in_background", false) {
		term, err := h.sess.Terminals().Start(ctx, cmd, terminal.StartOptions{})
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to start command", err), nil
		}
		h.showTerminal(ctx, req, term)
		return mcp.NewToolResultText(fmt.Sprintf("Command running in background with ID: %s", term.ID())), nil
	}

	timeout := DefaultBashTimeout
	if ms := req.GetInt("timeout", 0); ms > 0 {
		timeout = min(time.Duration(ms)*time.Millisecond, MaxBashTimeout)
	}
	term, err := h.sess.Terminals().Start(ctx, cmd, terminal.StartOptions{
		Timeout: timeout,
		Abort:   ctx.Done(),
	})
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to start command", err), nil
	}
	h.showTerminal(ctx, req, term)

	snap, err := term.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("command failed", err), nil
	}
	return bashResult(snap, timeout), nil
}

// showTerminal embeds the editor terminal in the runtime's tool call.
func (h *handlers) showTerminal(ctx context.Context, req mcp.CallToolRequest, term *terminal.Terminal) {
	id := toolUseID(req)
	if id == "" || !h.sess.ClientTerminals() {
		return
	}
	update := acp.UpdateToolCall(acp.ToolCallId(id),
		acp.WithUpdateStatus(acp.ToolCallStatusInProgress),
		acp.WithUpdateContent([]acp.ToolCallContent{acp.ToolTerminalRef(term.HandleID())}),
	)
	_ = h.sess.Update(ctx, update)
}

func toolUseID(req mcp.CallToolRequest) string {
	if req.Params.Meta == nil {
		return ""
	}
	id, _ := req.Params.Meta.AdditionalFields[toolUseIDKey].(string)
	return id
}

func bashResult(snap terminal.Snapshot, timeout time.Duration) *mcp.CallToolResult {
	var sb strings.Builder
	sb.WriteString(snap.Output)
	if snap.Truncated {
		sb.WriteString("\n(output truncated)")
	}

	switch snap.State {
	case terminal.StateTimedOut:
		fmt.Fprintf(&sb, "\nCommand timed out after %s", timeout)
		return mcp.NewToolResultError(sb.String())
	case terminal.StateAborted:
		sb.WriteString("\nCommand was aborted")
		return mcp.NewToolResultError(sb.String())
	case terminal.StateKilled:
		sb.WriteString("\nCommand was killed")
		return mcp.NewToolResultError(sb.String())
	}

	if st := snap.ExitStatus; st != nil {
		switch {
		case st.Signal != nil:
			fmt.Fprintf(&sb, "\nCommand terminated by signal %s", *st.Signal)
			return mcp.NewToolResultError(sb.String())
		case st.ExitCode != nil && *st.ExitCode != 0:
			fmt.Fprintf(&sb, "\nExit code: %d", *st.ExitCode)
			return mcp.NewToolResultError(sb.String())
		}
	}
	return mcp.NewToolResultText(sb.String())
}

func (h *handlers) bashOutput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("bash_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := h.sess.Terminals().CurrentOutput(ctx, id)
	if errors.Is(err, terminal.ErrTerminalNotFound) {
		return mcp.NewToolResultError("Unknown shell " + id), nil
	}
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to read output", err), nil
	}
	return mcp.NewToolResultText(statusText(snap) + "\n\n" + snap.Delta), nil
}

func (h *handlers) killShell(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("shell_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	term, err := h.sess.Terminals().Get(id)
	if errors.Is(err, terminal.ErrTerminalNotFound) {
		return mcp.NewToolResultError("Unknown shell " + id), nil
	}
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to kill shell", err), nil
	}
	if state := term.State(); state != terminal.StateStarted {
		return mcp.NewToolResultText(fmt.Sprintf("Shell %s had already finished (%s)", id, state)), nil
	}
	snap, err := term.Kill(ctx)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to kill shell", err), nil
	}
	if snap.State != terminal.StateKilled {
		return mcp.NewToolResultText(fmt.Sprintf("Shell %s had already finished (%s)", id, snap.State)), nil
	}
	return mcp.NewToolResultText("Killed shell " + id), nil
}

func statusText(snap terminal.Snapshot) string {
	status := "Status: " + string(snap.State)
	if st := snap.ExitStatus; st != nil && st.ExitCode != nil {
		status += fmt.Sprintf(" (exit code %d)", *st.ExitCode)
	}
	return status
}
