package translate

import (
	"bytes"
	"encoding/json"

	acp "github.com/coder/acp-go-sdk"
	"github.com/rs/zerolog"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/logging"
)

// Role tags which side of the conversation a message came from.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Translator maps runtime messages to session updates for one session.
type Translator struct {
	cache *ToolUseCache
	cwd   string
	log   zerolog.Logger
}

// New creates a translator recording tool uses into cache.
func New(cache *ToolUseCache, cwd string) *Translator {
	return &Translator{
		cache: cache,
		cwd:   cwd,
		log:   logging.Component("translate"),
	}
}

// Cache returns the tool-use cache.
func (t *Translator) Cache() *ToolUseCache { return t.cache }

// Message converts the blocks of one message.
func (t *Translator) Message(role Role, content agentsdk.Content) []acp.SessionUpdate {
	var out []acp.SessionUpdate
	for _, b := range content {
		out = append(out, t.block(role, b)...)
	}
	return out
}

// Streamed drops the blocks already delivered through stream events.
func Streamed(content agentsdk.Content) agentsdk.Content {
	var out agentsdk.Content
	for _, b := range content {
		switch b.Type {
		case agentsdk.BlockText, agentsdk.BlockThinking, agentsdk.BlockRedacted:
			continue
		}
		out = append(out, b)
	}
	return out
}

// StreamEvent converts one partial-message event.
func (t *Translator) StreamEvent(ev *agentsdk.StreamEvent) []acp.SessionUpdate {
	if ev == nil {
		return nil
	}
	switch ev.Type {
	case agentsdk.EventContentBlockStart:
		if ev.ContentBlock == nil {
			return nil
		}
		return t.block(RoleAssistant, *ev.ContentBlock)
	case agentsdk.EventContentBlockDelta:
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case agentsdk.DeltaText:
			return t.block(RoleAssistant, agentsdk.Block{Type: agentsdk.BlockText, Text: ev.Delta.Text})
		case agentsdk.DeltaThinking:
			return t.block(RoleAssistant, agentsdk.Block{Type: agentsdk.BlockThinking, Thinking: ev.Delta.Thinking})
		}
	}
	return nil
}

func (t *Translator) block(role Role, b agentsdk.Block) []acp.SessionUpdate {
	switch {
	case b.Type == agentsdk.BlockText:
		if b.Text == "" {
			return nil
		}
		if role == RoleUser {
			return []acp.SessionUpdate{acp.UpdateUserMessageText(b.Text)}
		}
		return []acp.SessionUpdate{acp.UpdateAgentMessageText(b.Text)}

	case b.Type == agentsdk.BlockImage:
		if b.Source == nil {
			return nil
		}
		var cb acp.ContentBlock
		if b.Source.Type == "url" {
			cb = acp.ResourceLinkBlock(b.Source.URL, b.Source.URL)
		} else {
			cb = acp.ImageBlock(b.Source.Data, b.Source.MediaType)
		}
		if role == RoleUser {
			return []acp.SessionUpdate{acp.UpdateUserMessage(cb)}
		}
		return []acp.SessionUpdate{acp.UpdateAgentMessage(cb)}

	case b.Type == agentsdk.BlockThinking:
		if b.Thinking == "" {
			return nil
		}
		return []acp.SessionUpdate{acp.UpdateAgentThoughtText(b.Thinking)}

	case b.IsToolUse():
		return t.toolUse(b)

	case b.IsToolResult():
		return t.toolResult(b)
	}
	return nil
}

func (t *Translator) toolUse(b agentsdk.Block) []acp.SessionUpdate {
	var in map[string]any
	if len(bytes.TrimSpace(b.Input)) > 0 {
		if err := json.Unmarshal(b.Input, &in); err != nil {
			t.log.Warn().Err(err).Str("tool", b.Name).Str("id", b.ID).Msg("unparseable tool input")
		}
	}

	_, seen := t.cache.Get(b.ID)
	t.cache.Put(ToolUse{ID: b.ID, Name: b.Name, Input: in, Raw: b.Input})

	if b.Name == ToolTodoWrite {
		if entries := PlanEntries(in); len(entries) > 0 {
			return []acp.SessionUpdate{acp.UpdatePlan(entries...)}
		}
		return nil
	}

	info := Info(b.Name, in, t.cwd)
	id := acp.ToolCallId(b.ID)

	// A block start carries no input; the complete message that follows
	// refines the call already announced.
	if seen {
		opts := []acp.ToolCallUpdateOpt{
			acp.WithUpdateTitle(info.Title),
			acp.WithUpdateKind(info.Kind),
			acp.WithUpdateRawInput(in),
		}
		if len(info.Content) > 0 {
			opts = append(opts, acp.WithUpdateContent(info.Content))
		}
		if len(info.Locations) > 0 {
			opts = append(opts, acp.WithUpdateLocations(info.Locations))
		}
		return []acp.SessionUpdate{acp.UpdateToolCall(id, opts...)}
	}

	opts := []acp.ToolCallStartOpt{
		acp.WithStartKind(info.Kind),
		acp.WithStartStatus(acp.ToolCallStatusPending),
		acp.WithStartRawInput(in),
	}
	if len(info.Content) > 0 {
		opts = append(opts, acp.WithStartContent(info.Content))
	}
	if len(info.Locations) > 0 {
		opts = append(opts, acp.WithStartLocations(info.Locations))
	}
	return []acp.SessionUpdate{acp.StartToolCall(id, info.Title, opts...)}
}

func (t *Translator) toolResult(b agentsdk.Block) []acp.SessionUpdate {
	use, ok := t.cache.Get(b.ToolUseID)
	if !ok {
		t.log.Warn().Str("id", b.ToolUseID).Str("type", b.Type).Msg("tool result for untracked tool use")
		return nil
	}
	if use.Name == ToolTodoWrite {
		return nil
	}

	rb := newResultBlock(b)
	entry := lookup(use.Name)

	var content []acp.ToolCallContent
	switch {
	case entry.result != nil:
		content = entry.result(use, rb)
	case b.IsError:
		content = fencedResult(use, rb)
	default:
		content = NormalizeResult(rb.Type, rb.Content)
	}

	status := acp.ToolCallStatusCompleted
	if b.IsError {
		status = acp.ToolCallStatusFailed
	}
	opts := []acp.ToolCallUpdateOpt{
		acp.WithUpdateStatus(status),
		acp.WithUpdateRawOutput(rawValue(b.Content)),
	}
	if len(content) > 0 {
		opts = append(opts, acp.WithUpdateContent(content))
	}
	return []acp.SessionUpdate{acp.UpdateToolCall(acp.ToolCallId(b.ToolUseID), opts...)}
}

// ToolResponse attaches the runtime's structured tool response to a call.
func (t *Translator) ToolResponse(toolUseID string, response json.RawMessage) (acp.SessionUpdate, bool) {
	if _, ok := t.cache.Get(toolUseID); !ok {
		return acp.SessionUpdate{}, false
	}
	u := acp.UpdateToolCall(acp.ToolCallId(toolUseID))
	u.ToolCallUpdate.Meta = map[string]any{
		"claudeCode": map[string]any{"toolResponse": rawValue(response)},
	}
	return u, true
}

// rawValue decodes raw for pass-through, keeping the original bytes when
// they are not valid JSON.
func rawValue(raw json.RawMessage) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
