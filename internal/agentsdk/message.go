package agentsdk

import (
	"encoding/json"
	"strings"
)

// Message types emitted by the runtime.
const (
	TypeSystem      = "system"
	TypeUser        = "user"
	TypeAssistant   = "assistant"
	TypeResult      = "result"
	TypeStreamEvent = "stream_event"
)

// Result subtypes.
const (
	ResultSuccess              = "success"
	ResultErrorDuringExecution = "error_during_execution"
	ResultErrorMaxTurns        = "error_max_turns"
	ResultErrorMaxBudget       = "error_max_budget_usd"
)

// Content block types.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockThinking   = "thinking"
	BlockRedacted   = "redacted_thinking"
	BlockToolUse    = "tool_use"
	BlockServerTool = "server_tool_use"
	BlockMCPToolUse = "mcp_tool_use"
	BlockToolResult = "tool_result"
	BlockDocument   = "document"
)

// SyntheticModel marks assistant messages produced by the runtime itself
// rather than the model, e.g. login prompts.
const SyntheticModel = "<synthetic>"

// Message is one line of runtime output.
type Message struct {
	Type            string       `json:"type"`
	Subtype         string       `json:"subtype,omitempty"`
	UUID            string       `json:"uuid,omitempty"`
	SessionID       string       `json:"session_id,omitempty"`
	ParentToolUseID *string      `json:"parent_tool_use_id,omitempty"`
	Message         *APIMessage  `json:"message,omitempty"`
	Event           *StreamEvent `json:"event,omitempty"`

	// tool_use_result is attached to user messages carrying tool results.
	ToolUseResult json.RawMessage `json:"tool_use_result,omitempty"`

	// Result fields.
	Result     string   `json:"result,omitempty"`
	IsError    bool     `json:"is_error,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	NumTurns   int      `json:"num_turns,omitempty"`
	DurationMs int      `json:"duration_ms,omitempty"`

	// System init fields.
	Cwd            string   `json:"cwd,omitempty"`
	Model          string   `json:"model,omitempty"`
	PermissionMode string   `json:"permissionMode,omitempty"`
	SlashCommands  []string `json:"slash_commands,omitempty"`
	Tools          []string `json:"tools,omitempty"`
}

// APIMessage is the model message wrapped by user and assistant lines.
type APIMessage struct {
	ID      string  `json:"id,omitempty"`
	Role    string  `json:"role,omitempty"`
	Model   string  `json:"model,omitempty"`
	Content Content `json:"content"`
}

// Content is a list of blocks. A bare string decodes as a single text block.
type Content []Block

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{{Type: BlockText, Text: s}}
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*c = blocks
	return nil
}

// Block is one content block. Fields are populated according to Type.
type Block struct {
	Type string `json:"type"`

	Text      string `json:"text,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	Source *Source `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result and the server-side *_tool_result variants
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Source is an image or document payload.
type Source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// IsToolResult reports whether the block carries a tool result, including
// server tool results such as web_search_tool_result.
func (b Block) IsToolResult() bool {
	return b.Type == BlockToolResult || strings.HasSuffix(b.Type, "_tool_result")
}

// IsToolUse reports whether the block invokes a tool.
func (b Block) IsToolUse() bool {
	return b.Type == BlockToolUse || b.Type == BlockServerTool || b.Type == BlockMCPToolUse
}

// StreamEvent is a partial message event, emitted with
// --include-partial-messages.
type StreamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *Block `json:"content_block,omitempty"`
	Delta        *Delta `json:"delta,omitempty"`
}

// Stream event types.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
)

// Delta types.
const (
	DeltaText      = "text_delta"
	DeltaThinking  = "thinking_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaSignature = "signature_delta"
)

// Delta is the payload of a content_block_delta event.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// UserMessage is a turn pushed to the runtime's stdin.
type UserMessage struct {
	SessionID string
	Content   []Block
}

func (m UserMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type            string     `json:"type"`
		Message         APIMessage `json:"message"`
		ParentToolUseID *string    `json:"parent_tool_use_id"`
		SessionID       string     `json:"session_id"`
	}{
		Type:      TypeUser,
		Message:   APIMessage{Role: "user", Content: m.Content},
		SessionID: m.SessionID,
	})
}

// TextBlock builds a text content block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ImageBlock builds an inline base64 image block.
func ImageBlock(mediaType, data string) Block {
	return Block{Type: BlockImage, Source: &Source{Type: "base64", MediaType: mediaType, Data: data}}
}

// ImageURLBlock builds an image block referencing a URL.
func ImageURLBlock(url string) Block {
	return Block{Type: BlockImage, Source: &Source{Type: "url", URL: url}}
}

var authMarkers = []string{
	"Please run /login",
	"Invalid API key",
	"OAuth token has expired",
	"Credit balance is too low",
}

func hasAuthMarker(s string) bool {
	for _, m := range authMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// IsAuthRequired reports whether msg tells the user to log in. The runtime
// reports this both in result text and as a synthetic assistant message.
func IsAuthRequired(msg Message) bool {
	switch msg.Type {
	case TypeResult:
		if hasAuthMarker(msg.Result) {
			return true
		}
		for _, e := range msg.Errors {
			if hasAuthMarker(e) {
				return true
			}
		}
	case TypeAssistant:
		if msg.Message == nil || msg.Message.Model != SyntheticModel {
			return false
		}
		for _, b := range msg.Message.Content {
			if b.Type == BlockText && hasAuthMarker(b.Text) {
				return true
			}
		}
	}
	return false
}
