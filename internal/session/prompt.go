package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/translate"
)

const localCommandTag = "local-command-stdout"

// interruptTimeout bounds the interrupt sent when a prompt's context ends.
const interruptTimeout = 5 * time.Second

var mcpCommandRe = regexp.MustCompile(`^/mcp:([^:\s]+):(\S+)(\s+.*)?$`)

// Prompt runs one turn and reports why it stopped.
func (r *Registry) Prompt(ctx context.Context, params acp.PromptRequest) (acp.PromptResponse, error) {
	s, err := r.get(string(params.SessionId))
	if err != nil {
		return acp.PromptResponse{}, protocolError(err)
	}
	stop, err := s.prompt(ctx, params.Prompt)
	if err != nil {
		return acp.PromptResponse{}, protocolError(err)
	}
	return acp.PromptResponse{StopReason: stop}, nil
}

// Cancel interrupts the turn in flight. It is a no-op when the session is
// idle.
func (r *Registry) Cancel(ctx context.Context, params acp.CancelNotification) error {
	s, err := r.get(string(params.SessionId))
	if err != nil {
		return protocolError(err)
	}
	if err := s.cancel(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to interrupt runtime")
	}
	return nil
}

func (s *Session) prompt(ctx context.Context, blocks []acp.ContentBlock) (acp.StopReason, error) {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()

	content, err := s.promptContent(blocks)
	if err != nil {
		return "", acp.NewInvalidParams(map[string]any{"details": err.Error()})
	}

	turn := s.beginTurn()
	defer s.endTurn()

	if err := s.query.Send(ctx, agentsdk.UserMessage{SessionID: s.id, Content: content}); err != nil {
		return "", fmt.Errorf("failed to send prompt: %w", err)
	}
	return s.drain(ctx, turn)
}

func (s *Session) beginTurn() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled.Store(false)
	s.turn = make(chan struct{})
	s.turnOnce = &sync.Once{}
	return s.turn
}

func (s *Session) endTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turn = nil
	s.turnOnce = nil
}

// cancel marks the turn in flight cancelled and interrupts the runtime
// once per turn.
func (s *Session) cancel(ctx context.Context) error {
	s.mu.Lock()
	turn, once := s.turn, s.turnOnce
	s.mu.Unlock()
	if turn == nil || !s.cancelled.CompareAndSwap(false, true) {
		return nil
	}
	once.Do(func() { close(turn) })
	s.log.Info().Msg("turn cancelled")
	return s.query.Interrupt(ctx)
}

// drain forwards runtime output until the turn ends. Output left over from
// cancelled turns is discarded first.
func (s *Session) drain(ctx context.Context, turn <-chan struct{}) (acp.StopReason, error) {
	out := s.query.Output()
	for {
		if s.cancelled.Load() {
			s.stale++
			return acp.StopReasonCancelled, nil
		}
		select {
		case <-turn:
			continue
		case <-ctx.Done():
			// The connection cancels the request before delivering
			// session/cancel, so a dropped context is a cancelled turn.
			ictx, cancel := context.WithTimeout(context.Background(), interruptTimeout)
			err := s.cancel(ictx)
			cancel()
			if err != nil {
				s.log.Warn().Err(err).Msg("failed to interrupt runtime")
			}
			continue
		case msg, ok := <-out:
			if !ok {
				return "", s.exitError()
			}
			if s.stale > 0 {
				if msg.Type == agentsdk.TypeResult {
					s.stale--
				}
				continue
			}
			stop, done, err := s.handle(ctx, msg)
			if err != nil || done {
				return stop, err
			}
		}
	}
}

// handle dispatches one runtime message. done is true when the turn ended.
func (s *Session) handle(ctx context.Context, msg agentsdk.Message) (stop acp.StopReason, done bool, err error) {
	var updates []acp.SessionUpdate

	switch msg.Type {
	case agentsdk.TypeSystem:
		return "", false, nil

	case agentsdk.TypeResult:
		return s.result(msg)

	case agentsdk.TypeStreamEvent:
		if ev := msg.Event; ev != nil && ev.Type == agentsdk.EventContentBlockStart && ev.ContentBlock != nil {
			s.expectToolUses(agentsdk.Content{*ev.ContentBlock})
		}
		updates = s.translator.StreamEvent(msg.Event)

	case agentsdk.TypeAssistant:
		if msg.Message == nil {
			return "", false, nil
		}
		if agentsdk.IsAuthRequired(msg) {
			return "", true, agentsdk.ErrAuthRequired
		}
		content := msg.Message.Content
		s.expectToolUses(content)
		if s.partial {
			content = translate.Streamed(content)
		}
		updates = s.translator.Message(translate.RoleAssistant, content)

	case agentsdk.TypeUser:
		if msg.Message == nil {
			return "", false, nil
		}
		updates = s.userUpdates(msg.Message.Content)

	default:
		s.log.Debug().Str("type", msg.Type).Msg("ignoring runtime message")
		return "", false, nil
	}

	if err := s.send(ctx, updates); err != nil {
		s.log.Warn().Err(err).Msg("failed to send session update")
	}
	return "", false, nil
}

func (s *Session) result(msg agentsdk.Message) (acp.StopReason, bool, error) {
	if agentsdk.IsAuthRequired(msg) {
		return "", true, agentsdk.ErrAuthRequired
	}
	switch msg.Subtype {
	case agentsdk.ResultSuccess:
		return acp.StopReasonEndTurn, true, nil
	case agentsdk.ResultErrorDuringExecution:
		if s.cancelled.Load() {
			return acp.StopReasonCancelled, true, nil
		}
		return acp.StopReasonRefusal, true, nil
	case agentsdk.ResultErrorMaxTurns, agentsdk.ResultErrorMaxBudget:
		return acp.StopReasonMaxTurnRequests, true, nil
	}
	detail := msg.Result
	if len(msg.Errors) > 0 {
		detail = strings.Join(msg.Errors, "; ")
	}
	return "", true, fmt.Errorf("runtime ended the turn with %q: %s", msg.Subtype, detail)
}

// userUpdates renders runtime-side user messages. The prompt echo is
// skipped; tool results and local command output are shown.
func (s *Session) userUpdates(content agentsdk.Content) []acp.SessionUpdate {
	var updates []acp.SessionUpdate
	var results agentsdk.Content
	for _, b := range content {
		switch {
		case b.IsToolResult():
			results = append(results, b)
		case b.Type == agentsdk.BlockText:
			if text, ok := localCommandOutput(b.Text); ok {
				updates = append(updates, acp.UpdateAgentMessageText(text))
			}
		}
	}
	return append(updates, s.translator.Message(translate.RoleUser, results)...)
}

func localCommandOutput(text string) (string, bool) {
	open, end := "<"+localCommandTag+">", "</"+localCommandTag+">"
	i := strings.Index(text, open)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(open):]
	if j := strings.Index(rest, end); j >= 0 {
		rest = rest[:j]
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

func (s *Session) exitError() error {
	err := s.query.Err()
	if err == nil {
		err = agentsdk.ErrClosed
	}
	if errors.Is(err, agentsdk.ErrAuthRequired) {
		return err
	}
	return fmt.Errorf("agent runtime exited: %w", err)
}

// promptBlock is the wire form of a prompt content block.
type promptBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
	URI      string `json:"uri"`
	Name     string `json:"name"`
	Resource *struct {
		URI      string `json:"uri"`
		Text     string `json:"text"`
		Blob     string `json:"blob"`
		MimeType string `json:"mimeType"`
	} `json:"resource"`
}

// promptContent converts a prompt to runtime content. Embedded resources
// are referenced inline and their text appended as context blocks.
func (s *Session) promptContent(blocks []acp.ContentBlock) ([]agentsdk.Block, error) {
	var content, context []agentsdk.Block
	first := true
	for _, cb := range blocks {
		raw, err := json.Marshal(cb)
		if err != nil {
			return nil, err
		}
		var b promptBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}

		switch b.Type {
		case "text":
			text := b.Text
			if first {
				text = s.expandCommand(text)
			}
			content = append(content, agentsdk.TextBlock(text))
		case "image":
			switch {
			case b.Data != "":
				content = append(content, agentsdk.ImageBlock(b.MimeType, b.Data))
			case b.URI != "" && strings.HasPrefix(b.URI, "http"):
				content = append(content, agentsdk.ImageURLBlock(b.URI))
			}
		case "resource_link":
			content = append(content, agentsdk.TextBlock(uriLink(b.URI)))
		case "resource":
			if b.Resource == nil {
				continue
			}
			if b.Resource.Text == "" {
				s.log.Debug().Str("uri", b.Resource.URI).Msg("skipping binary resource")
				continue
			}
			content = append(content, agentsdk.TextBlock(uriLink(b.Resource.URI)))
			context = append(context, agentsdk.TextBlock(
				fmt.Sprintf("\n<context ref=%q>\n%s\n</context>", b.Resource.URI, b.Resource.Text)))
		default:
			s.log.Debug().Str("type", b.Type).Msg("skipping unsupported prompt block")
		}
		first = false
	}
	return append(content, context...), nil
}

// expandCommand rewrites MCP prompt commands to the runtime's form and
// expands custom slash commands.
func (s *Session) expandCommand(text string) string {
	if m := mcpCommandRe.FindStringSubmatch(text); m != nil {
		return "/" + m[1] + ":" + m[2] + " (MCP)" + m[3]
	}
	s.mu.Lock()
	catalog := s.catalog
	s.mu.Unlock()
	if catalog == nil {
		return text
	}
	if expanded, ok := catalog.Expand(text); ok {
		return expanded
	}
	return text
}

// uriLink renders file and editor URIs as markdown mentions.
func uriLink(uri string) string {
	for _, scheme := range []string{"file://", "zed://"} {
		if rest, ok := strings.CutPrefix(uri, scheme); ok {
			name := path.Base(rest)
			if name == "." || name == "/" {
				name = rest
			}
			return fmt.Sprintf("[@%s](%s)", name, uri)
		}
	}
	return uri
}
