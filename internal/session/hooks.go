package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/permission"
	"github.com/zed-industries/claude-code-acp-sub000/internal/translate"
)

// maxPendingToolUses bounds the tool uses awaiting a PostToolUse hook.
const maxPendingToolUses = 256

// pendingToolUses correlates announced tool uses with their PostToolUse
// hook. Each id is taken at most once; the oldest entry is dropped when
// the map is full.
type pendingToolUses struct {
	mu    sync.Mutex
	limit int
	names map[string]string
	order []string
}

func newPendingToolUses(limit int) *pendingToolUses {
	return &pendingToolUses{limit: limit, names: make(map[string]string)}
}

func (p *pendingToolUses) expect(id, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.names[id]; ok {
		return
	}
	for len(p.order) >= p.limit && len(p.order) > 0 {
		delete(p.names, p.order[0])
		p.order = p.order[1:]
	}
	p.names[id] = name
	p.order = append(p.order, id)
}

func (p *pendingToolUses) take(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.names[id]
	if !ok {
		return "", false
	}
	delete(p.names, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return name, true
}

func (p *pendingToolUses) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.names)
}

func (s *Session) expectToolUses(content agentsdk.Content) {
	for _, b := range content {
		if b.IsToolUse() && b.ID != "" {
			s.pending.expect(b.ID, b.Name)
		}
	}
}

// preToolUse applies settings rules before the runtime's own checks.
func (s *Session) preToolUse(_ context.Context, in agentsdk.HookInput, _ string) (agentsdk.HookOutput, error) {
	res := s.settings.Checker().Check(in.ToolName, decodeInput(in.ToolInput))
	if res.Rule == nil || res.Decision == permission.DecisionAsk {
		return agentsdk.HookOutput{Continue: true}, nil
	}
	reason := "Allowed by settings rule: "
	if res.Decision == permission.DecisionDeny {
		reason = "Denied by settings rule: "
	}
	return agentsdk.HookOutput{
		Continue: true,
		HookSpecificOutput: &agentsdk.HookSpecificOutput{
			HookEventName:            agentsdk.HookPreToolUse,
			PermissionDecision:       string(res.Decision),
			PermissionDecisionReason: reason + res.Rule.String(),
		},
	}, nil
}

// postToolUse attaches the structured tool response to the call and
// follows mode changes the runtime made on its own.
func (s *Session) postToolUse(ctx context.Context, in agentsdk.HookInput, toolUseID string) (agentsdk.HookOutput, error) {
	if toolUseID == "" {
		toolUseID = in.ToolUseID
	}
	name, ok := s.pending.take(toolUseID)
	if !ok {
		s.log.Debug().Str("tool_use_id", toolUseID).Msg("no pending tool use for hook")
		return agentsdk.HookOutput{Continue: true}, nil
	}
	if u, ok := s.translator.ToolResponse(toolUseID, in.ToolResponse); ok {
		if err := s.Update(ctx, u); err != nil {
			s.log.Warn().Err(err).Msg("failed to send tool response")
		}
	}

	if strings.TrimPrefix(name, permission.ToolPrefix) == translate.ToolEnterPlanMode {
		s.mu.Lock()
		s.mode = permission.ModePlan
		s.mu.Unlock()
		if err := s.sendMode(ctx, string(permission.ModePlan)); err != nil {
			s.log.Warn().Err(err).Msg("failed to send mode update")
		}
	}
	return agentsdk.HookOutput{Continue: true}, nil
}

func decodeInput(raw json.RawMessage) map[string]any {
	in := map[string]any{}
	if len(raw) == 0 {
		return in
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return in
}
