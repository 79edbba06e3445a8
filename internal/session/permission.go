package session

import (
	"context"
	"encoding/json"
	"strings"

	acp "github.com/coder/acp-go-sdk"
	"github.com/oklog/ulid/v2"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/event"
	"github.com/zed-industries/claude-code-acp-sub000/internal/permission"
	"github.com/zed-industries/claude-code-acp-sub000/internal/translate"
)

// Permission option ids offered to the client.
const (
	optionAllowAlways = "allow_always"
	optionAllow       = "allow"
	optionReject      = "reject"
)

const refusedMessage = "User refused permission to run tool"

// canUseTool resolves a runtime permission request: settings rules first,
// then the session mode, then grants, then the user.
func (s *Session) canUseTool(ctx context.Context, req agentsdk.PermissionRequest) (agentsdk.PermissionResult, error) {
	input := decodeInput(req.Input)
	if strings.TrimPrefix(req.ToolName, permission.ToolPrefix) == translate.ToolExitPlanMode {
		return s.exitPlanMode(ctx, req, input)
	}

	id := ulid.Make().String()
	res := s.settings.Checker().Check(req.ToolName, input)
	decision := s.Mode().Apply(req.ToolName, res)
	rule := res.Rule
	if decision == permission.DecisionAsk {
		if r, ok := s.grants.Allows(req.ToolName, input); ok {
			decision, rule = permission.DecisionAllow, &r
		}
	}

	switch decision {
	case permission.DecisionAllow:
		s.resolved(id, req.ToolName, decision, rule)
		return agentsdk.Allow(req.Input), nil
	case permission.DecisionDeny:
		s.resolved(id, req.ToolName, decision, rule)
		rejected := &permission.RejectedError{
			SessionID: s.id,
			ToolName:  req.ToolName,
			CallID:    req.ToolUseID,
			Message:   s.denyMessage(req.ToolName, rule),
		}
		return agentsdk.Deny(rejected.Error(), false), nil
	}

	s.reg.publish(event.Event{Type: event.PermissionRequired, Data: event.PermissionRequiredData{
		ID:        id,
		SessionID: s.id,
		ToolName:  req.ToolName,
		ToolUseID: req.ToolUseID,
	}})
	choice, err := s.askClient(ctx, req, input, []acp.PermissionOption{
		{Kind: acp.PermissionOptionKindAllowAlways, Name: "Always Allow", OptionId: optionAllowAlways},
		{Kind: acp.PermissionOptionKindAllowOnce, Name: "Allow", OptionId: optionAllow},
		{Kind: acp.PermissionOptionKindRejectOnce, Name: "Reject", OptionId: optionReject},
	})
	if err != nil {
		s.resolved(id, req.ToolName, permission.DecisionDeny, nil)
		return agentsdk.PermissionResult{}, err
	}

	switch choice {
	case optionAllowAlways:
		r := permission.SuggestRule(req.ToolName, input)
		s.grants.Add(r)
		s.log.Info().Str("rule", r.String()).Msg("permission granted for session")
		s.resolved(id, req.ToolName, permission.DecisionAllow, &r)
		return agentsdk.Allow(req.Input), nil
	case optionAllow:
		s.resolved(id, req.ToolName, permission.DecisionAllow, nil)
		return agentsdk.Allow(req.Input), nil
	}
	s.resolved(id, req.ToolName, permission.DecisionDeny, nil)
	return agentsdk.Deny(refusedMessage, true), nil
}

func (s *Session) denyMessage(toolName string, rule *permission.Rule) string {
	if rule != nil {
		return "Permission to use " + toolName + " has been denied by settings rule: " + rule.String()
	}
	return "Permission to use " + toolName + " has been denied in " + string(s.Mode()) + " mode"
}

// exitPlanMode asks the user to leave plan mode, switching to the mode
// they choose.
func (s *Session) exitPlanMode(ctx context.Context, req agentsdk.PermissionRequest, input map[string]any) (agentsdk.PermissionResult, error) {
	choice, err := s.askClient(ctx, req, input, []acp.PermissionOption{
		{Kind: acp.PermissionOptionKindAllowAlways, Name: "Yes, and auto-accept edits", OptionId: acp.PermissionOptionId(permission.ModeAcceptEdits)},
		{Kind: acp.PermissionOptionKindAllowOnce, Name: "Yes, and manually approve edits", OptionId: acp.PermissionOptionId(permission.ModeDefault)},
		{Kind: acp.PermissionOptionKindRejectOnce, Name: "No, keep planning", OptionId: acp.PermissionOptionId(permission.ModePlan)},
	})
	if err != nil {
		return agentsdk.PermissionResult{}, err
	}
	switch mode := permission.Mode(choice); mode {
	case permission.ModeAcceptEdits, permission.ModeDefault:
		if err := s.setMode(ctx, mode); err != nil {
			return agentsdk.PermissionResult{}, err
		}
		return agentsdk.Allow(req.Input), nil
	}
	return agentsdk.Deny(refusedMessage, true), nil
}

// askClient prompts the user and returns the selected option id, or ""
// when the request was cancelled.
func (s *Session) askClient(ctx context.Context, req agentsdk.PermissionRequest, input map[string]any, options []acp.PermissionOption) (string, error) {
	client, err := s.reg.conn()
	if err != nil {
		return "", err
	}
	info := translate.Info(req.ToolName, input, s.cwd)
	callID := req.ToolUseID
	if callID == "" {
		callID = ulid.Make().String()
	}

	var raw any = input
	if len(req.Input) > 0 {
		raw = json.RawMessage(req.Input)
	}
	resp, err := client.RequestPermission(ctx, acp.RequestPermissionRequest{
		SessionId: acp.SessionId(s.id),
		ToolCall: acp.RequestPermissionToolCall{
			ToolCallId: acp.ToolCallId(callID),
			Title:      acp.Ptr(info.Title),
			Kind:       acp.Ptr(info.Kind),
			Status:     acp.Ptr(acp.ToolCallStatusPending),
			Content:    info.Content,
			Locations:  info.Locations,
			RawInput:   raw,
		},
		Options: options,
	})
	if err != nil {
		return "", err
	}
	if resp.Outcome.Cancelled != nil || resp.Outcome.Selected == nil {
		s.log.Debug().Str("tool", req.ToolName).Msg("permission request cancelled")
		return "", nil
	}
	return string(resp.Outcome.Selected.OptionId), nil
}

func (s *Session) resolved(id, toolName string, decision permission.Decision, rule *permission.Rule) {
	data := event.PermissionResolvedData{
		ID:        id,
		SessionID: s.id,
		ToolName:  toolName,
		Decision:  string(decision),
	}
	if rule != nil {
		data.Rule = rule.String()
	}
	s.reg.publish(event.Event{Type: event.PermissionResolved, Data: data})
}
