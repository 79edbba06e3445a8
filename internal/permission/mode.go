package permission

import "fmt"

// Mode is the session-wide permission disposition.
type Mode string

const (
	ModeDefault           Mode = "default"
	ModeAcceptEdits       Mode = "acceptEdits"
	ModeBypassPermissions Mode = "bypassPermissions"
	ModeDontAsk           Mode = "dontAsk"
	ModePlan              Mode = "plan"
)

// ModeInfo describes a mode for clients.
type ModeInfo struct {
	ID          Mode
	Name        string
	Description string
}

// Modes lists the modes advertised to clients, in display order.
var Modes = []ModeInfo{
	{ModeDefault, "Default", "Prompts for permission on first use of each tool"},
	{ModeAcceptEdits, "Accept Edits", "Automatically accepts file edit permissions for the session"},
	{ModePlan, "Plan Mode", "Claude can analyze but not modify files or execute commands"},
	{ModeDontAsk, "Don't Ask", "Denies tools that are not pre-approved instead of prompting"},
	{ModeBypassPermissions, "Bypass Permissions", "Skips all permission prompts"},
}

// ParseMode validates a mode identifier.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m.ID) == s {
			return m.ID, nil
		}
	}
	return "", fmt.Errorf("invalid permission mode %q", s)
}

// Apply resolves a rule-engine result under the mode. The returned decision
// is final; DecisionAsk means the user must be prompted.
func (m Mode) Apply(toolName string, res Result) Decision {
	if res.Decision == DecisionDeny {
		return DecisionDeny
	}
	switch m {
	case ModeBypassPermissions:
		return DecisionAllow
	case ModeAcceptEdits:
		if IsEditTool(toolName) {
			return DecisionAllow
		}
	case ModePlan:
		if IsEditTool(toolName) || toolName == ToolBash {
			return DecisionDeny
		}
	case ModeDontAsk:
		if res.Decision == DecisionAsk {
			return DecisionDeny
		}
	}
	return res.Decision
}
