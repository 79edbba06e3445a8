package permission

import (
	"fmt"
	"regexp"
	"strings"
)

// ToolPrefix is the namespace of the tools served by the bridge itself.
const ToolPrefix = "mcp__acp__"

// Tool names served by the bridge.
const (
	ToolRead       = ToolPrefix + "Read"
	ToolWrite      = ToolPrefix + "Write"
	ToolEdit       = ToolPrefix + "Edit"
	ToolMultiEdit  = ToolPrefix + "MultiEdit"
	ToolBash       = ToolPrefix + "Bash"
	ToolBashOutput = ToolPrefix + "BashOutput"
	ToolKillShell  = ToolPrefix + "KillShell"
)

// Rule tool classes.
const (
	ClassRead = "Read"
	ClassEdit = "Edit"
	ClassBash = "Bash"
)

var toolClasses = map[string][]string{
	ClassRead: {ToolRead},
	ClassEdit: {ToolEdit, ToolWrite, ToolMultiEdit},
	ClassBash: {ToolBash},
}

// argumentKeys names the input field a rule argument is compared against.
var argumentKeys = map[string]string{
	ToolRead:      "file_path",
	ToolWrite:     "file_path",
	ToolEdit:      "file_path",
	ToolMultiEdit: "file_path",
	ToolBash:      "command",
}

var ruleRe = regexp.MustCompile(`^(\w+)(?:\((.+)\))?$`)

// Rule is a parsed permission rule.
type Rule struct {
	Tool     string
	Argument string
	Wildcard bool
	Raw      string
}

// ParseRule parses `Tool`, `Tool(arg)` or `Tool(prefix:*)`.
func ParseRule(s string) (Rule, error) {
	raw := strings.TrimSpace(s)
	m := ruleRe.FindStringSubmatch(raw)
	if m == nil {
		return Rule{}, fmt.Errorf("invalid permission rule %q", s)
	}
	r := Rule{Tool: m[1], Argument: m[2], Raw: raw}
	if strings.HasSuffix(r.Argument, ":*") {
		r.Argument = strings.TrimSuffix(r.Argument, ":*")
		r.Wildcard = true
	}
	return r, nil
}

// String renders the rule in settings syntax.
func (r Rule) String() string {
	if r.Argument == "" {
		return r.Tool
	}
	if r.Wildcard {
		return r.Tool + "(" + r.Argument + ":*)"
	}
	return r.Tool + "(" + r.Argument + ")"
}

// Covers reports whether the rule's tool class includes toolName.
func (r Rule) Covers(toolName string) bool {
	for _, name := range toolClasses[r.Tool] {
		if name == toolName {
			return true
		}
	}
	return ToolPrefix+r.Tool == toolName
}

// IsBridgeTool reports whether toolName belongs to the bridge namespace.
func IsBridgeTool(toolName string) bool {
	return strings.HasPrefix(toolName, ToolPrefix)
}

// IsEditTool reports whether toolName mutates files.
func IsEditTool(toolName string) bool {
	switch strings.TrimPrefix(toolName, ToolPrefix) {
	case "Edit", "Write", "MultiEdit", "NotebookEdit":
		return true
	}
	return false
}

func argument(toolName string, input map[string]any) (string, bool) {
	key, ok := argumentKeys[toolName]
	if !ok {
		return "", false
	}
	v, ok := input[key].(string)
	return v, ok
}

func (r Rule) matches(toolName string, input map[string]any, cwd, home string) bool {
	if !r.Covers(toolName) {
		return false
	}
	if r.Argument == "" {
		return true
	}
	arg, ok := argument(toolName, input)
	if !ok {
		return false
	}
	if toolName == ToolBash {
		return matchCommand(r, arg)
	}
	return matchPath(r.Argument, arg, cwd, home)
}
