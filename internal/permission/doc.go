// Package permission decides whether a tool invocation made through the
// bridge's own tool namespace may run without asking the user.
//
// Rules come from settings files and have one of three shapes:
//
//	Read                  any invocation of the tool class
//	Read(./secrets/**)    path glob, relative to the session working directory
//	Bash(npm run:*)       command prefix; the remainder must not chain commands
//
// A Checker evaluates deny rules first, then allow, then ask. The first
// matching rule in a tier decides. Without a match the result is ask.
//
//	checker := permission.NewChecker(permission.Rules{
//		Allow: []string{"Bash(npm run:*)"},
//	}, "/work/project")
//	res := checker.Check("mcp__acp__Bash", map[string]any{"command": "npm run test"})
//	// res.Decision == permission.DecisionAllow
//
// Only tools prefixed with ToolPrefix are subject to rule matching. Runtime
// native tools always yield DecisionAsk so the runtime's own policy applies.
//
// Checkers are immutable and safe for concurrent use. Grants hold rules that
// the user approved with "always allow" for the lifetime of a session.
package permission
