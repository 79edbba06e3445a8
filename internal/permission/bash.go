package permission

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// shellOperators chain or substitute commands. A prefix rule never matches
// a command whose remainder contains one of them.
var shellOperators = []string{"&&", "||", ";", "|", "$(", "`", "\n"}

// ContainsShellOperator reports whether s contains a chaining or
// substitution operator.
func ContainsShellOperator(s string) bool {
	for _, op := range shellOperators {
		if strings.Contains(s, op) {
			return true
		}
	}
	return false
}

func matchCommand(r Rule, command string) bool {
	if !r.Wildcard {
		return command == r.Argument
	}
	if !strings.HasPrefix(command, r.Argument) {
		return false
	}
	return !ContainsShellOperator(command[len(r.Argument):])
}

// Command is one simple command parsed out of a shell line.
type Command struct {
	Name       string
	Args       []string
	Subcommand string
}

// ParseCommand parses a shell line into its simple commands.
func ParseCommand(line string) ([]Command, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var commands []Command
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractCommand(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

func extractCommand(call *syntax.CallExpr) *Command {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &Command{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		s := wordToString(arg)
		cmd.Args = append(cmd.Args, s)
		if cmd.Subcommand == "" && !strings.HasPrefix(s, "-") {
			cmd.Subcommand = s
		}
	}

	return cmd
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// SuggestRule derives the rule recorded when the user picks "always allow"
// for an invocation. Shell commands get a `name subcommand:*` prefix rule
// when the line is a single plain command, otherwise an exact rule.
func SuggestRule(toolName string, input map[string]any) Rule {
	switch {
	case toolName == ToolBash:
		command, _ := input["command"].(string)
		command = strings.TrimSpace(command)
		exact := Rule{Tool: ClassBash, Argument: command}
		if ContainsShellOperator(command) {
			return exact
		}
		cmds, err := ParseCommand(command)
		if err != nil || len(cmds) != 1 {
			return exact
		}
		prefix := cmds[0].Name
		if cmds[0].Subcommand != "" && len(cmds[0].Args) > 0 && cmds[0].Args[0] == cmds[0].Subcommand {
			prefix += " " + cmds[0].Subcommand
		}
		if !strings.HasPrefix(command, prefix) {
			return exact
		}
		return Rule{Tool: ClassBash, Argument: prefix, Wildcard: true}
	case toolName == ToolRead:
		return Rule{Tool: ClassRead}
	case IsEditTool(toolName):
		return Rule{Tool: ClassEdit}
	}
	return Rule{Tool: strings.TrimPrefix(toolName, ToolPrefix)}
}
