// Package command builds the slash command catalogue advertised to clients.
//
// The catalogue merges the commands the runtime reports at startup with
// markdown command files from the user's and the project's commands
// directories. A markdown command may start with YAML frontmatter:
//
//	---
//	description: Run tests
//	argument-hint: <package>
//	---
//	Run the tests for $1 and summarize failures.
//
// Commands that only make sense in the runtime's own terminal UI are left
// out of the catalogue.
package command
