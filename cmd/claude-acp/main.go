// Package main provides the entry point for the claude-acp bridge.
package main

import (
	"fmt"
	"os"

	"github.com/zed-industries/claude-code-acp-sub000/cmd/claude-acp/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
