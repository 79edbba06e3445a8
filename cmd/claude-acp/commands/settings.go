package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zed-industries/claude-code-acp-sub000/internal/config"
	"github.com/zed-industries/claude-code-acp-sub000/internal/permission"
)

var (
	settingsCwd   string
	settingsTool  string
	settingsInput string
	settingsMode  string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show merged settings and test permission rules",
	Long: `Show the settings a session in a directory would see, merged from the
user, project, local and managed files.

With --tool, also report what the permission rules decide for one call.

Examples:
  claude-acp settings
  claude-acp settings --tool Bash --input '{"command":"npm test"}'
  claude-acp settings --tool Edit --input '{"file_path":"src/a.go"}' --mode acceptEdits`,
	RunE: runSettings,
}

func init() {
	settingsCmd.Flags().StringVar(&settingsCwd, "cwd", "", "Working directory (default: current)")
	settingsCmd.Flags().StringVar(&settingsTool, "tool", "", "Tool name to check, e.g. Bash or mcp__acp__Read")
	settingsCmd.Flags().StringVar(&settingsInput, "input", "{}", "Tool input as JSON")
	settingsCmd.Flags().StringVar(&settingsMode, "mode", "", "Permission mode to apply (default: the configured one)")
}

func runSettings(cmd *cobra.Command, args []string) error {
	cwd, err := workDir(settingsCwd)
	if err != nil {
		return err
	}
	store, err := config.NewStore(cwd)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	settings := store.Settings()
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))

	if settingsTool == "" {
		return nil
	}

	tool := settingsTool
	if !strings.Contains(tool, "__") {
		tool = permission.ToolPrefix + tool
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(settingsInput), &input); err != nil {
		return fmt.Errorf("invalid --input: %w", err)
	}

	modeName := settingsMode
	if modeName == "" {
		modeName = settings.DefaultMode()
	}
	mode := permission.ModeDefault
	if modeName != "" {
		if mode, err = permission.ParseMode(modeName); err != nil {
			return err
		}
	}

	res := store.Checker().Check(tool, input)
	rule := "(none)"
	if res.Rule != nil {
		rule = res.Rule.String()
	}
	fmt.Fprintf(out, "\ntool:     %s\nrule:     %s\nsettings: %s\nmode:     %s -> %s\n",
		tool, rule, res.Decision, mode, mode.Apply(tool, res))
	return nil
}
