// Package commands provides the CLI commands for claude-acp.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zed-industries/claude-code-acp-sub000/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel  string
	logDir    string
	logPretty bool
	envFile   string
)

var rootCmd = &cobra.Command{
	Use:   "claude-acp",
	Short: "Agent Client Protocol bridge for the Claude CLI",
	Long: `claude-acp lets ACP editors drive the Claude CLI.

With no subcommand it serves the protocol on stdin/stdout. Logs go to
stderr, and optionally to a file, so stdout only carries protocol frames.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runServe,
}

func init() {
	defaultLevel := os.Getenv("CLAUDE_ACP_LOG_LEVEL")
	if defaultLevel == "" {
		defaultLevel = "INFO"
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaultLevel, "Log level (DEBUG|INFO|WARN|ERROR), defaults to $CLAUDE_ACP_LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Also write JSON logs to a file in this directory")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "Human-readable logs on stderr")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load runtime environment variables from a dotenv file")

	rootCmd.SetVersionTemplate(fmt.Sprintf("claude-acp %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(settingsCmd)
}

// Execute runs the root command.
func Execute() error {
	defer logging.Close()
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)
	cfg.Pretty = logPretty
	if logDir != "" {
		cfg.LogToFile = true
		cfg.LogDir = logDir
	}
	logging.Init(cfg)
	return nil
}

// runtimeEnv reads --env-file. Values are passed to the runtime only; the
// bridge's own environment is left alone.
func runtimeEnv() (map[string]string, error) {
	if envFile == "" {
		return nil, nil
	}
	env, err := godotenv.Read(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return env, nil
}

// workDir returns dir, or the current directory when dir is empty.
func workDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
