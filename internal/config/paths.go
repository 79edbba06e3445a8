package config

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
)

// ConfigDir returns the runtime configuration root.
func ConfigDir() string {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".claude")
}

// ProjectsDir holds one transcript directory per working directory.
func ProjectsDir() string {
	return filepath.Join(ConfigDir(), "projects")
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// EncodeProjectPath turns a working directory into its transcript
// directory name.
func EncodeProjectPath(cwd string) string {
	return unsafePathChars.ReplaceAllString(cwd, "-")
}

// ProjectDir returns the transcript directory for a working directory.
func ProjectDir(cwd string) string {
	return filepath.Join(ProjectsDir(), EncodeProjectPath(cwd))
}

// CredentialsPath is where the runtime stores its login.
func CredentialsPath() string {
	return filepath.Join(ConfigDir(), ".credentials.json")
}

// UserSettingsPath returns the user-level settings file.
func UserSettingsPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

// ProjectSettingsPath returns the shared project settings file.
func ProjectSettingsPath(cwd string) string {
	return filepath.Join(cwd, ".claude", "settings.json")
}

// LocalSettingsPath returns the uncommitted project settings file.
func LocalSettingsPath(cwd string) string {
	return filepath.Join(cwd, ".claude", "settings.local.json")
}

// ManagedSettingsPath returns the enterprise-managed settings file.
func ManagedSettingsPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "/Library/Application Support/ClaudeCode/managed-settings.json"
	case "windows":
		return `C:\ProgramData\ClaudeCode\managed-settings.json`
	default:
		return "/etc/claude-code/managed-settings.json"
	}
}

// CommandsDir returns the project's custom slash command directory.
func CommandsDir(cwd string) string {
	return filepath.Join(cwd, ".claude", "commands")
}

// UserCommandsDir returns the user's custom slash command directory.
func UserCommandsDir() string {
	return filepath.Join(ConfigDir(), "commands")
}
