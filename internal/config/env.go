package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Env holds process-level settings read from the environment.
type Env struct {
	// MaxThinkingTokens overrides the runtime's thinking budget when set.
	MaxThinkingTokens *int
	// Executable is the runtime binary.
	Executable string
	// HasAPIKey is true when ANTHROPIC_API_KEY is present.
	HasAPIKey bool
}

// LoadEnv reads the environment.
func LoadEnv() Env {
	env := Env{
		Executable: getEnvOrDefault("CLAUDE_CODE_EXECUTABLE", "claude"),
		HasAPIKey:  os.Getenv("ANTHROPIC_API_KEY") != "",
	}
	if raw := strings.TrimSpace(os.Getenv("MAX_THINKING_TOKENS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			log.Warn().Str("value", raw).Msg("ignoring invalid MAX_THINKING_TOKENS")
		} else {
			env.MaxThinkingTokens = &n
		}
	}
	return env
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
