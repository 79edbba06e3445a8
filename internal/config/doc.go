// Package config locates the runtime's configuration directory and loads
// the layered settings files that drive permission decisions.
//
// # Sources
//
// Settings are read from four files, lowest precedence first:
//
//  1. user:    <configDir>/settings.json
//  2. project: <cwd>/.claude/settings.json
//  3. local:   <cwd>/.claude/settings.local.json
//  4. managed: the platform enterprise path (see ManagedSettingsPath)
//
// The config dir is CLAUDE_CONFIG_DIR, or ~/.claude. Files may contain
// comments and trailing commas; they are normalized with tidwall/jsonc.
//
// # Merge
//
// Permission lists are concatenated in source order so every rule stays
// matchable. Scalars (model, default mode, each env key) are last-writer-wins.
// A missing or malformed file counts as empty.
//
// # Store
//
// A Store owns the merged view for one working directory. It watches the
// directories holding each source and reloads after a short debounce,
// swapping the merged snapshot atomically so readers never see a partial
// merge.
//
//	store, err := config.NewStore(cwd, config.WithOnChange(func(s *types.Settings) {
//		log.Info().Msg("settings reloaded")
//	}))
//	defer store.Close()
//	res := store.Checker().Check(toolName, input)
package config
