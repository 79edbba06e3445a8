package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/jsonc"

	"github.com/zed-industries/claude-code-acp-sub000/pkg/types"
)

// SourceKind names a settings layer.
type SourceKind string

const (
	SourceUser    SourceKind = "user"
	SourceProject SourceKind = "project"
	SourceLocal   SourceKind = "local"
	SourceManaged SourceKind = "managed"
)

// Source is one settings file.
type Source struct {
	Kind SourceKind
	Path string
}

// Sources lists the settings files for cwd, lowest precedence first.
// An empty managed path selects ManagedSettingsPath.
func Sources(cwd, managed string) []Source {
	if managed == "" {
		managed = ManagedSettingsPath()
	}
	return []Source{
		{SourceUser, UserSettingsPath()},
		{SourceProject, ProjectSettingsPath(cwd)},
		{SourceLocal, LocalSettingsPath(cwd)},
		{SourceManaged, managed},
	}
}

// LoadFile reads one settings file. A missing file yields empty settings
// and no error.
func LoadFile(path string) (*types.Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &types.Settings{}, nil
	}
	if err != nil {
		return nil, err
	}

	var s types.Settings
	if err := json.Unmarshal(jsonc.ToJSON(data), &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &s, nil
}

// Load reads and merges every source. Unreadable or malformed sources are
// logged and treated as empty.
func Load(sources []Source) *types.Settings {
	merged := &types.Settings{}
	for _, src := range sources {
		s, err := LoadFile(src.Path)
		if err != nil {
			log.Warn().Err(err).Str("source", string(src.Kind)).Str("path", src.Path).Msg("ignoring settings file")
			continue
		}
		Merge(merged, s)
	}
	return merged
}

// Merge folds source into target. Lists are appended, scalars overwrite.
func Merge(target, source *types.Settings) {
	if source.Model != "" {
		target.Model = source.Model
	}

	if source.Env != nil {
		if target.Env == nil {
			target.Env = make(map[string]string)
		}
		for k, v := range source.Env {
			target.Env[k] = v
		}
	}

	if source.Permissions != nil {
		if target.Permissions == nil {
			target.Permissions = &types.PermissionSettings{}
		}
		p, sp := target.Permissions, source.Permissions
		p.Allow = append(p.Allow, sp.Allow...)
		p.Deny = append(p.Deny, sp.Deny...)
		p.Ask = append(p.Ask, sp.Ask...)
		p.AdditionalDirectories = append(p.AdditionalDirectories, sp.AdditionalDirectories...)
		if sp.DefaultMode != "" {
			p.DefaultMode = sp.DefaultMode
		}
	}
}
