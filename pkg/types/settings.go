// Package types holds the wire shapes shared across the bridge: settings
// files, transcript lines and session listings.
package types

// Settings is the content of one settings file, or the merge of several.
type Settings struct {
	Permissions *PermissionSettings `json:"permissions,omitempty"`
	Env         map[string]string   `json:"env,omitempty"`
	Model       string              `json:"model,omitempty"`
}

// PermissionSettings is the `permissions` object of a settings file.
type PermissionSettings struct {
	Allow                 []string `json:"allow,omitempty"`
	Deny                  []string `json:"deny,omitempty"`
	Ask                   []string `json:"ask,omitempty"`
	AdditionalDirectories []string `json:"additionalDirectories,omitempty"`
	DefaultMode           string   `json:"defaultMode,omitempty"`
}

// DefaultMode returns the configured default permission mode, or "".
func (s *Settings) DefaultMode() string {
	if s == nil || s.Permissions == nil {
		return ""
	}
	return s.Permissions.DefaultMode
}
