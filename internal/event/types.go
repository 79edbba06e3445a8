package event

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
	// Origin is "new", "resume", "fork" or "load".
	Origin string `json:"origin"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	SessionID string `json:"sessionId"`
	Deleted   bool   `json:"deleted"`
}

// SettingsReloadedData is the data for settings.reloaded events.
type SettingsReloadedData struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
}

// TerminalExitedData is the data for terminal.exited events.
type TerminalExitedData struct {
	SessionID  string `json:"sessionId"`
	TerminalID string `json:"terminalId"`
	State      string `json:"state"`
	ExitCode   *int   `json:"exitCode,omitempty"`
}

// PermissionRequiredData is the data for permission.required events.
type PermissionRequiredData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	ToolName  string `json:"toolName"`
	ToolUseID string `json:"toolUseId,omitempty"`
}

// PermissionResolvedData is the data for permission.resolved events.
type PermissionResolvedData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	ToolName  string `json:"toolName"`
	Decision  string `json:"decision"`
	// Rule is set when the decision came from a settings rule or grant.
	Rule string `json:"rule,omitempty"`
}
