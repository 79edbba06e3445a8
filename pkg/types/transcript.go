package types

import (
	"encoding/json"
	"time"
)

// Transcript entry types.
const (
	EntryUser      = "user"
	EntryAssistant = "assistant"
	EntrySummary   = "summary"
	EntrySystem    = "system"
)

// TranscriptEntry is one line of a persisted session transcript.
// Unknown fields are ignored.
type TranscriptEntry struct {
	Type        string             `json:"type"`
	SessionID   string             `json:"sessionId,omitempty"`
	UUID        string             `json:"uuid,omitempty"`
	IsSidechain bool               `json:"isSidechain,omitempty"`
	IsMeta      bool               `json:"isMeta,omitempty"`
	Cwd         string             `json:"cwd,omitempty"`
	Summary     string             `json:"summary,omitempty"`
	Timestamp   string             `json:"timestamp,omitempty"`
	Message     *TranscriptMessage `json:"message,omitempty"`
}

// TranscriptMessage is the `message` object of a transcript entry. Content
// is either a string or an array of content blocks.
type TranscriptMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// SessionInfo describes a persisted session for listings.
type SessionInfo struct {
	SessionID string    `json:"sessionId"`
	Cwd       string    `json:"cwd"`
	Title     string    `json:"title,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionPage is one page of a session listing.
type SessionPage struct {
	Sessions   []SessionInfo `json:"sessions"`
	NextCursor string        `json:"nextCursor,omitempty"`
}
