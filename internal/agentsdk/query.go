package agentsdk

import (
	"context"
	"errors"
)

var (
	// ErrAuthRequired is returned when the runtime needs the user to log in.
	ErrAuthRequired = errors.New("authentication required")
	// ErrClosed is returned for operations on a finished query.
	ErrClosed = errors.New("query closed")
)

// SlashCommand is a command the runtime accepts as a prompt prefix.
type SlashCommand struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ArgumentHint string `json:"argumentHint,omitempty"`
}

// ModelInfo is one model the runtime can switch to.
type ModelInfo struct {
	Value       string `json:"value"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
}

// InitInfo is the runtime's answer to the initialize handshake.
type InitInfo struct {
	Commands []SlashCommand `json:"commands"`
	Models   []ModelInfo    `json:"models"`
}

// Query is a live runtime conversation.
type Query interface {
	// Output delivers runtime messages. It is closed when the runtime exits;
	// Err then reports why.
	Output() <-chan Message
	// Send pushes a user turn.
	Send(ctx context.Context, msg UserMessage) error
	// Interrupt stops in-flight generation.
	Interrupt(ctx context.Context) error
	SetPermissionMode(ctx context.Context, mode string) error
	SetModel(ctx context.Context, model string) error
	// Init returns the handshake result.
	Init() InitInfo
	Err() error
	Close() error
}

// Runtime starts conversations.
type Runtime interface {
	Start(ctx context.Context, opts Options) (Query, error)
}
