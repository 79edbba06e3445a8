package session

import (
	"errors"
	"fmt"

	acp "github.com/coder/acp-go-sdk"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/transcript"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoClient is returned when a request needs the client connection
	// before SetClient was called.
	ErrNoClient = errors.New("client connection not set")
)

// protocolError converts err into the error returned to the client.
func protocolError(err error) error {
	if err == nil {
		return nil
	}
	var reqErr *acp.RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr
	case errors.Is(err, agentsdk.ErrAuthRequired):
		return acp.NewAuthRequired(map[string]any{"details": err.Error()})
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, transcript.ErrNotFound):
		return acp.NewInvalidParams(map[string]any{"details": err.Error()})
	}
	return acp.NewInternalError(map[string]any{"details": err.Error()})
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}
