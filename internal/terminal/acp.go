package terminal

import (
	"context"
	"sort"

	acp "github.com/coder/acp-go-sdk"
)

// Client is the subset of the control-protocol connection used to run
// commands in the editor's terminals.
type Client interface {
	CreateTerminal(ctx context.Context, params acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error)
	TerminalOutput(ctx context.Context, params acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error)
	WaitForTerminalExit(ctx context.Context, params acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error)
	KillTerminalCommand(ctx context.Context, params acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error)
	ReleaseTerminal(ctx context.Context, params acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error)
}

// ClientSpawner launches commands in editor terminals.
type ClientSpawner struct {
	client    Client
	sessionID acp.SessionId
}

// NewClientSpawner creates a spawner bound to one session.
func NewClientSpawner(client Client, sessionID string) *ClientSpawner {
	return &ClientSpawner{client: client, sessionID: acp.SessionId(sessionID)}
}

func (s *ClientSpawner) Spawn(ctx context.Context, cmd Command) (Handle, error) {
	req := acp.CreateTerminalRequest{
		SessionId: s.sessionID,
		Command:   cmd.Command,
		Args:      cmd.Args,
	}
	if cmd.Cwd != "" {
		req.Cwd = acp.Ptr(cmd.Cwd)
	}
	if cmd.OutputByteLimit > 0 {
		req.OutputByteLimit = acp.Ptr(cmd.OutputByteLimit)
	}
	keys := make([]string, 0, len(cmd.Env))
	for k := range cmd.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Env = append(req.Env, acp.EnvVariable{Name: k, Value: cmd.Env[k]})
	}

	resp, err := s.client.CreateTerminal(ctx, req)
	if err != nil {
		return nil, err
	}
	return &clientHandle{client: s.client, sessionID: s.sessionID, id: resp.TerminalId}, nil
}

type clientHandle struct {
	client    Client
	sessionID acp.SessionId
	id        string
}

func (h *clientHandle) ID() string { return h.id }

func (h *clientHandle) CurrentOutput(ctx context.Context) (Output, error) {
	resp, err := h.client.TerminalOutput(ctx, acp.TerminalOutputRequest{SessionId: h.sessionID, TerminalId: h.id})
	if err != nil {
		return Output{}, err
	}
	out := Output{Output: resp.Output, Truncated: resp.Truncated}
	if resp.ExitStatus != nil {
		out.ExitStatus = &ExitStatus{ExitCode: resp.ExitStatus.ExitCode, Signal: resp.ExitStatus.Signal}
	}
	return out, nil
}

func (h *clientHandle) WaitForExit(ctx context.Context) (ExitStatus, error) {
	resp, err := h.client.WaitForTerminalExit(ctx, acp.WaitForTerminalExitRequest{SessionId: h.sessionID, TerminalId: h.id})
	if err != nil {
		return ExitStatus{}, err
	}
	return ExitStatus{ExitCode: resp.ExitCode, Signal: resp.Signal}, nil
}

func (h *clientHandle) Kill(ctx context.Context) error {
	_, err := h.client.KillTerminalCommand(ctx, acp.KillTerminalCommandRequest{SessionId: h.sessionID, TerminalId: h.id})
	return err
}

func (h *clientHandle) Release(ctx context.Context) error {
	_, err := h.client.ReleaseTerminal(ctx, acp.ReleaseTerminalRequest{SessionId: h.sessionID, TerminalId: h.id})
	return err
}
