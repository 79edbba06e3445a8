package session

import (
	"context"
	"encoding/json"

	acp "github.com/coder/acp-go-sdk"
)

// Update kinds built from their wire form.
const (
	updateCurrentMode       = "current_mode_update"
	updateAvailableCommands = "available_commands_update"
)

func buildUpdate(fields map[string]any) (acp.SessionUpdate, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return acp.SessionUpdate{}, err
	}
	var u acp.SessionUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return acp.SessionUpdate{}, err
	}
	return u, nil
}

// currentModeUpdate tells the client the mode changed.
func currentModeUpdate(mode string) (acp.SessionUpdate, error) {
	return buildUpdate(map[string]any{
		"sessionUpdate": updateCurrentMode,
		"currentModeId": mode,
	})
}

// availableCommandsUpdate lists the slash commands the client may offer.
func availableCommandsUpdate(cmds []acp.AvailableCommand) (acp.SessionUpdate, error) {
	if cmds == nil {
		cmds = []acp.AvailableCommand{}
	}
	return buildUpdate(map[string]any{
		"sessionUpdate":     updateAvailableCommands,
		"availableCommands": cmds,
	})
}

func (s *Session) sendAvailableCommands(ctx context.Context) error {
	s.mu.Lock()
	catalog := s.catalog
	s.mu.Unlock()
	if catalog == nil {
		return nil
	}
	u, err := availableCommandsUpdate(catalog.Available())
	if err != nil {
		return err
	}
	return s.Update(ctx, u)
}

func (s *Session) sendMode(ctx context.Context, mode string) error {
	u, err := currentModeUpdate(mode)
	if err != nil {
		return err
	}
	return s.Update(ctx, u)
}
