package session

import (
	"context"
	"fmt"

	"github.com/agnivade/levenshtein"
	acp "github.com/coder/acp-go-sdk"

	"github.com/zed-industries/claude-code-acp-sub000/internal/permission"
)

// SetSessionMode switches the permission mode and notifies the client.
func (r *Registry) SetSessionMode(ctx context.Context, params acp.SetSessionModeRequest) (acp.SetSessionModeResponse, error) {
	s, err := r.get(string(params.SessionId))
	if err != nil {
		return acp.SetSessionModeResponse{}, protocolError(err)
	}
	mode, err := permission.ParseMode(string(params.ModeId))
	if err != nil {
		return acp.SetSessionModeResponse{}, acp.NewInvalidParams(map[string]any{"details": err.Error()})
	}
	if err := s.setMode(ctx, mode); err != nil {
		return acp.SetSessionModeResponse{}, protocolError(err)
	}
	return acp.SetSessionModeResponse{}, nil
}

// SetSessionModel switches the model among those advertised at creation.
func (r *Registry) SetSessionModel(ctx context.Context, params acp.SetSessionModelRequest) (acp.SetSessionModelResponse, error) {
	s, err := r.get(string(params.SessionId))
	if err != nil {
		return acp.SetSessionModelResponse{}, protocolError(err)
	}
	model := string(params.ModelId)
	if !s.hasModel(model) {
		msg := fmt.Sprintf("unknown model %q", model)
		if hint := s.closestModel(model); hint != "" {
			msg += fmt.Sprintf(", did you mean %q?", hint)
		}
		return acp.SetSessionModelResponse{}, acp.NewInvalidParams(map[string]any{"details": msg})
	}
	if err := s.query.SetModel(ctx, model); err != nil {
		return acp.SetSessionModelResponse{}, protocolError(err)
	}

	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
	s.log.Info().Str("model", model).Msg("model changed")
	return acp.SetSessionModelResponse{}, nil
}

// setMode forwards mode to the runtime, records it and tells the client.
func (s *Session) setMode(ctx context.Context, mode permission.Mode) error {
	if err := s.query.SetPermissionMode(ctx, string(mode)); err != nil {
		return fmt.Errorf("failed to set permission mode: %w", err)
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	s.log.Info().Str("mode", string(mode)).Msg("mode changed")
	return s.sendMode(ctx, string(mode))
}

func (s *Session) hasModel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.models {
		if m.Value == id {
			return true
		}
	}
	return false
}

// closestModel suggests the advertised model nearest to id by edit
// distance.
func (s *Session) closestModel(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	best, bestDist := "", -1
	for _, m := range s.models {
		d := levenshtein.ComputeDistance(id, m.Value)
		if bestDist < 0 || d < bestDist {
			best, bestDist = m.Value, d
		}
	}
	return best
}

func (s *Session) modeState() *acp.SessionModeState {
	modes := make([]acp.SessionMode, 0, len(permission.Modes))
	for _, m := range permission.Modes {
		modes = append(modes, acp.SessionMode{
			Id:          acp.SessionModeId(m.ID),
			Name:        m.Name,
			Description: acp.Ptr(m.Description),
		})
	}
	return &acp.SessionModeState{
		CurrentModeId:  acp.SessionModeId(s.Mode()),
		AvailableModes: modes,
	}
}

func (s *Session) modelState() *acp.SessionModelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.models) == 0 {
		return nil
	}
	models := make([]acp.ModelInfo, 0, len(s.models))
	for _, m := range s.models {
		info := acp.ModelInfo{ModelId: acp.ModelId(m.Value), Name: m.DisplayName}
		if info.Name == "" {
			info.Name = m.Value
		}
		if m.Description != "" {
			info.Description = acp.Ptr(m.Description)
		}
		models = append(models, info)
	}
	return &acp.SessionModelState{
		CurrentModelId:  acp.ModelId(s.model),
		AvailableModels: models,
	}
}
