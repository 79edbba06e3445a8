package session

import (
	"context"
	"sync"
	"sync/atomic"

	acp "github.com/coder/acp-go-sdk"
	"github.com/rs/zerolog"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/command"
	"github.com/zed-industries/claude-code-acp-sub000/internal/config"
	"github.com/zed-industries/claude-code-acp-sub000/internal/permission"
	"github.com/zed-industries/claude-code-acp-sub000/internal/terminal"
	"github.com/zed-industries/claude-code-acp-sub000/internal/tool"
	"github.com/zed-industries/claude-code-acp-sub000/internal/translate"
)

// Session is one logical conversation.
type Session struct {
	id  string
	cwd string
	reg *Registry
	log zerolog.Logger

	query      agentsdk.Query
	settings   *config.Store
	translator *translate.Translator
	grants     *permission.Grants
	terms      *terminal.Manager
	fs         tool.FS
	clientTTY  bool
	pending    *pendingToolUses
	partial    bool

	// promptMu admits one turn at a time.
	promptMu sync.Mutex
	// stale counts result messages of cancelled turns not yet drained.
	stale int

	cancelled atomic.Bool

	mu        sync.Mutex
	turn      chan struct{}
	turnOnce  *sync.Once
	mode      permission.Mode
	model     string
	models    []agentsdk.ModelInfo
	catalog   *command.Catalog
	closeOnce sync.Once
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Cwd returns the working directory.
func (s *Session) Cwd() string { return s.cwd }

// FS returns the file access used by the tool server.
func (s *Session) FS() tool.FS { return s.fs }

// Terminals returns the session's terminal manager.
func (s *Session) Terminals() *terminal.Manager { return s.terms }

// ClientTerminals reports whether commands run in editor terminals.
func (s *Session) ClientTerminals() bool { return s.clientTTY }

// Mode returns the current permission mode.
func (s *Session) Mode() permission.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Model returns the current model id.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Update sends one session update to the client.
func (s *Session) Update(ctx context.Context, u acp.SessionUpdate) error {
	c, err := s.reg.conn()
	if err != nil {
		return err
	}
	return c.SessionUpdate(ctx, acp.SessionNotification{
		SessionId: acp.SessionId(s.id),
		Update:    u,
	})
}

func (s *Session) send(ctx context.Context, updates []acp.SessionUpdate) error {
	for _, u := range updates {
		if err := s.Update(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) close(ctx context.Context) {
	s.closeOnce.Do(func() {
		if s.reg.cfg.Tools != nil {
			s.reg.cfg.Tools.Unregister(s.id)
		}
		s.terms.Close(ctx)
		if s.query != nil {
			if err := s.query.Close(); err != nil {
				s.log.Debug().Err(err).Msg("runtime close")
			}
		}
		if err := s.settings.Close(); err != nil {
			s.log.Debug().Err(err).Msg("settings close")
		}
	})
}

// clientFS reads and writes through the editor so unsaved buffers are seen.
type clientFS struct {
	client    Client
	sessionID acp.SessionId
}

func (f clientFS) ReadTextFile(ctx context.Context, path string) (string, error) {
	resp, err := f.client.ReadTextFile(ctx, acp.ReadTextFileRequest{
		SessionId: f.sessionID,
		Path:      path,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (f clientFS) WriteTextFile(ctx context.Context, path, content string) error {
	_, err := f.client.WriteTextFile(ctx, acp.WriteTextFileRequest{
		SessionId: f.sessionID,
		Path:      path,
		Content:   content,
	})
	return err
}
