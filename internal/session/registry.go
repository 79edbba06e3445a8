package session

import (
	"context"
	"os"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/rs/zerolog"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/config"
	"github.com/zed-industries/claude-code-acp-sub000/internal/event"
	"github.com/zed-industries/claude-code-acp-sub000/internal/logging"
	"github.com/zed-industries/claude-code-acp-sub000/internal/terminal"
	"github.com/zed-industries/claude-code-acp-sub000/internal/transcript"
	"github.com/zed-industries/claude-code-acp-sub000/pkg/mcpserver/acptools"
)

// AuthMethodID is the single login method advertised to clients.
const AuthMethodID = "claude-login"

// Client is the subset of the client connection the registry calls.
// *acp.AgentSideConnection satisfies it.
type Client interface {
	SessionUpdate(ctx context.Context, params acp.SessionNotification) error
	RequestPermission(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error)
	ReadTextFile(ctx context.Context, params acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error)
	WriteTextFile(ctx context.Context, params acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error)
	terminal.Client
}

// Config holds the registry's collaborators.
type Config struct {
	// Runtime starts agent conversations. Required.
	Runtime agentsdk.Runtime
	// Transcripts reads persisted sessions. Defaults to the config dir.
	Transcripts *transcript.Store
	// Tools serves the bridge's file and shell tools. Nil leaves the
	// runtime on its native tools.
	Tools *acptools.Server
	// Env holds process-level scalars.
	Env config.Env
	// RuntimeEnv is added to the runtime's environment, e.g. from an env
	// file.
	RuntimeEnv map[string]string
	// Bus receives lifecycle events. Defaults to the global bus.
	Bus *event.Bus
	// SettingsOptions are passed to every session's settings store.
	SettingsOptions []config.Option
	// TerminalTimeout overrides the background terminal timeout.
	TerminalTimeout time.Duration
	// UserCommandsDir overrides where user slash commands are read from.
	UserCommandsDir string
}

// Registry owns every session of one client connection.
type Registry struct {
	cfg Config
	log zerolog.Logger

	mu       sync.RWMutex
	client   Client
	caps     acp.ClientCapabilities
	sessions map[string]*Session
}

var (
	_ acp.Agent             = (*Registry)(nil)
	_ acp.AgentLoader       = (*Registry)(nil)
	_ acp.AgentExperimental = (*Registry)(nil)
)

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Transcripts == nil {
		cfg.Transcripts = transcript.New(config.ProjectsDir())
	}
	if cfg.UserCommandsDir == "" {
		cfg.UserCommandsDir = config.UserCommandsDir()
	}
	return &Registry{
		cfg:      cfg,
		log:      logging.Component("session"),
		sessions: make(map[string]*Session),
	}
}

// SetClient binds the client connection. It must be called before the
// first request is served.
func (r *Registry) SetClient(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.client = c
}

func (r *Registry) conn() (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, ErrNoClient
	}
	return r.client, nil
}

func (r *Registry) capabilities() acp.ClientCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps
}

func (r *Registry) publish(ev event.Event) {
	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(ev)
		return
	}
	event.Publish(ev)
}

// publishSync delivers ev before returning, for callers that may exit
// right after.
func (r *Registry) publishSync(ev event.Event) {
	if r.cfg.Bus != nil {
		r.cfg.Bus.PublishSync(ev)
		return
	}
	event.PublishSync(ev)
}

// Initialize records the client's capabilities and advertises the agent's.
func (r *Registry) Initialize(ctx context.Context, params acp.InitializeRequest) (acp.InitializeResponse, error) {
	r.mu.Lock()
	r.caps = params.ClientCapabilities
	r.mu.Unlock()

	r.log.Info().
		Bool("fsRead", params.ClientCapabilities.Fs.ReadTextFile).
		Bool("fsWrite", params.ClientCapabilities.Fs.WriteTextFile).
		Bool("terminal", params.ClientCapabilities.Terminal).
		Msg("client initialized")

	return acp.InitializeResponse{
		ProtocolVersion: acp.ProtocolVersionNumber,
		AgentCapabilities: acp.AgentCapabilities{
			LoadSession: true,
			PromptCapabilities: acp.PromptCapabilities{
				Image:           true,
				EmbeddedContext: true,
			},
			McpCapabilities: acp.McpCapabilities{
				Http: true,
				Sse:  true,
			},
		},
		AuthMethods: []acp.AuthMethod{{
			Id:          AuthMethodID,
			Name:        "Log in with Claude Code",
			Description: acp.Ptr("Run `claude /login` in the terminal"),
		}},
	}, nil
}

// Authenticate is handled outside the bridge: the user logs in with the
// runtime's own CLI.
func (r *Registry) Authenticate(ctx context.Context, params acp.AuthenticateRequest) (acp.AuthenticateResponse, error) {
	return acp.AuthenticateResponse{}, acp.NewMethodNotFound("authenticate")
}

func (r *Registry) get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return s, nil
}

// Session returns a live session by id.
func (r *Registry) Session(id string) (*Session, error) {
	return r.get(id)
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	old := r.sessions[s.id]
	r.sessions[s.id] = s
	r.mu.Unlock()
	if old != nil {
		old.close(context.Background())
	}
}

// Close ends every session.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close(ctx)
	}
}

// hasCredentials reports whether the runtime can log in without user
// interaction.
func (r *Registry) hasCredentials() bool {
	if r.cfg.Env.HasAPIKey {
		return true
	}
	_, err := os.Stat(config.CredentialsPath())
	return err == nil
}
