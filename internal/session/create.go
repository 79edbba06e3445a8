package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	acp "github.com/coder/acp-go-sdk"
	"github.com/google/uuid"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/command"
	"github.com/zed-industries/claude-code-acp-sub000/internal/config"
	"github.com/zed-industries/claude-code-acp-sub000/internal/event"
	"github.com/zed-industries/claude-code-acp-sub000/internal/permission"
	"github.com/zed-industries/claude-code-acp-sub000/internal/terminal"
	"github.com/zed-industries/claude-code-acp-sub000/internal/tool"
	"github.com/zed-industries/claude-code-acp-sub000/internal/translate"
	"github.com/zed-industries/claude-code-acp-sub000/pkg/mcpserver/acptools"
	"github.com/zed-industries/claude-code-acp-sub000/pkg/types"
)

// Session origins reported in session.created events.
const (
	OriginNew    = "new"
	OriginResume = "resume"
	OriginFork   = "fork"
	OriginLoad   = "load"
)

// nativeTools are replaced by the tool server's proxies.
var nativeTools = []string{
	translate.ToolRead,
	translate.ToolWrite,
	translate.ToolEdit,
	translate.ToolMultiEdit,
	translate.ToolBash,
	translate.ToolBashOutput,
	translate.ToolKillShell,
}

type createParams struct {
	id         string
	cwd        string
	mcpServers []acp.McpServer
	opts       agentsdk.Options
	origin     string
}

// NewSession starts a conversation. `_meta.claudeCode.options` may carry
// runtime options; `resume` reuses an existing id and `forkSession`
// branches it under a fresh one.
func (r *Registry) NewSession(ctx context.Context, params acp.NewSessionRequest) (acp.NewSessionResponse, error) {
	opts, err := metaOptions(params.Meta)
	if err != nil {
		return acp.NewSessionResponse{}, acp.NewInvalidParams(map[string]any{"details": err.Error()})
	}

	p := createParams{
		id:         uuid.NewString(),
		cwd:        params.Cwd,
		mcpServers: params.McpServers,
		opts:       opts,
		origin:     OriginNew,
	}
	switch {
	case opts.Resume != "" && opts.ForkSession:
		p.origin = OriginFork
	case opts.Resume != "":
		p.id = opts.Resume
		p.origin = OriginResume
	}

	s, err := r.create(ctx, p)
	if err != nil {
		return acp.NewSessionResponse{}, protocolError(err)
	}

	go func() {
		if err := s.sendAvailableCommands(context.Background()); err != nil {
			s.log.Warn().Err(err).Msg("failed to send available commands")
		}
	}()

	return acp.NewSessionResponse{
		SessionId: acp.SessionId(s.id),
		Modes:     s.modeState(),
		Models:    s.modelState(),
	}, nil
}

// LoadSession resumes a persisted session and replays its transcript.
func (r *Registry) LoadSession(ctx context.Context, params acp.LoadSessionRequest) (acp.LoadSessionResponse, error) {
	id := string(params.SessionId)
	path, err := r.cfg.Transcripts.Find(ctx, id, params.Cwd)
	if err != nil {
		return acp.LoadSessionResponse{}, protocolError(err)
	}

	s, err := r.create(ctx, createParams{
		id:         id,
		cwd:        params.Cwd,
		mcpServers: params.McpServers,
		opts:       agentsdk.Options{Resume: id},
		origin:     OriginLoad,
	})
	if err != nil {
		return acp.LoadSessionResponse{}, protocolError(err)
	}

	if err := s.replay(ctx, path); err != nil {
		return acp.LoadSessionResponse{}, protocolError(err)
	}
	if err := s.sendAvailableCommands(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to send available commands")
	}

	return acp.LoadSessionResponse{
		Modes:  s.modeState(),
		Models: s.modelState(),
	}, nil
}

func (r *Registry) create(ctx context.Context, p createParams) (*Session, error) {
	if p.cwd == "" {
		return nil, acp.NewInvalidParams(map[string]any{"details": "cwd is required"})
	}
	client, err := r.conn()
	if err != nil {
		return nil, err
	}
	caps := r.capabilities()

	s := &Session{
		id:      p.id,
		cwd:     p.cwd,
		reg:     r,
		log:     r.log.With().Str("session", p.id).Logger(),
		grants:  permission.NewGrants(p.cwd),
		pending: newPendingToolUses(maxPendingToolUses),
		partial: true,
		mode:    permission.ModeDefault,
	}
	s.translator = translate.New(translate.NewToolUseCache(), p.cwd)

	s.fs = tool.LocalFS{}
	if caps.Fs.ReadTextFile && caps.Fs.WriteTextFile {
		s.fs = clientFS{client: client, sessionID: acp.SessionId(p.id)}
	}

	var spawner terminal.Spawner = terminal.LocalSpawner{}
	if caps.Terminal {
		spawner = terminal.NewClientSpawner(client, p.id)
		s.clientTTY = true
	}
	termOpts := []terminal.Option{terminal.WithOnExit(func(snap terminal.Snapshot) {
		data := event.TerminalExitedData{SessionID: p.id, TerminalID: snap.ID, State: string(snap.State)}
		if snap.ExitStatus != nil {
			data.ExitCode = snap.ExitStatus.ExitCode
		}
		r.publish(event.Event{Type: event.TerminalExited, Data: data})
	})}
	if r.cfg.TerminalTimeout > 0 {
		termOpts = append(termOpts, terminal.WithDefaultTimeout(r.cfg.TerminalTimeout))
	}
	s.terms = terminal.NewManager(spawner, termOpts...)

	storeOpts := append([]config.Option{
		config.WithOnChange(func(*types.Settings) {
			r.publish(event.Event{Type: event.SettingsReloaded, Data: event.SettingsReloadedData{SessionID: p.id, Cwd: p.cwd}})
		}),
	}, r.cfg.SettingsOptions...)
	store, err := config.NewStore(p.cwd, storeOpts...)
	if err != nil {
		return nil, err
	}
	s.settings = store
	if m := store.Settings().DefaultMode(); m != "" {
		if mode, err := permission.ParseMode(m); err == nil {
			s.mode = mode
		} else {
			s.log.Warn().Str("mode", m).Msg("ignoring invalid default mode")
		}
	}

	opts, err := r.runtimeOptions(s, p)
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	q, err := r.cfg.Runtime.Start(ctx, opts)
	if err != nil {
		s.close(ctx)
		if !errors.Is(err, context.Canceled) && !r.hasCredentials() {
			return nil, fmt.Errorf("%w: %v", agentsdk.ErrAuthRequired, err)
		}
		return nil, fmt.Errorf("failed to start agent runtime: %w", err)
	}
	s.query = q

	info := q.Init()
	s.models = info.Models
	want := opts.Model
	if want == "" {
		want = store.Settings().Model
	}
	s.model = resolveModel(info.Models, want)
	if s.model != "" && s.model != opts.Model {
		if err := q.SetModel(ctx, s.model); err != nil {
			s.log.Warn().Err(err).Str("model", s.model).Msg("failed to select initial model")
		}
	}
	s.catalog = command.Build(info.Commands, map[command.Source]string{
		command.SourceUser:    r.cfg.UserCommandsDir,
		command.SourceProject: config.CommandsDir(p.cwd),
	})

	r.add(s)
	r.publish(event.Event{Type: event.SessionCreated, Data: event.SessionCreatedData{SessionID: s.id, Cwd: s.cwd, Origin: p.origin}})
	s.log.Info().Str("cwd", s.cwd).Str("origin", p.origin).Str("model", s.model).Str("mode", string(s.mode)).Msg("session created")
	return s, nil
}

// runtimeOptions merges the client's options with the settings the bridge
// controls. The bridge's fields always win.
func (r *Registry) runtimeOptions(s *Session, p createParams) (agentsdk.Options, error) {
	o := p.opts
	o.Cwd = s.cwd
	o.SessionID = s.id
	o.IncludePartialMessages = s.partial
	o.CanUseTool = s.canUseTool
	o.PermissionMode = string(s.mode)
	o.Hooks = map[agentsdk.HookEvent][]agentsdk.HookMatcher{
		agentsdk.HookPreToolUse:  {{Hooks: []agentsdk.HookCallback{s.preToolUse}}},
		agentsdk.HookPostToolUse: {{Hooks: []agentsdk.HookCallback{s.postToolUse}}},
	}
	o.Stderr = func(line string) {
		s.log.Debug().Str("stderr", line).Msg("runtime")
	}
	if r.cfg.Env.Executable != "" {
		o.Executable = r.cfg.Env.Executable
	}
	if o.MaxThinkingTokens == nil {
		o.MaxThinkingTokens = r.cfg.Env.MaxThinkingTokens
	}

	env := maps.Clone(r.cfg.RuntimeEnv)
	if env == nil {
		env = make(map[string]string)
	}
	maps.Copy(env, p.opts.Env)
	o.Env = env

	servers, err := mcpServers(p.mcpServers)
	if err != nil {
		return agentsdk.Options{}, err
	}
	if o.MCPServers != nil {
		maps.Copy(servers, o.MCPServers)
	}
	if r.cfg.Tools != nil {
		servers[acptools.ServerName] = agentsdk.MCPServer{Type: "http", URL: r.cfg.Tools.Register(s)}
		o.DisallowedTools = appendMissing(o.DisallowedTools, nativeTools...)
	}
	if len(servers) > 0 {
		o.MCPServers = servers
	}
	return o, nil
}

func appendMissing(list []string, items ...string) []string {
	for _, it := range items {
		found := false
		for _, existing := range list {
			if existing == it {
				found = true
				break
			}
		}
		if !found {
			list = append(list, it)
		}
	}
	return list
}

// metaOptions reads `_meta.claudeCode.options`.
func metaOptions(meta any) (agentsdk.Options, error) {
	if meta == nil {
		return agentsdk.Options{}, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return agentsdk.Options{}, err
	}
	var m struct {
		ClaudeCode struct {
			Options agentsdk.Options `json:"options"`
		} `json:"claudeCode"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return agentsdk.Options{}, fmt.Errorf("invalid claudeCode options: %w", err)
	}
	return m.ClaudeCode.Options, nil
}

type nameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type mcpServerWire struct {
	Type    string      `json:"type"`
	Name    string      `json:"name"`
	URL     string      `json:"url"`
	Headers []nameValue `json:"headers"`
	Command string      `json:"command"`
	Args    []string    `json:"args"`
	Env     []nameValue `json:"env"`
}

// mcpServers converts client MCP server configs to the runtime's shape.
func mcpServers(in []acp.McpServer) (map[string]agentsdk.MCPServer, error) {
	out := make(map[string]agentsdk.MCPServer, len(in))
	for _, srv := range in {
		raw, err := json.Marshal(srv)
		if err != nil {
			return nil, fmt.Errorf("invalid MCP server config: %w", err)
		}
		var w mcpServerWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("invalid MCP server config: %w", err)
		}
		if w.Name == "" {
			return nil, errors.New("MCP server config without a name")
		}

		cfg := agentsdk.MCPServer{Type: w.Type}
		switch w.Type {
		case "http", "sse":
			cfg.URL = w.URL
			cfg.Headers = pairs(w.Headers)
		default:
			cfg.Type = "stdio"
			cfg.Command = w.Command
			cfg.Args = w.Args
			cfg.Env = pairs(w.Env)
		}
		out[w.Name] = cfg
	}
	return out, nil
}

func pairs(nv []nameValue) map[string]string {
	if len(nv) == 0 {
		return nil
	}
	m := make(map[string]string, len(nv))
	for _, p := range nv {
		m[p.Name] = p.Value
	}
	return m
}

// resolveModel matches a configured model name or alias against the
// runtime's list, in order of preference: exact value, value substring in
// either direction, display name equal ignoring case, display name
// substring. The first listed model is the fallback. Ties go to the first
// match in runtime order.
func resolveModel(models []agentsdk.ModelInfo, want string) string {
	if len(models) == 0 {
		return want
	}
	if want != "" {
		lw := strings.ToLower(want)
		matchers := []func(agentsdk.ModelInfo) bool{
			func(m agentsdk.ModelInfo) bool { return m.Value == want },
			func(m agentsdk.ModelInfo) bool {
				return m.Value != "" && (strings.Contains(m.Value, want) || strings.Contains(want, m.Value))
			},
			func(m agentsdk.ModelInfo) bool { return strings.EqualFold(m.DisplayName, want) },
			func(m agentsdk.ModelInfo) bool {
				return m.DisplayName != "" && strings.Contains(strings.ToLower(m.DisplayName), lw)
			},
		}
		for _, match := range matchers {
			for _, m := range models {
				if match(m) {
					return m.Value
				}
			}
		}
	}
	return models[0].Value
}

// replay sends the persisted conversation as session updates.
func (s *Session) replay(ctx context.Context, path string) error {
	entries, err := s.reg.cfg.Transcripts.Entries(ctx, path, s.id)
	if err != nil {
		return err
	}
	for _, e := range entries {
		var content agentsdk.Content
		if err := json.Unmarshal(e.Message.Content, &content); err != nil {
			s.log.Warn().Err(err).Str("uuid", e.UUID).Msg("skipping unreadable transcript entry")
			continue
		}
		role := translate.RoleAssistant
		if e.Type == types.EntryUser {
			role = translate.RoleUser
		}
		if err := s.send(ctx, s.translator.Message(role, content)); err != nil {
			return err
		}
	}
	s.log.Debug().Int("entries", len(entries)).Msg("transcript replayed")
	return nil
}
