package terminal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/zed-industries/claude-code-acp-sub000/internal/logging"
)

// DefaultTimeout bounds a background command when the caller sets none.
const DefaultTimeout = 10 * time.Minute

// StartOptions control one launch.
type StartOptions struct {
	// Timeout kills the process when it expires. Zero uses the manager
	// default, negative disables the timeout.
	Timeout time.Duration
	// Abort settles the terminal as aborted when closed.
	Abort <-chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithOnExit registers a callback run once per terminal after it settles.
func WithOnExit(fn func(Snapshot)) Option {
	return func(m *Manager) { m.onExit = fn }
}

// Manager owns the terminals of one session.
type Manager struct {
	spawner Spawner
	timeout time.Duration
	onExit  func(Snapshot)
	log     zerolog.Logger

	mu        sync.RWMutex
	terminals map[string]*Terminal
}

// NewManager creates a manager that launches through spawner.
func NewManager(spawner Spawner, opts ...Option) *Manager {
	m := &Manager{
		spawner:   spawner,
		timeout:   DefaultTimeout,
		log:       logging.Component("terminal"),
		terminals: make(map[string]*Terminal),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches cmd and returns once the process is running. The
// lifecycle continues in the background, independent of ctx.
func (m *Manager) Start(ctx context.Context, cmd Command, opts StartOptions) (*Terminal, error) {
	handle, err := m.spawner.Spawn(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("spawn %q: %w", cmd.Command, err)
	}

	t := &Terminal{
		id:        ulid.Make().String(),
		handleID:  handle.ID(),
		command:   cmd,
		state:     StateStarted,
		handle:    handle,
		startedAt: time.Now(),
		killCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.terminals[t.id] = t
	m.mu.Unlock()

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = m.timeout
	}

	m.log.Debug().Str("terminal", t.id).Str("command", cmd.Command).Dur("timeout", timeout).Msg("terminal started")

	go func() {
		t.race(timeout, opts.Abort)
		m.settled(t)
	}()
	return t, nil
}

func (m *Manager) settled(t *Terminal) {
	t.mu.Lock()
	snap := Snapshot{ID: t.id, State: t.state, Output: t.final.Output, Truncated: t.final.Truncated, ExitStatus: t.final.ExitStatus}
	t.mu.Unlock()

	m.log.Debug().Str("terminal", t.id).Str("state", string(snap.State)).Dur("elapsed", time.Since(t.startedAt)).Msg("terminal settled")
	if m.onExit != nil {
		m.onExit(snap)
	}
}

// Get looks up a terminal.
func (m *Manager) Get(id string) (*Terminal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.terminals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTerminalNotFound, id)
	}
	return t, nil
}

// CurrentOutput polls a terminal incrementally.
func (m *Manager) CurrentOutput(ctx context.Context, id string) (Snapshot, error) {
	t, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return t.Poll(ctx)
}

// Kill terminates a running terminal and returns its final snapshot.
func (m *Manager) Kill(ctx context.Context, id string) (Snapshot, error) {
	t, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return t.Kill(ctx)
}

// List returns all terminals ordered by start time.
func (m *Manager) List() []*Terminal {
	m.mu.RLock()
	out := make([]*Terminal, 0, len(m.terminals))
	for _, t := range m.terminals {
		out = append(out, t)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].startedAt.Before(out[j].startedAt) })
	return out
}

// Close kills every running terminal.
func (m *Manager) Close(ctx context.Context) {
	for _, t := range m.List() {
		if t.State() == StateStarted {
			if _, err := t.Kill(ctx); err != nil {
				m.log.Warn().Err(err).Str("terminal", t.id).Msg("failed to kill terminal")
			}
		}
	}
}
