package terminal

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"
)

// State is a terminal lifecycle state.
type State string

const (
	StateStarted  State = "started"
	StateExited   State = "exited"
	StateKilled   State = "killed"
	StateTimedOut State = "timedOut"
	StateAborted  State = "aborted"
)

// Done reports whether s is a final state.
func (s State) Done() bool {
	return s != StateStarted
}

// ErrTerminalNotFound is returned for unknown terminal ids.
var ErrTerminalNotFound = errors.New("terminal not found")

// ExitStatus describes how a process ended.
type ExitStatus struct {
	ExitCode *int
	Signal   *string
}

// Output is a cumulative output snapshot from a live process.
type Output struct {
	Output     string
	Truncated  bool
	ExitStatus *ExitStatus
}

// Command describes a process to launch.
type Command struct {
	Command         string
	Args            []string
	Cwd             string
	Env             map[string]string
	OutputByteLimit int
}

// Handle is a live process.
type Handle interface {
	ID() string
	CurrentOutput(ctx context.Context) (Output, error)
	WaitForExit(ctx context.Context) (ExitStatus, error)
	Kill(ctx context.Context) error
	Release(ctx context.Context) error
}

// Spawner launches processes.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (Handle, error)
}

// Snapshot is a point-in-time view of a terminal.
type Snapshot struct {
	ID     string
	State  State
	Output string
	// Delta is the part of Output not returned by an earlier poll.
	Delta      string
	Truncated  bool
	ExitStatus *ExitStatus
}

// Terminal is one tracked command.
type Terminal struct {
	id       string
	handleID string
	command  Command

	mu        sync.Mutex
	state     State
	handle    Handle
	last      string
	final     Output
	startedAt time.Time

	killOnce sync.Once
	killCh   chan struct{}
	done     chan struct{}
}

// ID returns the terminal id.
func (t *Terminal) ID() string { return t.id }

// HandleID returns the id assigned by the spawner.
func (t *Terminal) HandleID() string { return t.handleID }

// Command returns the launched command.
func (t *Terminal) Command() Command { return t.command }

// State returns the current state.
func (t *Terminal) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the terminal leaves StateStarted.
func (t *Terminal) Done() <-chan struct{} { return t.done }

// Poll returns the current output and the suffix not yet observed.
func (t *Terminal) Poll(ctx context.Context) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.final
	if t.state == StateStarted {
		var err error
		out, err = t.handle.CurrentOutput(ctx)
		if err != nil {
			return Snapshot{}, err
		}
	}
	return t.observe(out), nil
}

// observe records out as the last seen output. Must be called with mu held.
func (t *Terminal) observe(out Output) Snapshot {
	delta := out.Output[commonPrefix(t.last, out.Output):]
	t.last = out.Output
	return Snapshot{
		ID:         t.id,
		State:      t.state,
		Output:     out.Output,
		Delta:      delta,
		Truncated:  out.Truncated,
		ExitStatus: out.ExitStatus,
	}
}

// Wait blocks until the terminal finishes and returns the final snapshot.
func (t *Terminal) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	return t.Poll(ctx)
}

// Kill requests termination and waits for the transition. A terminal that
// already finished keeps its state.
func (t *Terminal) Kill(ctx context.Context) (Snapshot, error) {
	t.killOnce.Do(func() { close(t.killCh) })
	return t.Wait(ctx)
}

// race settles the terminal. It is the only writer of the final state.
func (t *Terminal) race(timeout time.Duration, abort <-chan struct{}) {
	waitCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type exit struct {
		status ExitStatus
		err    error
	}
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()

	exitCh := make(chan exit, 1)
	go func() {
		status, err := h.WaitForExit(waitCtx)
		exitCh <- exit{status, err}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	var state State
	var status *ExitStatus
	select {
	case e := <-exitCh:
		state = StateExited
		if e.err == nil {
			status = &e.status
		}
	case <-abort:
		state = StateAborted
	case <-timer:
		state = StateTimedOut
	case <-t.killCh:
		state = StateKilled
	}

	t.settle(state, status)
}

func (t *Terminal) settle(state State, status *ExitStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.mu.Lock()
	handle := t.handle
	if state != StateExited {
		_ = handle.Kill(ctx)
	}
	out, err := handle.CurrentOutput(ctx)
	if err != nil {
		out = Output{Output: t.last}
	}
	if out.ExitStatus == nil {
		out.ExitStatus = status
	}
	_ = handle.Release(ctx)

	t.handle = nil
	t.final = out
	t.state = state
	t.mu.Unlock()

	close(t.done)
}

// commonPrefix returns the length of the longest common prefix of a and b.
// When b extends a the cursor stays at len(a), even inside a rune, so no
// byte is reported twice. A diverging prefix backs off to a rune start.
func commonPrefix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	if i == len(a) {
		return i
	}
	for i > 0 && i < len(b) && !utf8.RuneStart(b[i]) {
		i--
	}
	return i
}
