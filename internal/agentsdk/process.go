package agentsdk

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zed-industries/claude-code-acp-sub000/internal/logging"
)

// DefaultExecutable is the runtime binary looked up on PATH.
const DefaultExecutable = "claude"

// stderrTail is how many stderr lines are kept for error reports.
const stderrTail = 50

// CLIRuntime runs the agent as a child process.
type CLIRuntime struct {
	// Executable overrides DefaultExecutable and Options.Executable.
	Executable string
	// Env is appended to the inherited environment.
	Env map[string]string
}

// Start launches the runtime and completes the initialize handshake.
func (r *CLIRuntime) Start(ctx context.Context, opts Options) (Query, error) {
	exe := opts.Executable
	if exe == "" {
		exe = r.Executable
	}
	if exe == "" {
		exe = DefaultExecutable
	}

	log := logging.Component("runtime").With().Str("session", opts.SessionID).Logger()

	cmd := exec.Command(exe, opts.Args()...)
	cmd.Dir = opts.Cwd
	cmd.Env = os.Environ()
	for k, v := range r.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, "CLAUDE_CODE_ENTRYPOINT=sdk-go")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	log.Debug().Str("executable", exe).Strs("args", opts.Args()).Msg("starting runtime")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", exe, err)
	}

	p := &process{
		cmd:        cmd,
		log:        log,
		waitDone:   make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	p.stream = newStream(stdout, stdin, opts, log, func() { <-p.waitDone })
	go p.drainStderr(stderr, opts.Stderr)
	go p.monitorExit()

	if err := p.initialize(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// process is a stream bound to a child process.
type process struct {
	*stream
	cmd *exec.Cmd
	log zerolog.Logger

	stderrMu    sync.Mutex
	stderrLines []string

	stderrDone chan struct{}
	waitDone   chan struct{}
	closeOnce  sync.Once
}

func (p *process) drainStderr(r io.Reader, sink func(string)) {
	defer close(p.stderrDone)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if sink != nil {
			sink(line)
		}
		p.stderrMu.Lock()
		p.stderrLines = append(p.stderrLines, line)
		if len(p.stderrLines) > stderrTail {
			p.stderrLines = p.stderrLines[len(p.stderrLines)-stderrTail:]
		}
		p.stderrMu.Unlock()
	}
}

// monitorExit is the sole caller of cmd.Wait. Wait closes the pipes, so it
// runs only after both readers have hit EOF.
func (p *process) monitorExit() {
	<-p.eof
	<-p.stderrDone
	err := p.cmd.Wait()
	if err != nil {
		p.stderrMu.Lock()
		tail := strings.Join(p.stderrLines, "\n")
		p.stderrMu.Unlock()
		if tail != "" {
			err = fmt.Errorf("runtime exited: %w: %s", err, tail)
		} else {
			err = fmt.Errorf("runtime exited: %w", err)
		}
		if hasAuthMarker(tail) {
			err = fmt.Errorf("%w: %s", ErrAuthRequired, tail)
		}
		p.setErr(err)
		p.log.Debug().Err(err).Msg("runtime exited")
	}
	close(p.waitDone)
}

// Close ends stdin and waits for the process, killing it after a grace period.
func (p *process) Close() error {
	p.closeOnce.Do(func() {
		p.wmu.Lock()
		_ = p.w.Close()
		p.wmu.Unlock()

		select {
		case <-p.waitDone:
		case <-time.After(5 * time.Second):
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			<-p.waitDone
		}
		p.finish(nil)
		p.stop()
	})
	return nil
}
