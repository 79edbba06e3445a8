package terminal

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/oklog/ulid/v2"
)

// DefaultOutputByteLimit caps retained output for local processes.
const DefaultOutputByteLimit = 1 << 20

// LocalSpawner runs commands as child processes. It is used when the
// client cannot host terminals.
type LocalSpawner struct{}

func (LocalSpawner) Spawn(ctx context.Context, cmd Command) (Handle, error) {
	c := exec.Command(cmd.Command, cmd.Args...)
	c.Dir = cmd.Cwd
	c.Env = os.Environ()
	for k, v := range cmd.Env {
		c.Env = append(c.Env, k+"="+v)
	}
	setProcessGroup(c)

	limit := cmd.OutputByteLimit
	if limit <= 0 {
		limit = DefaultOutputByteLimit
	}
	h := &localHandle{
		id:   ulid.Make().String(),
		cmd:  c,
		buf:  &boundedBuffer{limit: limit},
		done: make(chan struct{}),
	}
	c.Stdout = h.buf
	c.Stderr = h.buf

	if err := c.Start(); err != nil {
		return nil, err
	}
	go h.wait()
	return h, nil
}

// ShellCommand wraps a shell line for the current platform.
func ShellCommand(line, cwd string) Command {
	shell := DetectShell()
	if runtime.GOOS == "windows" {
		return Command{Command: shell, Args: []string{"/c", line}, Cwd: cwd}
	}
	return Command{Command: shell, Args: []string{"-c", line}, Cwd: cwd}
}

// DetectShell picks the user's shell, falling back to bash or sh.
func DetectShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		if s != "/bin/fish" && s != "/usr/bin/fish" &&
			s != "/bin/nu" && s != "/usr/bin/nu" {
			return s
		}
	}

	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}

	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}

	return "/bin/sh"
}

type localHandle struct {
	id     string
	cmd    *exec.Cmd
	buf    *boundedBuffer
	done   chan struct{}
	status ExitStatus
}

func (h *localHandle) wait() {
	err := h.cmd.Wait()
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		h.status = exitStatus(h.cmd.ProcessState)
	}
	close(h.done)
}

func (h *localHandle) ID() string { return h.id }

func (h *localHandle) CurrentOutput(context.Context) (Output, error) {
	out := Output{}
	out.Output, out.Truncated = h.buf.snapshot()
	select {
	case <-h.done:
		status := h.status
		out.ExitStatus = &status
	default:
	}
	return out, nil
}

func (h *localHandle) WaitForExit(ctx context.Context) (ExitStatus, error) {
	select {
	case <-h.done:
		return h.status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

func (h *localHandle) Kill(context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	killProcess(h.cmd, h.done)
	return nil
}

func (h *localHandle) Release(ctx context.Context) error {
	if err := h.Kill(ctx); err != nil {
		return err
	}
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// boundedBuffer keeps the tail of the output once limit is exceeded.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
		tail := append([]byte(nil), b.buf.Bytes()...)
		b.buf.Reset()
		b.buf.Write(tail)
		b.truncated = true
	}
	return len(p), nil
}

func (b *boundedBuffer) snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String(), b.truncated
}
