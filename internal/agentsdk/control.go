package agentsdk

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// controlTimeout bounds bridge-initiated control requests.
const controlTimeout = 60 * time.Second

const (
	subtypeInitialize        = "initialize"
	subtypeInterrupt         = "interrupt"
	subtypeSetPermissionMode = "set_permission_mode"
	subtypeSetModel          = "set_model"
	subtypeCanUseTool        = "can_use_tool"
	subtypeHookCallback      = "hook_callback"
	subtypeMCPMessage        = "mcp_message"
)

type envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
}

type controlResponse struct {
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type hookConfig struct {
	Matcher         *string  `json:"matcher"`
	HookCallbackIDs []string `json:"hookCallbackIds"`
}

// stream speaks the stream-json protocol over a pair of pipes.
type stream struct {
	opts Options
	log  zerolog.Logger

	wmu sync.Mutex
	w   io.WriteCloser

	out chan Message

	// queue holds output between the read loop and the forwarder, so a
	// reader that stops draining out never delays control responses.
	qmu    sync.Mutex
	queue  []Message
	qready chan struct{}
	qended bool
	quit   chan struct{}
	quitMu sync.Once

	// eof is closed once the reader has returned EOF or failed.
	eof chan struct{}

	pmu     sync.Mutex
	pending map[string]chan controlResponse
	seq     atomic.Uint64

	hooks     map[string]HookCallback
	hookTable map[HookEvent][]hookConfig

	init InitInfo

	// wait blocks until the producer of r has exited, so Err is final once
	// out is closed.
	wait func()

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error
}

func newStream(r io.Reader, w io.WriteCloser, opts Options, log zerolog.Logger, wait func()) *stream {
	s := &stream{
		wait:      wait,
		opts:      opts,
		log:       log,
		w:         w,
		out:       make(chan Message, 64),
		pending:   make(map[string]chan controlResponse),
		hooks:     make(map[string]HookCallback),
		hookTable: make(map[HookEvent][]hookConfig),
		done:      make(chan struct{}),
		qready:    make(chan struct{}, 1),
		quit:      make(chan struct{}),
		eof:       make(chan struct{}),
	}
	s.registerHooks()
	go s.forward()
	go s.readLoop(r)
	return s
}

// registerHooks assigns callback ids sent in the initialize request.
func (s *stream) registerHooks() {
	events := make([]HookEvent, 0, len(s.opts.Hooks))
	for ev := range s.opts.Hooks {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	n := 0
	for _, ev := range events {
		for _, m := range s.opts.Hooks[ev] {
			cfg := hookConfig{}
			if m.Matcher != "" {
				matcher := m.Matcher
				cfg.Matcher = &matcher
			}
			for _, cb := range m.Hooks {
				id := fmt.Sprintf("hook_%d", n)
				n++
				s.hooks[id] = cb
				cfg.HookCallbackIDs = append(cfg.HookCallbackIDs, id)
			}
			s.hookTable[ev] = append(s.hookTable[ev], cfg)
		}
	}
}

func (s *stream) initialize(ctx context.Context) error {
	req := map[string]any{"subtype": subtypeInitialize}
	if len(s.hookTable) > 0 {
		req["hooks"] = s.hookTable
	}
	resp, err := s.request(ctx, req)
	if err != nil {
		return err
	}
	if len(resp) > 0 {
		if err := json.Unmarshal(resp, &s.init); err != nil {
			s.log.Warn().Err(err).Msg("unparseable initialize response")
		}
	}
	return nil
}

func (s *stream) readLoop(r io.Reader) {
	reader := bufio.NewReaderSize(r, 1<<20)
	var readErr error
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.dispatch(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}
	close(s.eof)
	if s.wait != nil {
		s.wait()
	}
	s.finish(readErr)

	s.qmu.Lock()
	s.qended = true
	s.qmu.Unlock()
	s.signal()
}

func (s *stream) enqueue(msg Message) {
	s.qmu.Lock()
	s.queue = append(s.queue, msg)
	s.qmu.Unlock()
	s.signal()
}

func (s *stream) signal() {
	select {
	case s.qready <- struct{}{}:
	default:
	}
}

// forward moves queued messages to out in order and closes out after the
// last one. It gives up only when the stream is closed by its owner.
func (s *stream) forward() {
	defer close(s.out)
	for {
		s.qmu.Lock()
		batch := s.queue
		s.queue = nil
		ended := s.qended
		s.qmu.Unlock()

		for _, msg := range batch {
			select {
			case s.out <- msg:
			case <-s.quit:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if ended {
			return
		}
		select {
		case <-s.qready:
		case <-s.quit:
			return
		}
	}
}

// stop abandons undelivered output.
func (s *stream) stop() {
	s.quitMu.Do(func() { close(s.quit) })
}

func (s *stream) dispatch(line []byte) {
	if len(line) == 0 || line[0] != '{' {
		return
	}
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		s.log.Warn().Err(err).Msg("skipping malformed runtime line")
		return
	}

	switch env.Type {
	case "control_response":
		var resp controlResponse
		if err := json.Unmarshal(env.Response, &resp); err != nil {
			s.log.Warn().Err(err).Msg("malformed control response")
			return
		}
		s.pmu.Lock()
		ch, ok := s.pending[resp.RequestID]
		delete(s.pending, resp.RequestID)
		s.pmu.Unlock()
		if ok {
			ch <- resp
		}
	case "control_request":
		go s.handleControl(env.RequestID, env.Request)
	case "control_cancel_request":
		s.log.Debug().Str("request", env.RequestID).Msg("control request cancelled by runtime")
	case "":
		s.log.Warn().Msg("runtime line without type")
	default:
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.log.Warn().Err(err).Str("type", env.Type).Msg("skipping malformed runtime message")
			return
		}
		s.enqueue(msg)
	}
}

func (s *stream) handleControl(id string, raw json.RawMessage) {
	ctx := context.Background()
	var head struct {
		Subtype string `json:"subtype"`
	}
	_ = json.Unmarshal(raw, &head)

	var (
		result any
		err    error
	)
	switch head.Subtype {
	case subtypeCanUseTool:
		result, err = s.canUseTool(ctx, raw)
	case subtypeHookCallback:
		result = s.hookCallback(ctx, raw)
	case subtypeMCPMessage:
		err = errors.New("in-process MCP servers are not supported")
	default:
		err = fmt.Errorf("unsupported control request %q", head.Subtype)
	}

	resp := controlResponse{RequestID: id}
	if err != nil {
		resp.Subtype = "error"
		resp.Error = err.Error()
	} else {
		resp.Subtype = "success"
		resp.Response, _ = json.Marshal(result)
	}
	if werr := s.write(map[string]any{"type": "control_response", "response": resp}); werr != nil {
		s.log.Warn().Err(werr).Str("request", id).Msg("failed to answer control request")
	}
}

func (s *stream) canUseTool(ctx context.Context, raw json.RawMessage) (PermissionResult, error) {
	if s.opts.CanUseTool == nil {
		return PermissionResult{}, errors.New("no permission handler")
	}
	var req PermissionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return PermissionResult{}, err
	}
	res, err := s.opts.CanUseTool(ctx, req)
	if err != nil {
		return PermissionResult{}, err
	}
	if res.Behavior == BehaviorAllow && len(res.UpdatedInput) == 0 {
		res.UpdatedInput = req.Input
	}
	return res, nil
}

// hookCallback never fails the runtime; a broken hook lets it continue.
func (s *stream) hookCallback(ctx context.Context, raw json.RawMessage) HookOutput {
	var req struct {
		CallbackID string          `json:"callback_id"`
		Input      json.RawMessage `json:"input"`
		ToolUseID  string          `json:"tool_use_id"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		s.log.Warn().Err(err).Msg("malformed hook callback")
		return HookOutput{Continue: true}
	}
	cb, ok := s.hooks[req.CallbackID]
	if !ok {
		s.log.Warn().Str("callback", req.CallbackID).Msg("unknown hook callback")
		return HookOutput{Continue: true}
	}
	var input HookInput
	if err := json.Unmarshal(req.Input, &input); err != nil {
		s.log.Warn().Err(err).Str("callback", req.CallbackID).Msg("unparseable hook input")
		return HookOutput{Continue: true}
	}
	out, err := cb(ctx, input, req.ToolUseID)
	if err != nil {
		s.log.Warn().Err(err).Str("callback", req.CallbackID).Msg("hook failed")
		return HookOutput{Continue: true}
	}
	return out
}

func (s *stream) request(ctx context.Context, req map[string]any) (json.RawMessage, error) {
	id := fmt.Sprintf("req_%d_%s", s.seq.Add(1), ulid.Make().String())
	ch := make(chan controlResponse, 1)

	s.pmu.Lock()
	s.pending[id] = ch
	s.pmu.Unlock()
	defer func() {
		s.pmu.Lock()
		delete(s.pending, id)
		s.pmu.Unlock()
	}()

	if err := s.write(map[string]any{"type": "control_request", "request_id": id, "request": req}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(controlTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Subtype == "error" {
			return nil, fmt.Errorf("%s: %s", req["subtype"], resp.Error)
		}
		return resp.Response, nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClosed
	case <-timer.C:
		return nil, fmt.Errorf("%s: control request timed out", req["subtype"])
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stream) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.wmu.Lock()
	defer s.wmu.Unlock()
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	_, err = s.w.Write(data)
	return err
}

func (s *stream) finish(err error) {
	s.doneOnce.Do(func() {
		s.errMu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.errMu.Unlock()
		close(s.done)
	})
}

func (s *stream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Output implements Query.
func (s *stream) Output() <-chan Message { return s.out }

// Send implements Query.
func (s *stream) Send(_ context.Context, msg UserMessage) error {
	return s.write(msg)
}

// Interrupt implements Query.
func (s *stream) Interrupt(ctx context.Context) error {
	_, err := s.request(ctx, map[string]any{"subtype": subtypeInterrupt})
	return err
}

// SetPermissionMode implements Query.
func (s *stream) SetPermissionMode(ctx context.Context, mode string) error {
	_, err := s.request(ctx, map[string]any{"subtype": subtypeSetPermissionMode, "mode": mode})
	return err
}

// SetModel implements Query.
func (s *stream) SetModel(ctx context.Context, model string) error {
	_, err := s.request(ctx, map[string]any{"subtype": subtypeSetModel, "model": model})
	return err
}

// Close implements Query.
func (s *stream) Close() error {
	s.wmu.Lock()
	err := s.w.Close()
	s.wmu.Unlock()
	s.finish(nil)
	s.stop()
	return err
}

// Init implements Query.
func (s *stream) Init() InitInfo { return s.init }

// Err implements Query.
func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}
