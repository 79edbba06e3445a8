package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	acp "github.com/coder/acp-go-sdk"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
)

var errNoTerminal = errors.New("terminals not supported")

// fakeQuery is a scripted runtime conversation. Send and Interrupt run the
// optional callbacks, which usually push replies onto out.
type fakeQuery struct {
	out  chan agentsdk.Message
	init agentsdk.InitInfo

	mu          sync.Mutex
	sent        []agentsdk.UserMessage
	interrupts  int
	modes       []string
	models      []string
	closed      bool
	exitErr     error
	onSend      func(q *fakeQuery, msg agentsdk.UserMessage)
	onInterrupt func(q *fakeQuery)
}

func newFakeQuery(init agentsdk.InitInfo) *fakeQuery {
	return &fakeQuery{out: make(chan agentsdk.Message, 64), init: init}
}

func (q *fakeQuery) Output() <-chan agentsdk.Message { return q.out }

func (q *fakeQuery) Send(_ context.Context, msg agentsdk.UserMessage) error {
	q.mu.Lock()
	q.sent = append(q.sent, msg)
	fn := q.onSend
	q.mu.Unlock()
	if fn != nil {
		fn(q, msg)
	}
	return nil
}

func (q *fakeQuery) Interrupt(context.Context) error {
	q.mu.Lock()
	q.interrupts++
	fn := q.onInterrupt
	q.mu.Unlock()
	if fn != nil {
		fn(q)
	}
	return nil
}

func (q *fakeQuery) SetPermissionMode(_ context.Context, mode string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.modes = append(q.modes, mode)
	return nil
}

func (q *fakeQuery) SetModel(_ context.Context, model string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.models = append(q.models, model)
	return nil
}

func (q *fakeQuery) Init() agentsdk.InitInfo { return q.init }

func (q *fakeQuery) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.exitErr
}

func (q *fakeQuery) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *fakeQuery) OnSend(fn func(q *fakeQuery, msg agentsdk.UserMessage)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onSend = fn
}

func (q *fakeQuery) OnInterrupt(fn func(q *fakeQuery)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onInterrupt = fn
}

// reply makes every turn answer with msgs.
func (q *fakeQuery) reply(msgs ...agentsdk.Message) {
	q.OnSend(func(q *fakeQuery, _ agentsdk.UserMessage) {
		for _, m := range msgs {
			q.out <- m
		}
	})
}

// exit ends the conversation with err.
func (q *fakeQuery) exit(err error) {
	q.mu.Lock()
	q.exitErr = err
	q.mu.Unlock()
	close(q.out)
}

func (q *fakeQuery) Sent() []agentsdk.UserMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]agentsdk.UserMessage(nil), q.sent...)
}

func (q *fakeQuery) Interrupts() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.interrupts
}

func (q *fakeQuery) Modes() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.modes...)
}

func (q *fakeQuery) Models() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.models...)
}

func (q *fakeQuery) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// fakeRuntime hands out fakeQuery values and records the options of each
// start.
type fakeRuntime struct {
	mu       sync.Mutex
	init     agentsdk.InitInfo
	startErr error
	opts     []agentsdk.Options
	queries  []*fakeQuery
}

func (r *fakeRuntime) Start(_ context.Context, opts agentsdk.Options) (agentsdk.Query, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts = append(r.opts, opts)
	if r.startErr != nil {
		return nil, r.startErr
	}
	q := newFakeQuery(r.init)
	r.queries = append(r.queries, q)
	return q, nil
}

func (r *fakeRuntime) Last() (*fakeQuery, agentsdk.Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[len(r.queries)-1], r.opts[len(r.opts)-1]
}

// fakeClient records notifications and answers permission requests with
// a scripted option.
type fakeClient struct {
	mu          sync.Mutex
	updates     []acp.SessionNotification
	permissions []acp.RequestPermissionRequest
	// choose picks the option id to select. Nil or "" cancels.
	choose func(req acp.RequestPermissionRequest) string
	files  map[string]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{files: make(map[string]string)}
}

func (c *fakeClient) SessionUpdate(_ context.Context, n acp.SessionNotification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, n)
	return nil
}

func (c *fakeClient) RequestPermission(_ context.Context, req acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	c.mu.Lock()
	c.permissions = append(c.permissions, req)
	choose := c.choose
	c.mu.Unlock()

	id := ""
	if choose != nil {
		id = choose(req)
	}
	if id == "" {
		return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeCancelled()}, nil
	}
	return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeSelected(acp.PermissionOptionId(id))}, nil
}

func (c *fakeClient) ReadTextFile(_ context.Context, req acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.files[req.Path]
	if !ok {
		return acp.ReadTextFileResponse{}, acp.NewInvalidParams(map[string]any{"path": req.Path})
	}
	return acp.ReadTextFileResponse{Content: content}, nil
}

func (c *fakeClient) WriteTextFile(_ context.Context, req acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[req.Path] = req.Content
	return acp.WriteTextFileResponse{}, nil
}

func (c *fakeClient) CreateTerminal(context.Context, acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{}, errNoTerminal
}

func (c *fakeClient) TerminalOutput(context.Context, acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, errNoTerminal
}

func (c *fakeClient) WaitForTerminalExit(context.Context, acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, errNoTerminal
}

func (c *fakeClient) KillTerminalCommand(context.Context, acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, errNoTerminal
}

func (c *fakeClient) ReleaseTerminal(context.Context, acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, errNoTerminal
}

// Kinds returns the sessionUpdate discriminator of every notification.
func (c *fakeClient) Kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]string, 0, len(c.updates))
	for _, n := range c.updates {
		kinds = append(kinds, wireString(n.Update, "sessionUpdate"))
	}
	return kinds
}

// Wire returns every notification's update in protocol JSON form.
func (c *fakeClient) Wire() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.updates))
	for _, n := range c.updates {
		out = append(out, wireMap(n.Update))
	}
	return out
}

func (c *fakeClient) Permissions() []acp.RequestPermissionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]acp.RequestPermissionRequest(nil), c.permissions...)
}

func (c *fakeClient) Choose(fn func(req acp.RequestPermissionRequest) string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.choose = fn
}

func (c *fakeClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = nil
	c.permissions = nil
}

func wireMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(err)
	}
	return m
}

func wireString(v any, key string) string {
	s, _ := wireMap(v)[key].(string)
	return s
}

// Runtime message builders.

func textDelta(text string) agentsdk.Message {
	return agentsdk.Message{Type: agentsdk.TypeStreamEvent, Event: &agentsdk.StreamEvent{
		Type:  agentsdk.EventContentBlockDelta,
		Delta: &agentsdk.Delta{Type: agentsdk.DeltaText, Text: text},
	}}
}

func assistant(blocks ...agentsdk.Block) agentsdk.Message {
	return agentsdk.Message{Type: agentsdk.TypeAssistant, Message: &agentsdk.APIMessage{Role: "assistant", Content: blocks}}
}

func user(blocks ...agentsdk.Block) agentsdk.Message {
	return agentsdk.Message{Type: agentsdk.TypeUser, Message: &agentsdk.APIMessage{Role: "user", Content: blocks}}
}

func result(subtype string) agentsdk.Message {
	return agentsdk.Message{Type: agentsdk.TypeResult, Subtype: subtype}
}

func toolUse(id, name, input string) agentsdk.Block {
	return agentsdk.Block{Type: agentsdk.BlockToolUse, ID: id, Name: name, Input: json.RawMessage(input)}
}

func toolResult(id, content string) agentsdk.Block {
	return agentsdk.Block{Type: agentsdk.BlockToolResult, ToolUseID: id, Content: json.RawMessage(content)}
}

func contentBlock(raw string) acp.ContentBlock {
	var cb acp.ContentBlock
	if err := json.Unmarshal([]byte(raw), &cb); err != nil {
		panic(err)
	}
	return cb
}
