package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	acp "github.com/coder/acp-go-sdk"
)

// Session methods the acp connection does not route. The underscore forms
// follow the protocol's extension naming.
const (
	MethodSessionList   = "session/list"
	MethodSessionDelete = "session/delete"
)

type extHandler func(ctx context.Context, params json.RawMessage) (any, error)

type listSessionsRequest struct {
	Cwd    string `json:"cwd,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

type deleteSessionRequest struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
}

type deleteSessionResponse struct {
	Deleted bool `json:"deleted"`
}

type rpcEnvelope struct {
	ID     *json.RawMessage `json:"id,omitempty"`
	Method string           `json:"method,omitempty"`
	Params json.RawMessage  `json:"params,omitempty"`
}

type rpcReply struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *json.RawMessage  `json:"id"`
	Result  any               `json:"result,omitempty"`
	Error   *acp.RequestError `json:"error,omitempty"`
}

// ExtRouter answers session/list and session/delete itself and passes
// every other line to the acp connection. Pass Input and Output to
// acp.NewAgentSideConnection in place of the raw streams.
type ExtRouter struct {
	reg      *Registry
	handlers map[string]extHandler

	pr  *io.PipeReader
	pw  *io.PipeWriter
	out *lockedWriter
}

// Route starts reading in until it ends or ctx is done.
func (r *Registry) Route(ctx context.Context, in io.Reader, out io.Writer) *ExtRouter {
	pr, pw := io.Pipe()
	x := &ExtRouter{reg: r, pr: pr, pw: pw, out: &lockedWriter{w: out}}
	x.handlers = map[string]extHandler{
		MethodSessionList:         x.list,
		"_" + MethodSessionList:   x.list,
		MethodSessionDelete:       x.delete,
		"_" + MethodSessionDelete: x.delete,
	}
	go x.read(ctx, in)
	return x
}

// Input is what the acp connection reads.
func (x *ExtRouter) Input() io.Reader { return x.pr }

// Output is what the acp connection writes. Writes are serialized with
// the router's own replies.
func (x *ExtRouter) Output() io.Writer { return x.out }

func (x *ExtRouter) read(ctx context.Context, in io.Reader) {
	br := bufio.NewReader(in)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if !x.intercept(ctx, line) {
				if _, werr := x.pw.Write(line); werr != nil {
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				x.reg.log.Warn().Err(err).Msg("peer read failed")
			}
			x.pw.CloseWithError(err)
			return
		}
	}
}

// intercept reports whether line was a request this router serves.
func (x *ExtRouter) intercept(ctx context.Context, line []byte) bool {
	var env rpcEnvelope
	if json.Unmarshal(line, &env) != nil || env.ID == nil {
		return false
	}
	h, ok := x.handlers[env.Method]
	if !ok {
		return false
	}
	go func() {
		reply := rpcReply{JSONRPC: "2.0", ID: env.ID}
		result, err := h(ctx, env.Params)
		if err != nil {
			var reqErr *acp.RequestError
			errors.As(protocolError(err), &reqErr)
			reply.Error = reqErr
		} else {
			reply.Result = result
		}
		b, err := json.Marshal(reply)
		if err != nil {
			x.reg.log.Error().Err(err).Str("method", env.Method).Msg("reply not encoded")
			return
		}
		if _, err := x.out.Write(append(b, '\n')); err != nil {
			x.reg.log.Warn().Err(err).Str("method", env.Method).Msg("reply not sent")
		}
	}()
	return true
}

func (x *ExtRouter) list(ctx context.Context, params json.RawMessage) (any, error) {
	var req listSessionsRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, acp.NewInvalidParams(map[string]any{"error": err.Error()})
		}
	}
	return x.reg.ListSessions(ctx, req.Cwd, req.Cursor)
}

func (x *ExtRouter) delete(ctx context.Context, params json.RawMessage) (any, error) {
	var req deleteSessionRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, acp.NewInvalidParams(map[string]any{"error": err.Error()})
	}
	if req.SessionID == "" {
		return nil, acp.NewInvalidParams(map[string]any{"error": "sessionId is required"})
	}
	deleted, err := x.reg.DeleteSession(ctx, req.SessionID, req.Cwd)
	if err != nil {
		return nil, err
	}
	return deleteSessionResponse{Deleted: deleted}, nil
}

// lockedWriter keeps whole lines from interleaving. The acp connection
// writes each message with a single Write.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
