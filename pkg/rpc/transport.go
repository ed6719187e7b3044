// Package rpc implements the line-delimited, full-duplex JSON-RPC
// transport used to talk to a local or remote app-server: one read loop
// draining an io.Reader, a write-serializing mutex around an io.Writer,
// monotonic request ids, and channels for inbound notifications and
// server-originated requests.
//
// Grounded on the teacher's capabilities.StdioMCPClient (stdio JSON-RPC to
// a child process) generalized from a one-shot call into the full-duplex,
// multiplexed transport the wire contract requires.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/wire"
)

// ServerRequestHandler answers a server-originated request. The transport
// acknowledges every server request; callers that don't want to dispatch
// typed handlers may pass nil, which falls back to the universal
// {"status":"unsupported"} stub documented as an open question in the
// source spec.
type ServerRequestHandler func(method string, params json.RawMessage) (result json.RawMessage, rpcErr *wire.RPCError)

// WireLogSink receives every inbound and outbound raw line.
type WireLogSink interface {
	LogLine(direction string, line []byte, tsMs int64)
}

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

type pendingRequest struct {
	resultCh chan wire.Message
}

// Transport is the full-duplex JSON-RPC connection. Safe for concurrent
// Request/Notify calls from multiple goroutines; the writer is guarded by
// a single mutex so lines are never interleaved.
type Transport struct {
	reader io.Reader
	writer io.Writer

	writeMu sync.Mutex

	nextID int64

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	notifications  chan wire.Message
	serverRequests chan wire.Message
	serverHandler  ServerRequestHandler
	wireLog        WireLogSink
	nowMs          func() int64
	closeOnce      sync.Once
	closed         chan struct{}
	readLoopDone   chan struct{}
}

// Option configures a Transport at construction time.
type Option func(*Transport)

func WithServerRequestHandler(h ServerRequestHandler) Option {
	return func(t *Transport) { t.serverHandler = h }
}

func WithWireLogSink(sink WireLogSink) Option {
	return func(t *Transport) { t.wireLog = sink }
}

func WithClock(nowMs func() int64) Option {
	return func(t *Transport) { t.nowMs = nowMs }
}

// New wires a Transport around reader/writer and starts its read loop.
// notifBuffer and serverReqBuffer size the bounded SPMC channels.
func New(reader io.Reader, writer io.Writer, notifBuffer, serverReqBuffer int, opts ...Option) *Transport {
	t := &Transport{
		reader:         reader,
		writer:         writer,
		pending:        make(map[string]*pendingRequest),
		notifications:  make(chan wire.Message, notifBuffer),
		serverRequests: make(chan wire.Message, serverReqBuffer),
		nowMs:          func() int64 { return 0 },
		closed:         make(chan struct{}),
		readLoopDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.readLoop()
	return t
}

// Notifications returns the channel of inbound notifications, delivered
// in receive order to this single consumer.
func (t *Transport) Notifications() <-chan wire.Message { return t.notifications }

// ServerRequests returns the channel of server-originated requests that
// were acknowledged with the universal stub (or the configured handler's
// result) and are now surfaced for the caller's own bookkeeping.
func (t *Transport) ServerRequests() <-chan wire.Message { return t.serverRequests }

// Request allocates a fresh monotonic id, writes {id, method, params} as
// one line, and blocks until a matching response line arrives or the
// transport closes.
func (t *Transport) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := wire.NewIntID(atomic.AddInt64(&t.nextID, 1))

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidRequest, err, "rpc: marshal params")
	}

	pr := &pendingRequest{resultCh: make(chan wire.Message, 1)}
	t.pendingMu.Lock()
	t.pending[id.String()] = pr
	t.pendingMu.Unlock()

	msg := wire.Message{ID: &id, Method: method, Params: paramsJSON}
	if err := t.writeLine(msg); err != nil {
		t.pendingMu.Lock()
		delete(t.pending, id.String())
		t.pendingMu.Unlock()
		return nil, err
	}

	select {
	case resp := <-pr.resultCh:
		if resp.Error != nil {
			if resp.ID == nil {
				// failAllPending's id-less completion: the read loop ended.
				return nil, errs.New(errs.KindDisconnect, "rpc: "+resp.Error.Message)
			}
			return nil, errs.Newf(errs.KindUnknown, "rpc: %s", resp.Error.Message).
				WithDetails(map[string]any{"code": resp.Error.Code, "data": string(resp.Error.Data)})
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.pendingMu.Lock()
		delete(t.pending, id.String())
		t.pendingMu.Unlock()
		return nil, errs.Wrap(errs.KindDisconnect, ctx.Err(), "rpc: request canceled")
	case <-t.closed:
		return nil, errs.New(errs.KindDisconnect, "rpc: connection closed")
	}
}

// Notify writes a fire-and-forget {method, params} line with no id.
func (t *Transport) Notify(method string, params any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return errs.Wrap(errs.KindInvalidRequest, err, "rpc: marshal params")
	}
	return t.writeLine(wire.Message{Method: method, Params: paramsJSON})
}

// Respond serializes a {id, result} line, completing a server-originated
// request.
func (t *Transport) Respond(id wire.ID, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return errs.Wrap(errs.KindInvalidRequest, err, "rpc: marshal result")
	}
	return t.writeLine(wire.Message{ID: &id, Result: resultJSON})
}

func (t *Transport) writeLine(msg wire.Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return errs.Wrap(errs.KindInvalidRequest, err, "rpc: marshal message")
	}
	line = append(line, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.wireLog != nil {
		t.wireLog.LogLine(DirectionOut, line, t.nowMs())
	}

	if _, err := t.writer.Write(line); err != nil {
		return errs.Wrap(errs.KindDisconnect, err, "rpc: app-server write failed")
	}
	return nil
}

// readLoop runs until EOF or a fatal read error. On termination it
// completes every pending receiver with a disconnect error, matching the
// spec's "reader completing all pending requests with ConnectionClosed on
// EOF" recovery policy.
func (t *Transport) readLoop() {
	defer close(t.readLoopDone)
	defer t.closeOnce.Do(func() { close(t.closed) })

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)

		if t.wireLog != nil {
			t.wireLog.LogLine(DirectionIn, cp, t.nowMs())
		}

		var msg wire.Message
		if err := json.Unmarshal(cp, &msg); err != nil {
			// Parse errors are logged by the caller via wire log; never
			// crash the loop.
			continue
		}

		t.route(msg)
	}

	t.failAllPending()
}

func (t *Transport) route(msg wire.Message) {
	switch msg.Classify() {
	case wire.KindResponse:
		t.pendingMu.Lock()
		pr, ok := t.pending[msg.ID.String()]
		if ok {
			delete(t.pending, msg.ID.String())
		}
		t.pendingMu.Unlock()
		if ok {
			pr.resultCh <- msg
		}
	case wire.KindNotification:
		select {
		case t.notifications <- msg:
		default:
			// Bounded channel full: newest-writer backpressure, per the
			// concurrency model's sync-subscriber policy generalized to
			// the transport's own notification channel.
		}
	case wire.KindRequest:
		t.handleServerRequest(msg)
	}
}

func (t *Transport) handleServerRequest(msg wire.Message) {
	var result json.RawMessage
	var rpcErr *wire.RPCError

	if t.serverHandler != nil {
		result, rpcErr = t.serverHandler(msg.Method, msg.Params)
	} else {
		result = json.RawMessage(`{"status":"unsupported"}`)
	}

	_ = t.writeLine(wire.Message{ID: msg.ID, Result: result, Error: rpcErr})

	select {
	case t.serverRequests <- msg:
	default:
	}
}

func (t *Transport) failAllPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	disconnectErr := &wire.RPCError{Code: -1, Message: "connection closed"}
	for id, pr := range t.pending {
		pr.resultCh <- wire.Message{Error: disconnectErr}
		delete(t.pending, id)
	}
}

// Closed reports whether the read loop has terminated.
func (t *Transport) Closed() <-chan struct{} { return t.closed }

// Wait blocks until the read loop exits.
func (t *Transport) Wait() { <-t.readLoopDone }
