// Package appserver is the typed client facade over pkg/rpc: it knows the
// catalogue of app-server methods and owns the subprocess lifecycle.
package appserver

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sync"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/rpc"
)

// Config is the immutable configuration for spawning an app-server
// subprocess, built by the external loader per spec.md §9's
// "unbounded dynamic parameters" design note.
type Config struct {
	Binary           DiscoveredBinary
	WorkingDirectory string
	Env              []string
	NotificationBuf  int
	ServerRequestBuf int
}

// ClientInfo is sent on the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Client is the thin typed wrapper the Codex lane worker owns for its
// entire lifetime: it forks and kills the subprocess and knows the
// catalogue of supported methods.
type Client struct {
	transport *rpc.Transport
	cmd       *exec.Cmd
	validator *ParamValidator

	initMu      sync.Mutex
	initialized bool
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithParamValidator attaches a ParamValidator that checks outgoing params
// for methods with a registered schema before they are sent.
func WithParamValidator(v *ParamValidator) ClientOption {
	return func(c *Client) { c.validator = v }
}

// Spawn forks the subprocess with inherited stderr and piped stdin/stdout,
// then wires a Transport around the pipes.
func Spawn(cfg Config, transportOpts []rpc.Option, clientOpts ...ClientOption) (*Client, error) {
	args := append([]string{}, cfg.Binary.Args...)
	cmd := exec.Command(cfg.Binary.Path, args...)
	cmd.Dir = cfg.WorkingDirectory
	cmd.Env = cfg.Env
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "appserver: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "appserver: stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.KindBinaryNotFound, err, "appserver: spawn failed")
	}

	transport := rpc.New(stdout, stdin, cfg.NotificationBuf, cfg.ServerRequestBuf, transportOpts...)

	c := &Client{transport: transport, cmd: cmd}
	for _, opt := range clientOpts {
		opt(c)
	}
	return c, nil
}

// WrapTransport builds a Client around an already-constructed Transport,
// with no owned subprocess. Used for in-process transports and tests;
// Shutdown becomes a no-op since there is no process to kill.
func WrapTransport(transport *rpc.Transport, clientOpts ...ClientOption) *Client {
	c := &Client{transport: transport}
	for _, opt := range clientOpts {
		opt(c)
	}
	return c
}

// Shutdown kills the process and joins the read loop. Safe to call more
// than once.
func (c *Client) Shutdown() error {
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	if c.cmd.ProcessState != nil {
		// Already killed and reaped by an earlier Shutdown.
		return nil
	}
	if err := c.cmd.Process.Kill(); err != nil {
		return errs.Wrap(errs.KindInternal, err, "appserver: shutdown failed")
	}
	c.transport.Wait()
	_ = c.cmd.Wait()
	return nil
}

// Initialize is the idempotent handshake: if the server reports
// "already initialized", the client emits the post-initialize
// notification anyway and reports success.
func (c *Client) Initialize(ctx context.Context, info ClientInfo) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initialized {
		return nil
	}

	_, err := c.transport.Request(ctx, "initialize", map[string]any{"clientInfo": info})
	if err != nil {
		kind, ok := errs.Of(err)
		if !ok || kind != errs.KindUnknown {
			return err
		}
		// Treat "already initialized" style server errors as success,
		// matching the idempotent-handshake contract.
	}

	if notifyErr := c.transport.Notify("initialized", map[string]any{}); notifyErr != nil {
		return notifyErr
	}
	c.initialized = true
	return nil
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	result, err := c.transport.Request(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return errs.Wrap(errs.KindInvalidRequest, err, "appserver: decode "+method+" result")
	}
	return nil
}

// ThreadStartRequest / ThreadStartResult model thread/start.
type ThreadStartRequest struct {
	WorkspaceRoot string `json:"workspaceRoot"`
}
type ThreadStartResult struct {
	ThreadID string `json:"threadId"`
}

func (c *Client) ThreadStart(ctx context.Context, req ThreadStartRequest) (ThreadStartResult, error) {
	var out ThreadStartResult
	err := c.call(ctx, "thread/start", req, &out)
	return out, err
}

type ThreadResumeRequest struct {
	ThreadID string `json:"threadId"`
}

func (c *Client) ThreadResume(ctx context.Context, req ThreadResumeRequest) error {
	return c.call(ctx, "thread/resume", req, nil)
}

type ThreadReadRequest struct {
	ThreadID string `json:"threadId"`
}
type ThreadReadResult struct {
	Messages []json.RawMessage `json:"messages"`
}

func (c *Client) ThreadRead(ctx context.Context, req ThreadReadRequest) (ThreadReadResult, error) {
	var out ThreadReadResult
	err := c.call(ctx, "thread/read", req, &out)
	return out, err
}

type ThreadListResult struct {
	ThreadIDs []string `json:"threadIds"`
}

func (c *Client) ThreadList(ctx context.Context) (ThreadListResult, error) {
	var out ThreadListResult
	err := c.call(ctx, "thread/list", map[string]any{}, &out)
	return out, err
}

type TurnStartRequest struct {
	ThreadID string `json:"threadId"`
	Prompt   string `json:"prompt"`
}

func (c *Client) TurnStart(ctx context.Context, req TurnStartRequest) error {
	return c.call(ctx, "turn/start", req, nil)
}

type TurnInterruptRequest struct {
	ThreadID string `json:"threadId"`
}

func (c *Client) TurnInterrupt(ctx context.Context, req TurnInterruptRequest) error {
	return c.call(ctx, "turn/interrupt", req, nil)
}

type SkillsListResult struct {
	Skills []string `json:"skills"`
}

func (c *Client) SkillsList(ctx context.Context) (SkillsListResult, error) {
	var out SkillsListResult
	err := c.call(ctx, "skills/list", map[string]any{}, &out)
	return out, err
}

type SkillsConfigWriteRequest struct {
	Skill  string          `json:"skill"`
	Config json.RawMessage `json:"config"`
}

func (c *Client) SkillsConfigWrite(ctx context.Context, req SkillsConfigWriteRequest) error {
	if c.validator != nil {
		var configMap map[string]any
		if err := json.Unmarshal(req.Config, &configMap); err != nil {
			return errs.Wrap(errs.KindInvalidRequest, err, "appserver: decode skills config")
		}
		if err := c.validator.Validate("skills/config/write", configMap); err != nil {
			return err
		}
	}
	return c.call(ctx, "skills/config/write", req, nil)
}

// RawNotifications exposes the underlying transport's notification
// channel for the Codex lane worker.
func (c *Client) RawNotifications() <-chan json.RawMessage {
	out := make(chan json.RawMessage, cap(c.transport.Notifications()))
	go func() {
		defer close(out)
		for msg := range c.transport.Notifications() {
			b, _ := json.Marshal(map[string]any{"method": msg.Method, "params": msg.Params})
			out <- b
		}
	}()
	return out
}

// RawServerRequests exposes the underlying transport's server-request
// channel for the Codex lane worker. The transport has already sent the
// wire-level acknowledgement by the time a message arrives here; this
// channel exists only so the worker can surface the request as an Update.
func (c *Client) RawServerRequests() <-chan json.RawMessage {
	out := make(chan json.RawMessage, cap(c.transport.ServerRequests()))
	go func() {
		defer close(out)
		for msg := range c.transport.ServerRequests() {
			b, _ := json.Marshal(map[string]any{"method": msg.Method, "params": msg.Params})
			out <- b
		}
	}()
	return out
}
