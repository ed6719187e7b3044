// Package codexworker implements the single-threaded actor that owns an
// appserver.Client for its entire lifetime and bridges it to UI consumers
// through a control/update channel pair.
//
// Grounded on the teacher's pkg/bridge.KernelBridge composition style (one
// struct owning several collaborators behind a single entry point) and
// pkg/runtime.ClassifyError's substring-based error taxonomy, reused here
// to classify disconnect-pattern errors.
package codexworker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pretyflaco/openagents-sub005/pkg/appserver"
)

// Lifecycle is the worker's externally visible state.
type Lifecycle string

const (
	LifecycleStarting     Lifecycle = "starting"
	LifecycleReady        Lifecycle = "ready"
	LifecycleDisconnected Lifecycle = "disconnected"
	LifecycleError        Lifecycle = "error"
	LifecycleStopped      Lifecycle = "stopped"
)

// disconnectPatterns is the bounded denylist of substrings that mark an
// error as a transport disconnect rather than an application failure.
var disconnectPatterns = []string{
	"connection closed",
	"channel closed",
	"broken pipe",
	"app-server write failed",
	"request canceled",
}

// isDisconnectPattern reports whether err's message matches the bounded
// disconnect denylist. Intentionally loose; may over-match vendor-specific
// error text.
func isDisconnectPattern(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range disconnectPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// CommandStatus is one of the three stable dispatch outcomes.
type CommandStatus string

const (
	StatusAccepted  CommandStatus = "accepted"
	StatusRejected  CommandStatus = "rejected"
	StatusRetryable CommandStatus = "retryable"
)

// CommandKind enumerates the commands the worker accepts on its control
// channel.
type CommandKind string

const (
	CommandThreadStart     CommandKind = "thread_start"
	CommandThreadResume    CommandKind = "thread_resume"
	CommandThreadList      CommandKind = "thread_list"
	CommandTurnStart       CommandKind = "turn_start"
	CommandTurnInterrupt   CommandKind = "turn_interrupt"
	CommandSkillsList      CommandKind = "skills_list"
	CommandSkillsConfigure CommandKind = "skills_configure"
)

// Command is a producer-assigned unit of work crossing the control
// channel. CommandSeq must be monotonically increasing per producer.
type Command struct {
	CommandSeq int64
	Kind       CommandKind
	ThreadID   string
	Prompt     string
	Skill      string
	Config     json.RawMessage
}

// ShutdownCommand, sent on the same control channel, tells the worker to
// shut down its client and stop.
type ShutdownCommand struct{}

// ControlMessage is the tagged union crossing the control channel.
type ControlMessage struct {
	Command  *Command
	Shutdown *ShutdownCommand
}

// CommandResponse is always emitted exactly once per dispatched Command.
type CommandResponse struct {
	CommandSeq int64
	Kind       CommandKind
	Status     CommandStatus
	Error      string
}

// Snapshot is the worker's point-in-time state, emitted on every
// lifecycle transition and after every command dispatched to the client.
// Commands refused in the Disconnected or Error state get a
// CommandResponse but no snapshot.
type Snapshot struct {
	Lifecycle      Lifecycle
	ActiveThreadID string
	ThreadIDs      []string
	LastError      string
	LastStatus     CommandStatus
}

// NotificationKind enumerates the typed variants raw {method, params}
// notifications are translated into.
type NotificationKind string

const (
	NotificationThreadStarted     NotificationKind = "thread_started"
	NotificationTurnStarted       NotificationKind = "turn_started"
	NotificationAgentMessageDelta NotificationKind = "agent_message_delta"
	NotificationTurnCompleted     NotificationKind = "turn_completed"
	NotificationTurnError         NotificationKind = "turn_error"
	NotificationRaw               NotificationKind = "raw"
)

// Notification is a normalized update derived from the transport's raw
// notification stream.
type Notification struct {
	Kind     NotificationKind
	ThreadID string
	Delta    string
	RawJSON  json.RawMessage
}

// ServerRequest surfaces a server-originated request the transport already
// acknowledged with the universal stub.
type ServerRequest struct {
	Method string
}

// Update is the tagged union crossing the outbound update channel.
type Update struct {
	Snapshot        *Snapshot
	CommandResponse *CommandResponse
	Notification    *Notification
	ServerRequest   *ServerRequest
}

// Config controls the worker's startup behavior.
type Config struct {
	BootstrapThread  bool
	WorkspaceRoot    string
	ClientInfo       appserver.ClientInfo
	PollInterval     time.Duration
	UpdateBufferSize int
}

// Worker is the single-threaded actor. Run owns the client and the
// transport for the actor's entire lifetime; no other goroutine may touch
// them.
type Worker struct {
	client       *appserver.Client
	cfg          Config
	control      chan ControlMessage
	updates      chan Update
	rawNotifs    <-chan json.RawMessage
	rawServerReq <-chan json.RawMessage

	snapshot   Snapshot
	snapshotMu sync.Mutex
}

// LastSnapshot returns the most recently computed Snapshot. Safe to call
// from any goroutine, including while Run is active.
func (w *Worker) LastSnapshot() Snapshot {
	w.snapshotMu.Lock()
	defer w.snapshotMu.Unlock()
	return w.snapshot
}

// New constructs a Worker bound to client. Run must be called exactly
// once, in its own goroutine, to drive the actor loop.
func New(client *appserver.Client, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 80 * time.Millisecond
	}
	if cfg.UpdateBufferSize <= 0 {
		cfg.UpdateBufferSize = 64
	}
	return &Worker{
		client:       client,
		cfg:          cfg,
		control:      make(chan ControlMessage),
		updates:      make(chan Update, cfg.UpdateBufferSize),
		rawNotifs:    client.RawNotifications(),
		rawServerReq: client.RawServerRequests(),
		snapshot:     Snapshot{Lifecycle: LifecycleStarting},
	}
}

// Control returns the inbound channel for Command/Shutdown messages.
func (w *Worker) Control() chan<- ControlMessage { return w.control }

// Updates returns the outbound channel carrying Snapshot, CommandResponse,
// and Notification updates.
func (w *Worker) Updates() <-chan Update { return w.updates }

func (w *Worker) emit(u Update) {
	select {
	case w.updates <- u:
	default:
		// Bounded channel full: drop rather than block the actor loop.
	}
}

// mutateSnapshot applies fn under the snapshot lock and emits the result.
// Only the actor goroutine (Run and its callees) may call this.
func (w *Worker) mutateSnapshot(fn func(*Snapshot)) {
	w.snapshotMu.Lock()
	fn(&w.snapshot)
	snap := w.snapshot
	w.snapshotMu.Unlock()
	w.emit(Update{Snapshot: &snap})
}

// Run drives the actor loop: it completes the Starting transition, then
// alternates between draining transport updates and waiting on the
// control channel with a short timeout, until a Shutdown control message
// arrives or the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	w.start(ctx)

	for {
		w.drainTransport()

		select {
		case <-ctx.Done():
			w.stop(ctx)
			return
		case msg := <-w.control:
			if msg.Shutdown != nil {
				w.stop(ctx)
				return
			}
			if msg.Command != nil {
				w.dispatch(ctx, *msg.Command)
			}
		case <-time.After(w.cfg.PollInterval):
			// Timeout: loop back to drain server updates again.
		}
	}
}

func (w *Worker) start(ctx context.Context) {
	if err := w.client.Initialize(ctx, w.cfg.ClientInfo); err != nil {
		w.mutateSnapshot(func(s *Snapshot) {
			s.Lifecycle = LifecycleError
			s.LastError = err.Error()
		})
		return
	}

	if !w.cfg.BootstrapThread {
		w.mutateSnapshot(func(s *Snapshot) { s.Lifecycle = LifecycleReady })
		return
	}

	out, err := w.client.ThreadStart(ctx, appserver.ThreadStartRequest{WorkspaceRoot: w.cfg.WorkspaceRoot})
	if err != nil {
		w.mutateSnapshot(func(s *Snapshot) {
			s.Lifecycle = LifecycleError
			s.LastError = err.Error()
		})
		return
	}

	w.mutateSnapshot(func(s *Snapshot) {
		s.Lifecycle = LifecycleReady
		s.ActiveThreadID = out.ThreadID
		s.ThreadIDs = []string{out.ThreadID}
	})
	w.emit(Update{Notification: &Notification{Kind: NotificationThreadStarted, ThreadID: out.ThreadID}})
	w.emit(Update{Notification: &Notification{Kind: NotificationRaw, ThreadID: out.ThreadID}})
}

func (w *Worker) stop(ctx context.Context) {
	_ = w.client.Shutdown()
	w.mutateSnapshot(func(s *Snapshot) { s.Lifecycle = LifecycleStopped })
}

// dispatch always produces exactly one CommandResponse, even on failure.
func (w *Worker) dispatch(ctx context.Context, cmd Command) {
	if lc := w.LastSnapshot().Lifecycle; lc == LifecycleDisconnected || lc == LifecycleError {
		w.respond(cmd, StatusRetryable, "")
		return
	}

	err := w.execute(ctx, cmd)
	if err == nil {
		w.mutateSnapshot(func(s *Snapshot) { s.LastStatus = StatusAccepted })
		w.respond(cmd, StatusAccepted, "")
		return
	}

	if isDisconnectPattern(err) {
		w.mutateSnapshot(func(s *Snapshot) {
			s.Lifecycle = LifecycleDisconnected
			s.LastError = err.Error()
			s.LastStatus = StatusRetryable
		})
		w.respond(cmd, StatusRetryable, err.Error())
		return
	}

	w.mutateSnapshot(func(s *Snapshot) {
		s.Lifecycle = LifecycleError
		s.LastError = err.Error()
		s.LastStatus = StatusRejected
	})
	w.respond(cmd, StatusRejected, err.Error())
}

func (w *Worker) respond(cmd Command, status CommandStatus, errMsg string) {
	w.emit(Update{CommandResponse: &CommandResponse{
		CommandSeq: cmd.CommandSeq,
		Kind:       cmd.Kind,
		Status:     status,
		Error:      errMsg,
	}})
}

func (w *Worker) execute(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CommandThreadStart:
		out, err := w.client.ThreadStart(ctx, appserver.ThreadStartRequest{WorkspaceRoot: w.cfg.WorkspaceRoot})
		if err != nil {
			return err
		}
		w.mutateSnapshot(func(s *Snapshot) {
			s.ActiveThreadID = out.ThreadID
			s.ThreadIDs = append(s.ThreadIDs, out.ThreadID)
		})
		w.emit(Update{Notification: &Notification{Kind: NotificationThreadStarted, ThreadID: out.ThreadID}})
		return nil

	case CommandThreadResume:
		if err := w.client.ThreadResume(ctx, appserver.ThreadResumeRequest{ThreadID: cmd.ThreadID}); err != nil {
			return err
		}
		w.mutateSnapshot(func(s *Snapshot) { s.ActiveThreadID = cmd.ThreadID })
		return nil

	case CommandThreadList:
		out, err := w.client.ThreadList(ctx)
		if err != nil {
			return err
		}
		w.mutateSnapshot(func(s *Snapshot) { s.ThreadIDs = out.ThreadIDs })
		w.emit(Update{Notification: &Notification{Kind: NotificationRaw}})
		return nil

	case CommandTurnStart:
		if err := w.client.TurnStart(ctx, appserver.TurnStartRequest{ThreadID: cmd.ThreadID, Prompt: cmd.Prompt}); err != nil {
			return err
		}
		w.emit(Update{Notification: &Notification{Kind: NotificationTurnStarted, ThreadID: cmd.ThreadID}})
		return nil

	case CommandTurnInterrupt:
		return w.client.TurnInterrupt(ctx, appserver.TurnInterruptRequest{ThreadID: cmd.ThreadID})

	case CommandSkillsList:
		_, err := w.client.SkillsList(ctx)
		return err

	case CommandSkillsConfigure:
		return w.client.SkillsConfigWrite(ctx, appserver.SkillsConfigWriteRequest{Skill: cmd.Skill, Config: cmd.Config})

	default:
		return nil
	}
}

// drainTransport pulls every currently-queued raw notification and server
// request off the client's transport and translates/forwards them.
func (w *Worker) drainTransport() {
	for {
		select {
		case raw, ok := <-w.rawNotifs:
			if !ok {
				return
			}
			w.emit(Update{Notification: translateNotification(raw)})
		case raw, ok := <-w.rawServerReq:
			if !ok {
				return
			}
			w.emit(Update{ServerRequest: translateServerRequest(raw)})
		default:
			return
		}
	}
}

func translateServerRequest(raw json.RawMessage) *ServerRequest {
	var envelope struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(raw, &envelope)
	return &ServerRequest{Method: envelope.Method}
}

func translateNotification(raw json.RawMessage) *Notification {
	var envelope struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &Notification{Kind: NotificationRaw, RawJSON: raw}
	}

	switch envelope.Method {
	case "thread/started":
		return &Notification{Kind: NotificationThreadStarted, RawJSON: envelope.Params}
	case "turn/started":
		return &Notification{Kind: NotificationTurnStarted, RawJSON: envelope.Params}
	case "turn/agent_message_delta":
		var payload struct {
			Delta string `json:"delta"`
		}
		_ = json.Unmarshal(envelope.Params, &payload)
		return &Notification{Kind: NotificationAgentMessageDelta, Delta: payload.Delta, RawJSON: envelope.Params}
	case "turn/completed":
		return &Notification{Kind: NotificationTurnCompleted, RawJSON: envelope.Params}
	case "turn/error":
		return &Notification{Kind: NotificationTurnError, RawJSON: envelope.Params}
	default:
		return &Notification{Kind: NotificationRaw, RawJSON: raw}
	}
}
