// Package autopilot implements the dispatch policy that chooses between a
// local app-server and a remote fallback lane, and journals every
// decision to an append-only replay queue.
//
// The decision table is grounded on the teacher's pkg/kernel/pdp's
// deterministic, clock-free ValidateDEFERResponse/CheckTimeout shape: a
// pure function from declared state to a structured decision with a
// reason code, no side effects, no wall-clock reads.
package autopilot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

// Mode selects which lane autopilot prefers.
type Mode string

const (
	ModeLocalFirst Mode = "local_first"
	ModeLocalOnly  Mode = "local_only"
	ModeRemoteOnly Mode = "remote_only"
)

// Lane is the chosen execution lane.
type Lane string

const (
	LaneLocalCodex     Lane = "local_codex"
	LaneRemoteFallback Lane = "remote_fallback"
)

// LocalCodexProbe is the result of probing the local app-server.
type LocalCodexProbe struct {
	Available bool
	Healthy   bool
	Reason    string
}

// Decision is the outcome of evaluating the dispatch table.
type Decision struct {
	Lane   Lane
	Reason string
}

// ErrLaneUnavailable is returned when local_only is requested and the
// local probe is unhealthy; there is no fallback lane to choose.
var ErrLaneUnavailable = errs.New(errs.KindServiceUnavailable, "autopilot: local lane unavailable and mode is local_only")

// Decide implements the dispatch table from the wire contract. It is
// total, deterministic, and has no side effects.
func Decide(mode Mode, probe LocalCodexProbe) (Decision, error) {
	switch mode {
	case ModeRemoteOnly:
		return Decision{Lane: LaneRemoteFallback, Reason: "dispatch_mode_remote_only"}, nil

	case ModeLocalFirst:
		if probe.Available && probe.Healthy {
			return Decision{Lane: LaneLocalCodex, Reason: "local_codex_healthy"}, nil
		}
		reason := probe.Reason
		if reason == "" {
			reason = "local_codex_unavailable"
		}
		return Decision{Lane: LaneRemoteFallback, Reason: reason}, nil

	case ModeLocalOnly:
		if probe.Available && probe.Healthy {
			return Decision{Lane: LaneLocalCodex, Reason: "local_codex_healthy"}, nil
		}
		return Decision{}, ErrLaneUnavailable

	default:
		return Decision{}, errs.Newf(errs.KindInvalidEnum, "autopilot: unknown dispatch mode %q", mode)
	}
}

// JournalEntry is one line of the append-only replay queue.
type JournalEntry struct {
	TimestampMs         int64  `json:"timestamp_ms"`
	DispatchMode        Mode   `json:"dispatch_mode"`
	Lane                Lane   `json:"lane"`
	Reason              string `json:"reason"`
	WorkspaceRoot       string `json:"workspace_root"`
	PromptSHA256        string `json:"prompt_sha256"`
	LocalCodexAvailable bool   `json:"local_codex_available"`
	LocalCodexHealthy   bool   `json:"local_codex_healthy"`
}

// PromptSHA256Hex hashes prompt text for the journal's prompt_sha256 field.
func PromptSHA256Hex(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Journal is an append-only JSON-lines replay queue. The parent directory
// is created on first write.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal returns a Journal writing to path.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Append writes one JSON line, creating the parent directory if needed.
func (j *Journal) Append(entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return errs.Wrap(errs.KindInternal, err, "autopilot: create journal directory")
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "autopilot: open journal")
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "autopilot: marshal journal entry")
	}
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		return errs.Wrap(errs.KindInternal, err, "autopilot: write journal entry")
	}
	return nil
}

// Prober spawns and shuts down a local app-server in a scratch working
// directory to determine LocalCodexProbe.
type Prober interface {
	Probe(ctx context.Context, scratchDir string) LocalCodexProbe
}

// Dispatcher wires Decide, a Prober, and a Journal into one entry point
// the runtime calls per inbound request that needs a lane decision.
type Dispatcher struct {
	mode       Mode
	prober     Prober
	journal    *Journal
	scratchDir string
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(mode Mode, prober Prober, journal *Journal, scratchDir string) *Dispatcher {
	return &Dispatcher{mode: mode, prober: prober, journal: journal, scratchDir: scratchDir}
}

// Dispatch probes the local lane, decides, and journals the decision
// before returning it.
func (d *Dispatcher) Dispatch(ctx context.Context, workspaceRoot, prompt string, nowMs int64) (Decision, error) {
	probe := d.prober.Probe(ctx, d.scratchDir)

	decision, err := Decide(d.mode, probe)

	entry := JournalEntry{
		TimestampMs:         nowMs,
		DispatchMode:        d.mode,
		Reason:              "",
		WorkspaceRoot:       workspaceRoot,
		PromptSHA256:        PromptSHA256Hex(prompt),
		LocalCodexAvailable: probe.Available,
		LocalCodexHealthy:   probe.Healthy,
	}
	if err != nil {
		entry.Reason = err.Error()
	} else {
		entry.Lane = decision.Lane
		entry.Reason = decision.Reason
	}
	_ = d.journal.Append(entry)

	return decision, err
}
