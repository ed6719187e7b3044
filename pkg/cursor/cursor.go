// Package cursor decides whether a subscribing client can resume a sync
// stream from its last acknowledged seq or must rebootstrap from scratch.
// The evaluator is pure and total: same inputs, same decision, every time,
// which is what lets the sync stream client reuse it on every subscribe
// without touching the reducer store's lock.
package cursor

// StreamCursor is a client's resume anchor into a single stream.
type StreamCursor struct {
	StreamID string
	AfterSeq uint64
}

// StreamWindow is the server's view of what is still replayable for a
// stream at evaluation time.
type StreamWindow struct {
	StreamID           string
	OldestSeq          uint64
	HeadSeq            uint64
	ReplayBudgetEvents uint64
}

// Stable reason codes, wire-visible.
const (
	ReasonNoWindowKnown      = "no_window_known"
	ReasonCursorBeforeOldest = "cursor_before_oldest"
	ReasonCursorBeyondHead   = "cursor_beyond_head"
	ReasonReplayBudgetExceed = "replay_budget_exceeded"
)

// Action is the outcome of continuity evaluation.
type Action int

const (
	Resume Action = iota
	Rebootstrap
)

func (a Action) String() string {
	if a == Resume {
		return "resume"
	}
	return "rebootstrap"
}

// Decision is the full result of Evaluate, covering both outcomes. Callers
// branch on Action; the Rebootstrap-only fields are zero-valued on Resume.
type Decision struct {
	Action                Action
	Cursor                StreamCursor
	ReasonCodes           []string
	ReplayLag             uint64
	ReplayBudgetEvents    uint64
	OldestAvailableCursor StreamCursor
	HeadCursor            StreamCursor
}

// Evaluate runs the four continuity rules in order, accumulating reason
// codes, against an optional window (nil means "no window known for this
// stream yet").
func Evaluate(c StreamCursor, window *StreamWindow) Decision {
	if window == nil {
		return Decision{
			Action:      Rebootstrap,
			Cursor:      StreamCursor{StreamID: c.StreamID, AfterSeq: 0},
			ReasonCodes: []string{ReasonNoWindowKnown},
		}
	}

	var reasons []string
	if c.AfterSeq < window.OldestSeq {
		reasons = append(reasons, ReasonCursorBeforeOldest)
	}
	if c.AfterSeq > window.HeadSeq {
		reasons = append(reasons, ReasonCursorBeyondHead)
	}

	var replayLag uint64
	if window.HeadSeq > c.AfterSeq {
		replayLag = window.HeadSeq - c.AfterSeq
	}
	if replayLag > window.ReplayBudgetEvents {
		reasons = append(reasons, ReasonReplayBudgetExceed)
	}

	if len(reasons) == 0 {
		return Decision{Action: Resume, Cursor: c}
	}

	return Decision{
		Action:                Rebootstrap,
		Cursor:                StreamCursor{StreamID: c.StreamID, AfterSeq: 0},
		ReasonCodes:           reasons,
		ReplayLag:             replayLag,
		ReplayBudgetEvents:    window.ReplayBudgetEvents,
		OldestAvailableCursor: StreamCursor{StreamID: c.StreamID, AfterSeq: window.OldestSeq},
		HeadCursor:            StreamCursor{StreamID: c.StreamID, AfterSeq: window.HeadSeq},
	}
}
