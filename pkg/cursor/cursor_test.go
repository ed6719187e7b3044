package cursor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pretyflaco/openagents-sub005/pkg/cursor"
)

func TestEvaluate_NoWindowKnown(t *testing.T) {
	d := cursor.Evaluate(cursor.StreamCursor{StreamID: "s1", AfterSeq: 3}, nil)
	assert.Equal(t, cursor.Rebootstrap, d.Action)
	assert.Equal(t, []string{cursor.ReasonNoWindowKnown}, d.ReasonCodes)
	assert.Equal(t, uint64(0), d.Cursor.AfterSeq)
}

func TestEvaluate_Resume(t *testing.T) {
	w := &cursor.StreamWindow{StreamID: "s1", OldestSeq: 1, HeadSeq: 10, ReplayBudgetEvents: 100}
	d := cursor.Evaluate(cursor.StreamCursor{StreamID: "s1", AfterSeq: 5}, w)
	assert.Equal(t, cursor.Resume, d.Action)
	assert.Equal(t, uint64(5), d.Cursor.AfterSeq)
	assert.Empty(t, d.ReasonCodes)
}

func TestEvaluate_CursorBeforeOldest(t *testing.T) {
	w := &cursor.StreamWindow{StreamID: "s1", OldestSeq: 5, HeadSeq: 10, ReplayBudgetEvents: 100}
	d := cursor.Evaluate(cursor.StreamCursor{StreamID: "s1", AfterSeq: 1}, w)
	assert.Equal(t, cursor.Rebootstrap, d.Action)
	assert.Contains(t, d.ReasonCodes, cursor.ReasonCursorBeforeOldest)
}

func TestEvaluate_CursorBeyondHead(t *testing.T) {
	w := &cursor.StreamWindow{StreamID: "s1", OldestSeq: 1, HeadSeq: 10, ReplayBudgetEvents: 100}
	d := cursor.Evaluate(cursor.StreamCursor{StreamID: "s1", AfterSeq: 20}, w)
	assert.Equal(t, cursor.Rebootstrap, d.Action)
	assert.Contains(t, d.ReasonCodes, cursor.ReasonCursorBeyondHead)
}

func TestEvaluate_ReplayBudgetExceeded(t *testing.T) {
	// spec.md scenario 2: replay budget = 2, append 5 events, subscribe at after_seq=0.
	w := &cursor.StreamWindow{StreamID: "s1", OldestSeq: 1, HeadSeq: 5, ReplayBudgetEvents: 2}
	d := cursor.Evaluate(cursor.StreamCursor{StreamID: "s1", AfterSeq: 0}, w)
	assert.Equal(t, cursor.Rebootstrap, d.Action)
	assert.Contains(t, d.ReasonCodes, cursor.ReasonReplayBudgetExceed)
	assert.Equal(t, uint64(1), d.OldestAvailableCursor.AfterSeq)
	assert.Equal(t, uint64(5), d.HeadCursor.AfterSeq)
	assert.Equal(t, uint64(5), d.ReplayLag)
}

func TestEvaluate_MultipleReasonsAccumulate(t *testing.T) {
	w := &cursor.StreamWindow{StreamID: "s1", OldestSeq: 10, HeadSeq: 20, ReplayBudgetEvents: 1}
	d := cursor.Evaluate(cursor.StreamCursor{StreamID: "s1", AfterSeq: 5}, w)
	assert.Equal(t, cursor.Rebootstrap, d.Action)
	assert.Contains(t, d.ReasonCodes, cursor.ReasonCursorBeforeOldest)
	assert.Contains(t, d.ReasonCodes, cursor.ReasonReplayBudgetExceed)
}

func TestEvaluate_IsPure(t *testing.T) {
	w := &cursor.StreamWindow{StreamID: "s1", OldestSeq: 1, HeadSeq: 10, ReplayBudgetEvents: 4}
	c := cursor.StreamCursor{StreamID: "s1", AfterSeq: 3}
	d1 := cursor.Evaluate(c, w)
	d2 := cursor.Evaluate(c, w)
	assert.Equal(t, d1, d2)
}
