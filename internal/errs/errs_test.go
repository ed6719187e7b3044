package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

func TestCategoryMapping(t *testing.T) {
	e := errs.New(errs.KindSequenceConflict, "boom")
	assert.Equal(t, errs.CategoryIdempotency, e.Category())
}

func TestRetryable(t *testing.T) {
	assert.True(t, errs.New(errs.KindNetwork, "").Retryable())
	assert.False(t, errs.New(errs.KindInvalidRequest, "").Retryable())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("underlying")
	e := errs.Wrap(errs.KindDependencyUnavailable, cause, "db down")
	assert.ErrorIs(t, e, cause)
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE: db down", e.Error())
}

func TestOf_UnwrapsThroughFmtWrap(t *testing.T) {
	e := errs.New(errs.KindStaleCursor, "stale")
	wrapped := fmt.Errorf("context: %w", e)

	kind, ok := errs.Of(wrapped)
	assert.True(t, ok)
	assert.Equal(t, errs.KindStaleCursor, kind)
}

func TestOf_NotATaxonomyError(t *testing.T) {
	_, ok := errs.Of(errors.New("plain"))
	assert.False(t, ok)
}

func TestWithDetails(t *testing.T) {
	e := errs.New(errs.KindSequenceConflict, "mismatch").WithDetails(map[string]any{
		"expected_next_seq": 5, "actual_next_seq": 7,
	})
	assert.Equal(t, 5, e.Details["expected_next_seq"])
}
