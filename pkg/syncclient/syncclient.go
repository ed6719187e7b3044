// Package syncclient is the protocol-negotiating network client sitting
// in front of a syncstore.Store: it authorizes reducer calls against
// SyncSessionClaims, runs cursor continuity on subscribe, and computes
// reconnect backoff. A separate HTTP fallback client (reducer_http.go) talks to
// a remote reducer when no local store is wired.
package syncclient

import (
	"context"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/cursor"
	"github.com/pretyflaco/openagents-sub005/pkg/syncstore"
)

// SyncSessionClaims is the authorization envelope presented on every
// reducer call.
type SyncSessionClaims struct {
	SessionID      string
	Scopes         []string
	AllowedStreams []string // nil means "any stream in scope"
	IssuedAtMs     int64
	NotBeforeMs    int64
	ExpiresAtMs    int64
}

func (c SyncSessionClaims) hasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func (c SyncSessionClaims) grantsStream(streamID string) bool {
	if c.AllowedStreams == nil {
		return true
	}
	for _, s := range c.AllowedStreams {
		if s == streamID {
			return true
		}
	}
	return false
}

func (c SyncSessionClaims) authorize(nowMs int64, scope, streamID string) error {
	if nowMs < c.NotBeforeMs {
		return errs.New(errs.KindTokenNotYetValid, "syncclient: session not yet valid")
	}
	if nowMs >= c.ExpiresAtMs {
		return errs.New(errs.KindTokenExpired, "syncclient: session expired")
	}
	if !c.grantsStream(streamID) {
		return errs.Newf(errs.KindStreamNotGranted, "syncclient: stream_not_granted:%s", streamID).
			WithDetails(map[string]any{"stream_id": streamID})
	}
	if !c.hasScope(scope) {
		return errs.Newf(errs.KindMissingScope, "syncclient: missing scope %q", scope).
			WithDetails(map[string]any{"scope": scope})
	}
	return nil
}

// SubscribeRequest is the subscribe() input.
type SubscribeRequest struct {
	StreamID                  string
	AfterSeq                  uint64
	ConfirmedReadDurableFloor *int64
}

// SubscribeResult is the successful subscribe() outcome.
type SubscribeResult struct {
	Events       []syncstore.SyncEvent
	NextAfterSeq uint64
}

// StaleCursorError carries the same reason codes as cursor.Decision when
// continuity evaluation demanded a rebootstrap.
type StaleCursorError struct {
	ReasonCodes           []string
	ReplayLag             uint64
	ReplayBudgetEvents    uint64
	OldestAvailableCursor cursor.StreamCursor
	HeadCursor            cursor.StreamCursor
}

func (e *StaleCursorError) Error() string { return "syncclient: stale cursor" }

// ResumePlan is the resume_plan() output.
type ResumePlan struct {
	Cursor      cursor.StreamCursor
	Action      cursor.Action
	ReasonCodes []string
}

// WindowProvider supplies the current StreamWindow for a stream, e.g.
// backed by the reducer store's head/oldest/retention bookkeeping.
type WindowProvider interface {
	Window(ctx context.Context, streamID string) (*cursor.StreamWindow, error)
}

// Client is the sync stream client: reducer store + claims authorization
// + cursor continuity + protocol negotiation, all behind one type.
type Client struct {
	store              syncstore.Store
	windows            WindowProvider
	supportedProtocols []string
	negotiated         string
	backoffBaseMs      uint64
	backoffCapMs       uint64
}

// New builds a Client. supportedProtocols is the client's ordered
// preference list, most preferred first.
func New(store syncstore.Store, windows WindowProvider, supportedProtocols []string, backoffBaseMs, backoffCapMs uint64) *Client {
	return &Client{
		store:              store,
		windows:            windows,
		supportedProtocols: supportedProtocols,
		backoffBaseMs:      backoffBaseMs,
		backoffCapMs:       backoffCapMs,
	}
}

// NegotiateProtocol walks the client's ordered supported list and returns
// the first entry that also appears in serverSupported.
func (c *Client) NegotiateProtocol(serverSupported []string) (string, error) {
	supported := make(map[string]bool, len(serverSupported))
	for _, p := range serverSupported {
		supported[p] = true
	}
	for _, p := range c.supportedProtocols {
		if supported[p] {
			c.negotiated = p
			return p, nil
		}
	}
	return "", errs.New(errs.KindInvalidRequest, "syncclient: protocol negotiation failed")
}

// Subscribe authorizes and resolves a deliverable slice for a stream,
// running cursor continuity against the current window.
func (c *Client) Subscribe(ctx context.Context, claims SyncSessionClaims, req SubscribeRequest, nowMs int64) (*SubscribeResult, error) {
	if err := claims.authorize(nowMs, "sync.subscribe", req.StreamID); err != nil {
		return nil, err
	}

	window, err := c.windows.Window(ctx, req.StreamID)
	if err != nil {
		return nil, err
	}

	decision := cursor.Evaluate(cursor.StreamCursor{StreamID: req.StreamID, AfterSeq: req.AfterSeq}, window)
	if decision.Action == cursor.Rebootstrap {
		return nil, &StaleCursorError{
			ReasonCodes:           decision.ReasonCodes,
			ReplayLag:             decision.ReplayLag,
			ReplayBudgetEvents:    decision.ReplayBudgetEvents,
			OldestAvailableCursor: decision.OldestAvailableCursor,
			HeadCursor:            decision.HeadCursor,
		}
	}

	events, err := c.store.DeliverableStreamEvents(ctx, req.StreamID, req.AfterSeq, req.ConfirmedReadDurableFloor)
	if err != nil {
		return nil, err
	}

	next := req.AfterSeq
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}

	return &SubscribeResult{Events: events, NextAfterSeq: next}, nil
}

// AppendSyncEvent authorizes and forwards to the reducer store, surfacing
// SequenceConflict unchanged.
func (c *Client) AppendSyncEvent(ctx context.Context, claims SyncSessionClaims, req syncstore.AppendRequest, nowMs int64) (syncstore.AppendOutcome, error) {
	if err := claims.authorize(nowMs, "sync.append", req.StreamID); err != nil {
		return syncstore.AppendOutcome{}, err
	}
	return c.store.Append(ctx, req)
}

// AckCheckpoint authorizes and forwards a checkpoint write.
func (c *Client) AckCheckpoint(ctx context.Context, claims SyncSessionClaims, req syncstore.AckRequest, nowMs int64) (syncstore.SyncCheckpoint, error) {
	if err := claims.authorize(nowMs, "sync.checkpoint.write", req.StreamID); err != nil {
		return syncstore.SyncCheckpoint{}, err
	}
	return c.store.AckCheckpoint(ctx, req)
}

// ResumePlan computes the continuity decision without touching the store,
// for clients planning a reconnect before they have a live session.
func (c *Client) ResumePlan(streamCursor cursor.StreamCursor, window *cursor.StreamWindow) ResumePlan {
	d := cursor.Evaluate(streamCursor, window)
	return ResumePlan{Cursor: d.Cursor, Action: d.Action, ReasonCodes: d.ReasonCodes}
}

// ReconnectBackoffMs computes exponential backoff with the configured base
// and cap: min(cap, base * 2^min(attempt, 8)).
func (c *Client) ReconnectBackoffMs(attempt uint) uint64 {
	return ReconnectBackoffMs(c.backoffBaseMs, c.backoffCapMs, attempt)
}

// ReconnectBackoffMs is the pure backoff formula, exported so callers can
// use it without constructing a Client (e.g. RedisReconnectPacer).
func ReconnectBackoffMs(base, maxMs uint64, attempt uint) uint64 {
	shift := attempt
	if shift > 8 {
		shift = 8
	}
	delay := base << shift
	if delay > maxMs || delay < base {
		// overflow or exceeded cap
		return maxMs
	}
	return delay
}
