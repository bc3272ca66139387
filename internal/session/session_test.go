// ABOUTME: Tests for streaming session concurrency and frame semantics
// ABOUTME: Covers single-flight, cancellation, malformed input and disconnect

package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphahub/hub/internal/events"
	"github.com/alphahub/hub/internal/orchestrator"
	"github.com/alphahub/hub/internal/protocol"
)

// pipeConn is an in-memory FrameConn driven by the test.
type pipeConn struct {
	in     chan []byte
	closed chan struct{}

	mu     sync.Mutex
	frames []any
	wrote  chan struct{} // signalled on every write
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
		wrote:  make(chan struct{}, 256),
	}
}

func (c *pipeConn) ReadFrame() ([]byte, error) {
	select {
	case raw := <-c.in:
		return raw, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *pipeConn) WriteFrame(v any) error {
	c.mu.Lock()
	c.frames = append(c.frames, v)
	c.mu.Unlock()
	c.wrote <- struct{}{}
	return nil
}

func (c *pipeConn) sendJSON(t *testing.T, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- raw
}

func (c *pipeConn) sendRaw(raw string) {
	c.in <- []byte(raw)
}

func (c *pipeConn) disconnect() {
	close(c.closed)
}

// waitForDone blocks until a done frame with the given trace id has
// been written, returning it.
func (c *pipeConn) waitForDone(t *testing.T, traceID string) protocol.DoneFrame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-c.wrote:
			c.mu.Lock()
			for _, f := range c.frames {
				if done, ok := f.(protocol.DoneFrame); ok && done.TraceID == traceID {
					c.mu.Unlock()
					return done
				}
			}
			c.mu.Unlock()
		case <-deadline:
			t.Fatalf("no done frame for trace %q", traceID)
		}
	}
}

func (c *pipeConn) snapshot() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.frames))
	copy(out, c.frames)
	return out
}

// fakeRunner scripts RunTurn behavior for session tests.
type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	release chan struct{} // when non-nil, RunTurn blocks until closed or ctx done
	result  orchestrator.Result
	err     error
	// emit streams these deltas through the callbacks before waiting
	emit []string
}

func (r *fakeRunner) RunTurn(ctx context.Context, req orchestrator.Request, cb orchestrator.Callbacks) (orchestrator.Result, error) {
	r.mu.Lock()
	r.calls++
	release := r.release
	r.mu.Unlock()

	if cb.OnStatus != nil {
		cb.OnStatus(protocol.StageQueued)
		cb.OnStatus(protocol.StageThinking)
		cb.OnStatus(protocol.StageStreaming)
	}
	for _, d := range r.emit {
		if cb.OnDelta != nil {
			cb.OnDelta(d)
		}
	}

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return orchestrator.Result{TraceID: req.TraceID, Reason: protocol.ReasonCancelled}, nil
		}
	}

	res := r.result
	if res.TraceID == "" {
		res.TraceID = req.TraceID
	}
	if res.Reason == "" {
		res.Reason = protocol.ReasonCompleted
	}
	return res, r.err
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func startSession(t *testing.T, conn *pipeConn, runner TurnRunner) chan error {
	t.Helper()
	sess := New(conn, runner, events.NewBus(), "c-default", nil)
	errCh := make(chan error, 1)
	go func() { errCh <- sess.Run(context.Background()) }()
	return errCh
}

func startFrame(traceID, text string) protocol.StartTurnFrame {
	return protocol.StartTurnFrame{
		Type:           protocol.TypeStartTurn,
		TraceID:        traceID,
		ConversationID: "c1",
		ContentText:    text,
	}
}

func TestSession_TurnCompletes(t *testing.T) {
	conn := newPipeConn()
	runner := &fakeRunner{emit: []string{"hel", "lo"}}
	errCh := startSession(t, conn, runner)

	conn.sendJSON(t, startFrame("t1", "hi"))
	done := conn.waitForDone(t, "t1")

	assert.Equal(t, protocol.ReasonCompleted, done.Reason)
	assert.Nil(t, done.Error)

	// frame order: statuses, then deltas, then done
	var kinds []string
	for _, f := range conn.snapshot() {
		switch f.(type) {
		case protocol.StatusFrame:
			kinds = append(kinds, "status")
		case protocol.DeltaFrame:
			kinds = append(kinds, "delta")
		case protocol.DoneFrame:
			kinds = append(kinds, "done")
		}
	}
	assert.Equal(t, []string{"status", "status", "status", "delta", "delta", "done"}, kinds)

	conn.disconnect()
	require.NoError(t, <-errCh)
}

func TestSession_SecondStartIsConflict(t *testing.T) {
	conn := newPipeConn()
	release := make(chan struct{})
	runner := &fakeRunner{release: release}
	errCh := startSession(t, conn, runner)

	conn.sendJSON(t, startFrame("t1", "first"))
	// wait until the first turn is actually running
	require.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, time.Millisecond)

	conn.sendJSON(t, startFrame("t2", "second"))
	done := conn.waitForDone(t, "t2")
	assert.Equal(t, protocol.ReasonError, done.Reason)
	require.NotNil(t, done.Error)
	assert.Equal(t, protocol.CodeConflict, done.Error.Code)

	// the in-flight turn is undisturbed and still completes
	close(release)
	first := conn.waitForDone(t, "t1")
	assert.Equal(t, protocol.ReasonCompleted, first.Reason)
	assert.Equal(t, 1, runner.callCount())

	conn.disconnect()
	require.NoError(t, <-errCh)
}

func TestSession_CancelMatchingTrace(t *testing.T) {
	conn := newPipeConn()
	runner := &fakeRunner{release: make(chan struct{})}
	errCh := startSession(t, conn, runner)

	conn.sendJSON(t, startFrame("t1", "hi"))
	require.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, time.Millisecond)

	conn.sendJSON(t, protocol.CancelFrame{Type: protocol.TypeCancel, TraceID: "t1"})
	done := conn.waitForDone(t, "t1")
	assert.Equal(t, protocol.ReasonCancelled, done.Reason)
	assert.Empty(t, done.MessageID)

	conn.disconnect()
	require.NoError(t, <-errCh)
}

func TestSession_CancelMismatchedTrace(t *testing.T) {
	conn := newPipeConn()
	release := make(chan struct{})
	runner := &fakeRunner{release: release}
	errCh := startSession(t, conn, runner)

	conn.sendJSON(t, startFrame("t1", "hi"))
	require.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, time.Millisecond)

	conn.sendJSON(t, protocol.CancelFrame{Type: protocol.TypeCancel, TraceID: "other"})
	rejected := conn.waitForDone(t, "other")
	require.NotNil(t, rejected.Error)
	assert.Equal(t, protocol.CodeNotFound, rejected.Error.Code)

	// the original turn still completes normally
	close(release)
	done := conn.waitForDone(t, "t1")
	assert.Equal(t, protocol.ReasonCompleted, done.Reason)

	conn.disconnect()
	require.NoError(t, <-errCh)
}

func TestSession_CancelWithNoRunningTurn(t *testing.T) {
	conn := newPipeConn()
	errCh := startSession(t, conn, &fakeRunner{})

	conn.sendJSON(t, protocol.CancelFrame{Type: protocol.TypeCancel, TraceID: "t1"})
	done := conn.waitForDone(t, "t1")
	require.NotNil(t, done.Error)
	assert.Equal(t, protocol.CodeNotFound, done.Error.Code)

	conn.disconnect()
	require.NoError(t, <-errCh)
}

func TestSession_MalformedInputKeepsConnectionOpen(t *testing.T) {
	conn := newPipeConn()
	runner := &fakeRunner{}
	errCh := startSession(t, conn, runner)

	cases := []string{
		`{not json`,
		`"just a string"`,
		`{"type":"mystery"}`,
		`{"type":"start_turn"}`,                // missing content_text
		`{"type":"cancel","trace_id":""}`,      // missing trace_id
		`{"type":"cancel","reason":"no-id"}`,   // missing trace_id
	}
	for _, raw := range cases {
		conn.sendRaw(raw)
	}

	// each malformed frame yields one INVALID_ARGUMENT done frame
	require.Eventually(t, func() bool {
		count := 0
		for _, f := range conn.snapshot() {
			if done, ok := f.(protocol.DoneFrame); ok {
				if assert.NotNil(t, done.Error) {
					assert.Equal(t, protocol.CodeInvalidArgument, done.Error.Code)
				}
				count++
			}
		}
		return count == len(cases)
	}, 2*time.Second, 5*time.Millisecond)

	// the session is still usable
	conn.sendJSON(t, startFrame("t1", "still alive"))
	done := conn.waitForDone(t, "t1")
	assert.Equal(t, protocol.ReasonCompleted, done.Reason)

	conn.disconnect()
	require.NoError(t, <-errCh)
}

func TestSession_MalformedFrameUsesBestAvailableTraceID(t *testing.T) {
	conn := newPipeConn()
	errCh := startSession(t, conn, &fakeRunner{})

	conn.sendRaw(`{"type":"mystery","trace_id":"t-known"}`)
	done := conn.waitForDone(t, "t-known")
	require.NotNil(t, done.Error)
	assert.Equal(t, protocol.CodeInvalidArgument, done.Error.Code)

	conn.disconnect()
	require.NoError(t, <-errCh)
}

func TestSession_DefaultConversationID(t *testing.T) {
	conn := newPipeConn()
	runner := &fakeRunner{}
	errCh := startSession(t, conn, runner)

	// no conversation_id in the frame: the session default applies
	conn.sendJSON(t, protocol.StartTurnFrame{Type: protocol.TypeStartTurn, TraceID: "t1", ContentText: "hi"})
	done := conn.waitForDone(t, "t1")
	assert.Equal(t, protocol.ReasonCompleted, done.Reason)

	conn.disconnect()
	require.NoError(t, <-errCh)
}

func TestSession_NoConversationIDAnywhere(t *testing.T) {
	conn := newPipeConn()
	sess := New(conn, &fakeRunner{}, events.NewBus(), "", nil)
	errCh := make(chan error, 1)
	go func() { errCh <- sess.Run(context.Background()) }()

	conn.sendJSON(t, protocol.StartTurnFrame{Type: protocol.TypeStartTurn, TraceID: "t1", ContentText: "hi"})
	done := conn.waitForDone(t, "t1")
	require.NotNil(t, done.Error)
	assert.Equal(t, protocol.CodeInvalidArgument, done.Error.Code)

	conn.disconnect()
	require.NoError(t, <-errCh)
}

func TestSession_DisconnectMidTurnCancelsAndWaits(t *testing.T) {
	conn := newPipeConn()
	observedCancel := make(chan struct{})
	runner := &blockingRunner{observedCancel: observedCancel}
	errCh := startSession(t, conn, runner)

	conn.sendJSON(t, startFrame("t1", "hi"))
	require.Eventually(t, func() bool { return runner.started.Load() }, time.Second, time.Millisecond)

	conn.disconnect()

	// the runner must observe cancellation and Run must wait for it
	select {
	case <-observedCancel:
	case <-time.After(2 * time.Second):
		t.Fatal("runner never observed cancellation after disconnect")
	}
	require.NoError(t, <-errCh)
}

func TestSession_StoreFailureClosesSession(t *testing.T) {
	conn := newPipeConn()
	storeErr := errors.New("disk full")
	runner := &fakeRunner{err: storeErr}
	errCh := startSession(t, conn, runner)

	conn.sendJSON(t, startFrame("t1", "hi"))
	done := conn.waitForDone(t, "t1")
	assert.Equal(t, protocol.ReasonError, done.Reason)
	require.NotNil(t, done.Error)
	assert.Equal(t, protocol.CodeUnavailable, done.Error.Code)

	// persistence failures are not masked: Run propagates the error
	err := <-errCh
	require.ErrorIs(t, err, storeErr)
}

// blockingRunner blocks until its context is cancelled, then reports.
type blockingRunner struct {
	started        atomicBool
	observedCancel chan struct{}
}

func (r *blockingRunner) RunTurn(ctx context.Context, req orchestrator.Request, cb orchestrator.Callbacks) (orchestrator.Result, error) {
	r.started.Store(true)
	<-ctx.Done()
	close(r.observedCancel)
	return orchestrator.Result{TraceID: req.TraceID, Reason: protocol.ReasonCancelled}, nil
}

// atomicBool avoids importing sync/atomic types piecemeal in tests.
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) Store(v bool) { b.mu.Lock(); b.v = v; b.mu.Unlock() }
func (b *atomicBool) Load() bool   { b.mu.Lock(); defer b.mu.Unlock(); return b.v }
