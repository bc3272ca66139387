// ABOUTME: Streaming chat session owning one duplex connection
// ABOUTME: Enforces single-active-turn, multiplexes reads against turn completion

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alphahub/hub/internal/events"
	"github.com/alphahub/hub/internal/ident"
	"github.com/alphahub/hub/internal/orchestrator"
	"github.com/alphahub/hub/internal/protocol"
)

// FrameConn is the transport a session runs over. ReadFrame returns
// one inbound payload; WriteFrame marshals and sends one outbound
// frame. Implementations need not be safe for concurrent writes — the
// session serializes them.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(v any) error
}

// TurnRunner is the orchestration seam. Satisfied by
// *orchestrator.Orchestrator; tests substitute fakes.
type TurnRunner interface {
	RunTurn(ctx context.Context, req orchestrator.Request, cb orchestrator.Callbacks) (orchestrator.Result, error)
}

// turnOutcome carries a finished turn back into the session loop.
type turnOutcome struct {
	result orchestrator.Result
	err    error
}

// Session owns one connection and serializes turns on it: at most one
// turn runs at a time, a second start is rejected with CONFLICT, and
// exactly one done frame terminates each turn.
type Session struct {
	conn                  FrameConn
	orch                  TurnRunner
	bus                   *events.Bus
	defaultConversationID string
	logger                *slog.Logger

	// writeMu serializes outbound frames: delta/status callbacks fire
	// on the turn goroutine while the loop writes rejections.
	writeMu sync.Mutex

	// in-flight turn state, owned by the Run loop
	traceID string
	cancel  context.CancelFunc
	done    chan turnOutcome
}

// New builds a session over conn. defaultConversationID (from the
// connect URL) backs start_turn frames that omit conversation_id.
func New(conn FrameConn, orch TurnRunner, bus *events.Bus, defaultConversationID string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn:                  conn,
		orch:                  orch,
		bus:                   bus,
		defaultConversationID: defaultConversationID,
		logger:                logger.With("component", "session"),
	}
}

// Run drives the session until the connection drops or ctx ends.
//
// The loop keeps exactly two operations pending: the connection read
// (a single reader goroutine feeding inbound — the connection is never
// read concurrently) and the current turn's completion. It reacts to
// whichever settles first and re-arms only that one, so new control
// frames are read while a turn is in flight.
func (s *Session) Run(ctx context.Context) error {
	inbound := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		for {
			raw, err := s.conn.ReadFrame()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case raw := <-inbound:
			s.handleFrame(ctx, raw)

		case out := <-s.doneCh():
			if err := s.finishTurn(out); err != nil {
				// durable log failure: the one application error that
				// ends the session
				return err
			}

		case err := <-readErr:
			s.handleDisconnect()
			s.logger.Debug("connection closed", "error", err)
			return nil

		case <-ctx.Done():
			s.handleDisconnect()
			return ctx.Err()
		}
	}
}

// doneCh returns the running turn's completion channel, or nil when
// idle — a nil channel never settles, which is exactly the idle case.
func (s *Session) doneCh() <-chan turnOutcome {
	return s.done
}

// handleFrame dispatches one inbound payload. Malformed input never
// terminates the session; it yields a terminal error frame addressed
// with the best-available trace id.
func (s *Session) handleFrame(ctx context.Context, raw []byte) {
	frame, perr := protocol.ParseFrame(raw)
	if perr != nil {
		traceID := protocol.PeekTraceID(raw)
		if traceID == "" {
			traceID = ident.NewTraceID()
		}
		s.sendErrorDone(traceID, perr)
		return
	}

	switch f := frame.(type) {
	case *protocol.StartTurnFrame:
		s.startTurn(ctx, f)
	case *protocol.CancelFrame:
		s.handleCancel(f)
	}
}

// startTurn launches one turn, or rejects it without disturbing the
// in-flight one.
func (s *Session) startTurn(ctx context.Context, f *protocol.StartTurnFrame) {
	traceID := f.TraceID
	if traceID == "" {
		traceID = ident.NewTraceID()
	}

	if s.done != nil {
		s.sendErrorDone(traceID, protocol.NewError(protocol.CodeConflict, "turn already running"))
		return
	}

	conversationID := f.ConversationID
	if conversationID == "" {
		conversationID = s.defaultConversationID
	}
	if conversationID == "" {
		s.sendErrorDone(traceID, protocol.NewError(protocol.CodeInvalidArgument, "conversation_id is required"))
		return
	}

	userMessageID := ident.NewID()
	s.publishReceived(traceID, conversationID, userMessageID, f.ClientRequestID)

	// The turn context is detached from the session context on purpose:
	// cancellation is an explicit, advisory act (cancel frame or
	// disconnect), never an implicit side effect of loop teardown
	// racing the turn.
	turnCtx, cancel := context.WithCancel(context.Background())
	s.traceID = traceID
	s.cancel = cancel
	s.done = make(chan turnOutcome, 1)

	req := orchestrator.Request{
		ConversationID:  conversationID,
		ContentText:     f.ContentText,
		Attachments:     f.Attachments,
		TraceID:         traceID,
		UserMessageID:   userMessageID,
		ClientRequestID: f.ClientRequestID,
	}
	cb := orchestrator.Callbacks{
		OnStatus: func(stage string) {
			s.send(protocol.StatusFrame{Type: protocol.TypeStatus, TraceID: traceID, Stage: stage})
		},
		OnDelta: func(delta string) {
			s.send(protocol.DeltaFrame{Type: protocol.TypeDelta, TraceID: traceID, Delta: delta})
		},
	}

	done := s.done
	go func() {
		result, err := s.orch.RunTurn(turnCtx, req, cb)
		done <- turnOutcome{result: result, err: err}
	}()

	s.logger.Debug("turn started", "trace_id", traceID, "conversation_id", conversationID)
}

// handleCancel sets the running turn's cancellation signal when the
// trace id matches. The done frame is emitted later, when the
// orchestration call actually returns — cancellation is advisory, not
// a forced abort.
func (s *Session) handleCancel(f *protocol.CancelFrame) {
	if s.done == nil {
		s.sendErrorDone(f.TraceID, protocol.NewError(protocol.CodeNotFound, "no running turn"))
		return
	}
	if f.TraceID != s.traceID {
		s.sendErrorDone(f.TraceID, protocol.NewError(protocol.CodeNotFound, "trace_id not running"))
		return
	}

	s.logger.Debug("turn cancellation requested", "trace_id", f.TraceID, "reason", f.Reason)
	s.cancel()
}

// finishTurn emits the terminal frame for the completed turn and
// returns to idle. A store-level error from the orchestrator is
// reported to the client and then propagated — the hub does not mask
// persistence failures.
func (s *Session) finishTurn(out turnOutcome) error {
	s.clearTurn()

	if out.err != nil {
		s.logger.Error("turn failed on persistence", "error", out.err)
		s.send(protocol.DoneFrame{
			Type:               protocol.TypeDone,
			TraceID:            out.result.TraceID,
			Reason:             protocol.ReasonError,
			CapabilityWarnings: []protocol.CapabilityWarning{},
			Error:              protocol.NewError(protocol.CodeUnavailable, "message log unavailable"),
		})
		return out.err
	}

	res := out.result
	frame := protocol.DoneFrame{
		Type:               protocol.TypeDone,
		TraceID:            res.TraceID,
		Reason:             res.Reason,
		Usage:              res.Usage,
		CapabilityWarnings: res.CapabilityWarnings,
		Error:              res.Err,
	}
	if frame.CapabilityWarnings == nil {
		frame.CapabilityWarnings = []protocol.CapabilityWarning{}
	}
	if res.AssistantMessage != nil {
		frame.MessageID = res.AssistantMessage.ID
	}
	s.send(frame)

	s.logger.Debug("turn finished", "trace_id", res.TraceID, "reason", res.Reason)
	return nil
}

// clearTurn releases the in-flight turn state.
func (s *Session) clearTurn() {
	if s.cancel != nil {
		s.cancel()
	}
	s.traceID = ""
	s.cancel = nil
	s.done = nil
}

// handleDisconnect handles an abrupt connection loss: set the
// cancellation signal and wait, best-effort, for the orchestration
// call to finish so the store is not abandoned mid-write. Any error
// from that wait is suppressed — there is no client left to tell.
func (s *Session) handleDisconnect() {
	if s.done == nil {
		return
	}
	s.cancel()
	<-s.done
	s.clearTurn()
}

// send writes one outbound frame, serialized across goroutines. Write
// failures are logged and dropped; the read side surfaces the broken
// transport.
func (s *Session) send(frame any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteFrame(frame); err != nil {
		s.logger.Debug("frame write failed", "error", err)
	}
}

// sendErrorDone emits a terminal error frame for a rejected request.
func (s *Session) sendErrorDone(traceID string, perr *protocol.Error) {
	s.send(protocol.DoneFrame{
		Type:               protocol.TypeDone,
		TraceID:            traceID,
		Reason:             protocol.ReasonError,
		CapabilityWarnings: []protocol.CapabilityWarning{},
		Error:              perr,
	})
}

// publishReceived announces an accepted user turn on the event bus.
func (s *Session) publishReceived(traceID, conversationID, messageID, idempotencyKey string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Topic("message.received"), events.Envelope{
		EventID:        ident.NewID(),
		TraceID:        traceID,
		OccurredAt:     time.Now().UTC(),
		Producer:       "core.session",
		Type:           "message.received",
		Version:        1,
		Privacy:        events.PrivacyNormal,
		NotifyPolicy:   events.NotifyNone,
		Payload:        map[string]any{"conversation_id": conversationID, "message_id": messageID},
		IdempotencyKey: idempotencyKey,
	})
}
