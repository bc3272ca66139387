// Package session implements the streaming chat session over a duplex
// connection.
//
// # Overview
//
// A Session owns exactly one connection for its lifetime and enforces
// the hub's concurrency rule: at most one turn runs per connection. It
// sits between the transport (internal/api adapts WebSocket
// connections to FrameConn) and the orchestrator, translating inbound
// control frames into turn executions and turn progress into outbound
// frames.
//
// # Frame Flow
//
// Inbound frames:
//
//   - start_turn: run one turn; rejected with CONFLICT while another
//     turn is in flight
//   - cancel: request cooperative cancellation of the running turn,
//     matched by trace_id
//
// Outbound frames, per turn:
//
//  1. status (queued, thinking, streaming)
//  2. zero or more delta frames with incremental text
//  3. exactly one done frame (completed, cancelled or error)
//
// Malformed or unknown inbound frames produce a done frame with
// reason=error and never terminate the session.
//
// # Concurrency
//
// The Run loop multiplexes two pending operations: the connection read
// (a single reader goroutine, so the connection is never read
// concurrently) and the running turn's completion. Control frames are
// therefore handled while a turn streams, which is what makes
// mid-stream cancellation possible.
//
// Cancellation is advisory: a cancel frame (or a disconnect) signals
// the turn's context and the done frame is emitted when the
// orchestration call actually returns. On disconnect the session
// signals cancellation and waits for the turn so the message log is
// never abandoned mid-write.
package session
