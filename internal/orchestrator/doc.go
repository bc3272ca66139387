// Package orchestrator runs one conversational turn end to end.
//
// # Overview
//
// RunTurn is the single entry point. For each turn it:
//
//  1. Persists the user message (idempotent on client_request_id)
//  2. Assembles the model context: system prompt, recent history up to
//     the configured limit, then the current user text
//  3. Reports progress (queued, thinking, streaming) and streams
//     generated fragments through the callbacks
//  4. Persists the assistant message and computes usage
//
// # Failure Semantics
//
// Turn-level failures are values, not errors: a cancelled turn or an
// unavailable provider produces a Result with the corresponding reason,
// and any text streamed before the failure stays delivered but is never
// persisted. The error return is reserved for message log failures,
// which callers must treat as fatal rather than degrade around.
//
// Store writes run on a context detached from the turn's cancellation
// signal, so cancelling a turn can never corrupt or skip a write that
// has begun.
package orchestrator
