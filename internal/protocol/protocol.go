// ABOUTME: Wire contract shared by the chat session, HTTP API and clients
// ABOUTME: Defines error codes, stages, frame structs and frame parsing

package protocol

import (
	"encoding/json"
	"fmt"
)

// Error codes used by terminal frames and HTTP error envelopes.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeConflict        = "CONFLICT"
	CodeNotFound        = "NOT_FOUND"
	CodeUnavailable     = "UNAVAILABLE"
)

// Stages reported by status frames, in the order a turn moves through
// them. No status frame follows StageStreaming; only deltas and the
// terminal done frame do.
const (
	StageQueued    = "queued"
	StageThinking  = "thinking"
	StageTool      = "tool"
	StageStreaming = "streaming"
	StageDone      = "done"
)

// Terminal reasons carried by done frames.
const (
	ReasonCompleted = "completed"
	ReasonCancelled = "cancelled"
	ReasonError     = "error"
)

// Inbound frame types.
const (
	TypeStartTurn = "start_turn"
	TypeCancel    = "cancel"
)

// Outbound frame types.
const (
	TypeStatus = "status"
	TypeDelta  = "delta"
	TypeDone   = "done"
)

// Error is a structured application error carried on the wire.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError builds a wire error with the given code.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf builds a wire error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AttachmentRef references stored attachment bytes by id. Messages own
// references, never the bytes.
type AttachmentRef struct {
	ID string `json:"id"`
}

// Usage holds best-effort token counts for one turn (whitespace word
// counts, not tokenizer-accurate).
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CapabilityWarning reports a degraded capability observed during a
// turn so clients can adjust their UX.
type CapabilityWarning struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Notify string `json:"notify"`
}

// StartTurnFrame asks the session to run one turn.
type StartTurnFrame struct {
	Type            string          `json:"type"`
	TraceID         string          `json:"trace_id,omitempty"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	ContentText     string          `json:"content_text"`
	Attachments     []AttachmentRef `json:"attachments,omitempty"`
	ClientRequestID string          `json:"client_request_id,omitempty"`
}

// CancelFrame requests cooperative cancellation of the running turn.
type CancelFrame struct {
	Type    string `json:"type"`
	TraceID string `json:"trace_id"`
	Reason  string `json:"reason,omitempty"`
}

// StatusFrame reports turn progress to the client.
type StatusFrame struct {
	Type     string   `json:"type"`
	TraceID  string   `json:"trace_id"`
	Stage    string   `json:"stage"`
	Detail   string   `json:"detail,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
}

// DeltaFrame carries one incremental fragment of generated text.
type DeltaFrame struct {
	Type    string `json:"type"`
	TraceID string `json:"trace_id"`
	Delta   string `json:"delta"`
}

// DoneFrame is the exactly-once terminal frame for a turn.
type DoneFrame struct {
	Type               string              `json:"type"`
	TraceID            string              `json:"trace_id"`
	Reason             string              `json:"reason"`
	MessageID          string              `json:"message_id,omitempty"`
	Usage              Usage               `json:"usage"`
	CapabilityWarnings []CapabilityWarning `json:"capability_warnings"`
	Error              *Error              `json:"error,omitempty"`
}

// frameProbe peeks at the fields needed to dispatch and address a frame
// before full validation.
type frameProbe struct {
	Type    string `json:"type"`
	TraceID string `json:"trace_id"`
}

// PeekTraceID extracts a trace id from a raw frame on a best-effort
// basis, for addressing error frames about payloads that failed to
// parse. Returns "" when none is recoverable.
func PeekTraceID(raw []byte) string {
	var probe frameProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.TraceID
}

// ParseFrame decodes one inbound control frame. It returns either a
// *StartTurnFrame or a *CancelFrame, or an INVALID_ARGUMENT Error for
// unparseable payloads, unknown types and schema violations. Malformed
// input is a frame-level failure, never a session-level one.
func ParseFrame(raw []byte) (any, *Error) {
	var probe frameProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		if !json.Valid(raw) {
			return nil, NewError(CodeInvalidArgument, "invalid JSON")
		}
		return nil, NewError(CodeInvalidArgument, "frame must be a JSON object")
	}

	switch probe.Type {
	case TypeStartTurn:
		var f StartTurnFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, Errorf(CodeInvalidArgument, "malformed start_turn frame: %v", err)
		}
		if f.ContentText == "" {
			return nil, NewError(CodeInvalidArgument, "content_text is required")
		}
		return &f, nil

	case TypeCancel:
		var f CancelFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, Errorf(CodeInvalidArgument, "malformed cancel frame: %v", err)
		}
		if f.TraceID == "" {
			return nil, NewError(CodeInvalidArgument, "trace_id is required")
		}
		return &f, nil

	case "":
		return nil, NewError(CodeInvalidArgument, "missing frame type")

	default:
		return nil, Errorf(CodeInvalidArgument, "unknown frame type: %q", probe.Type)
	}
}
