// ABOUTME: Tests for chat frame parsing and the wire error taxonomy
// ABOUTME: Exercises valid frames, schema violations and junk payloads

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame_StartTurn(t *testing.T) {
	raw := []byte(`{
		"type": "start_turn",
		"trace_id": "t1",
		"conversation_id": "c1",
		"content_text": "hello",
		"attachments": [{"id": "att-1"}],
		"client_request_id": "req-1"
	}`)

	frame, perr := ParseFrame(raw)
	require.Nil(t, perr)

	start, ok := frame.(*StartTurnFrame)
	require.True(t, ok)
	assert.Equal(t, "t1", start.TraceID)
	assert.Equal(t, "c1", start.ConversationID)
	assert.Equal(t, "hello", start.ContentText)
	assert.Equal(t, "req-1", start.ClientRequestID)
	require.Len(t, start.Attachments, 1)
	assert.Equal(t, "att-1", start.Attachments[0].ID)
}

func TestParseFrame_Cancel(t *testing.T) {
	frame, perr := ParseFrame([]byte(`{"type":"cancel","trace_id":"t1","reason":"user_requested"}`))
	require.Nil(t, perr)

	cancel, ok := frame.(*CancelFrame)
	require.True(t, ok)
	assert.Equal(t, "t1", cancel.TraceID)
	assert.Equal(t, "user_requested", cancel.Reason)
}

func TestParseFrame_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		message string
	}{
		{"invalid json", `{oops`, "invalid JSON"},
		{"non-object json", `"a string"`, "frame must be a JSON object"},
		{"array json", `[1,2,3]`, "frame must be a JSON object"},
		{"missing type", `{"trace_id":"t1"}`, "missing frame type"},
		{"unknown type", `{"type":"mystery"}`, `unknown frame type: "mystery"`},
		{"start without text", `{"type":"start_turn","trace_id":"t1"}`, "content_text is required"},
		{"cancel without trace", `{"type":"cancel"}`, "trace_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, perr := ParseFrame([]byte(tt.raw))
			assert.Nil(t, frame)
			require.NotNil(t, perr)
			assert.Equal(t, CodeInvalidArgument, perr.Code)
			assert.Equal(t, tt.message, perr.Message)
		})
	}
}

func TestPeekTraceID(t *testing.T) {
	assert.Equal(t, "t1", PeekTraceID([]byte(`{"type":"mystery","trace_id":"t1"}`)))
	assert.Empty(t, PeekTraceID([]byte(`{"type":"mystery"}`)))
	assert.Empty(t, PeekTraceID([]byte(`{broken`)))
}

func TestError_Error(t *testing.T) {
	perr := NewError(CodeConflict, "turn already running")
	assert.Equal(t, "CONFLICT: turn already running", perr.Error())

	perr = Errorf(CodeNotFound, "message %q not found", "m1")
	assert.Equal(t, `NOT_FOUND: message "m1" not found`, perr.Error())
}

func TestDoneFrame_JSONShape(t *testing.T) {
	frame := DoneFrame{
		Type:               TypeDone,
		TraceID:            "t1",
		Reason:             ReasonCompleted,
		MessageID:          "m1",
		Usage:              Usage{InputTokens: 3, OutputTokens: 7},
		CapabilityWarnings: []CapabilityWarning{},
	}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "done", decoded["type"])
	assert.Equal(t, "completed", decoded["reason"])
	// usage and warnings always appear, error is omitted when nil
	assert.Contains(t, decoded, "usage")
	assert.Contains(t, decoded, "capability_warnings")
	assert.NotContains(t, decoded, "error")

	warnings, ok := decoded["capability_warnings"].([]any)
	require.True(t, ok, "capability_warnings must encode as an array, not null")
	assert.Empty(t, warnings)
}
