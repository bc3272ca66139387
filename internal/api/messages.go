// ABOUTME: Message create and list handlers for the non-streaming surface
// ABOUTME: Idempotent creation plus timestamp-cursor pagination

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alphahub/hub/internal/events"
	"github.com/alphahub/hub/internal/ident"
	"github.com/alphahub/hub/internal/protocol"
	"github.com/alphahub/hub/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// createMessageRequest is the JSON request body for POST /v1/messages.
type createMessageRequest struct {
	ConversationID  string                   `json:"conversation_id"`
	ContentText     string                   `json:"content_text"`
	Attachments     []protocol.AttachmentRef `json:"attachments"`
	ClientRequestID string                   `json:"client_request_id,omitempty"`
}

// messageRecord is the JSON shape of one stored message.
type messageRecord struct {
	ID              string                   `json:"id"`
	ConversationID  string                   `json:"conversation_id"`
	Role            string                   `json:"role"`
	ContentText     string                   `json:"content_text"`
	CreatedAt       string                   `json:"created_at_utc"`
	ClientRequestID string                   `json:"client_request_id,omitempty"`
	Attachments     []protocol.AttachmentRef `json:"attachments"`
}

func toMessageRecord(m *store.Message) messageRecord {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []protocol.AttachmentRef{}
	}
	return messageRecord{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		Role:            m.Role,
		ContentText:     m.ContentText,
		CreatedAt:       m.CreatedAt.UTC().Format(time.RFC3339),
		ClientRequestID: m.ClientRequestID,
		Attachments:     attachments,
	}
}

// handleCreateMessage handles POST /v1/messages: store one user
// message, idempotent on client_request_id. Streaming assistant
// responses go through the WebSocket surface instead.
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, protocol.CodeInvalidArgument, "invalid JSON body")
		return
	}
	if req.ConversationID == "" {
		s.writeError(w, http.StatusBadRequest, protocol.CodeInvalidArgument, "conversation_id is required")
		return
	}
	if req.ContentText == "" {
		s.writeError(w, http.StatusBadRequest, protocol.CodeInvalidArgument, "content_text is required")
		return
	}

	msg, err := s.store.CreateMessage(r.Context(), &store.Message{
		ID:              ident.NewID(),
		ConversationID:  req.ConversationID,
		Role:            store.RoleUser,
		ContentText:     req.ContentText,
		ClientRequestID: req.ClientRequestID,
		Attachments:     req.Attachments,
	})
	if err != nil {
		s.logger.Error("message create failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, protocol.CodeUnavailable, "message log unavailable")
		return
	}

	s.publishStored(msg)
	s.writeOK(w, map[string]any{"message": toMessageRecord(msg)})
}

// handleListMessages handles GET /v1/conversations/{id}/messages.
// Pagination: limit 1..200 (default 50); before is a message id whose
// created_at becomes the exclusive upper bound. next_before is present
// only when a full page was returned.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			s.writeError(w, http.StatusBadRequest, protocol.CodeInvalidArgument, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	opts := store.ListOptions{Limit: limit}
	if before := r.URL.Query().Get("before"); before != "" {
		cursor, err := s.store.GetMessage(r.Context(), before)
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, protocol.CodeNotFound, "before message not found")
			return
		}
		if err != nil {
			s.logger.Error("cursor lookup failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, protocol.CodeUnavailable, "message log unavailable")
			return
		}
		opts.Before = cursor.CreatedAt
	}

	msgs, err := s.store.ListMessages(r.Context(), conversationID, opts)
	if err != nil {
		s.logger.Error("message list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, protocol.CodeUnavailable, "message log unavailable")
		return
	}

	items := make([]messageRecord, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, toMessageRecord(m))
	}

	data := map[string]any{"items": items}
	if len(items) == limit {
		// a full page means there may be older history; the oldest
		// item anchors the next page
		data["next_before"] = items[0].ID
	}
	s.writeOK(w, data)
}

// publishStored announces a persisted message on the event bus.
func (s *Server) publishStored(msg *store.Message) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Topic("message.stored"), events.Envelope{
		EventID:      ident.NewID(),
		TraceID:      ident.NewTraceID(),
		OccurredAt:   time.Now().UTC(),
		Producer:     "core.api",
		Type:         "message.stored",
		Version:      1,
		Privacy:      events.PrivacyNormal,
		NotifyPolicy: events.NotifyNone,
		Payload: map[string]any{
			"conversation_id": msg.ConversationID,
			"message_id":      msg.ID,
			"role":            msg.Role,
		},
	})
}
