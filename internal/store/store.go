// ABOUTME: Store interface and message types for hub persistence
// ABOUTME: Defines the durable, ordered, idempotent conversation message log

package store

import (
	"context"
	"errors"
	"time"

	"github.com/alphahub/hub/internal/protocol"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Role constants for message authorship.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one immutable row of the conversation log. Attachments
// are opaque references; the bytes live in the blob store.
type Message struct {
	ID              string
	ConversationID  string
	Role            string
	ContentText     string
	CreatedAt       time.Time
	ClientRequestID string
	Attachments     []protocol.AttachmentRef
}

// ListOptions narrows a ListMessages call. The zero value lists the
// whole conversation in ascending time order.
type ListOptions struct {
	// Limit selects the most recent N messages. 0 means no limit.
	Limit int
	// Before excludes messages created at or after this instant.
	// The zero time means no upper bound.
	Before time.Time
}

// Store is the durable message log. Messages are append-only: never
// mutated or deleted by the hub.
type Store interface {
	// CreateMessage appends a message. When msg.ClientRequestID is
	// non-empty and a message already exists for (ConversationID,
	// ClientRequestID), the existing row is returned unchanged instead
	// of inserting a duplicate. The check-then-insert is atomic with
	// respect to concurrent callers. A zero msg.CreatedAt is stamped
	// with the current time; a non-zero one is honored (history
	// import), truncated to second precision either way.
	CreateMessage(ctx context.Context, msg *Message) (*Message, error)

	// GetMessage returns the message with the given id, or ErrNotFound.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListMessages returns messages of a conversation oldest first.
	ListMessages(ctx context.Context, conversationID string, opts ListOptions) ([]*Message, error)

	Close() error
}
