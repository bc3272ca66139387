// ABOUTME: Turn orchestration: persist user message, drive generation, persist result
// ABOUTME: Guarantees one terminal Result per turn with cooperative cancellation

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alphahub/hub/internal/events"
	"github.com/alphahub/hub/internal/ident"
	"github.com/alphahub/hub/internal/llm"
	"github.com/alphahub/hub/internal/protocol"
	"github.com/alphahub/hub/internal/store"
)

// Request carries one user turn into RunTurn.
type Request struct {
	ConversationID  string
	ContentText     string
	Attachments     []protocol.AttachmentRef
	TraceID         string
	UserMessageID   string
	ClientRequestID string
}

// Callbacks receive progress while a turn runs. Nil funcs are
// tolerated. OnStatus fires in the fixed order queued, thinking,
// streaming; after streaming begins only OnDelta fires.
type Callbacks struct {
	OnStatus func(stage string)
	OnDelta  func(delta string)
}

func (cb Callbacks) status(stage string) {
	if cb.OnStatus != nil {
		cb.OnStatus(stage)
	}
}

func (cb Callbacks) delta(d string) {
	if cb.OnDelta != nil {
		cb.OnDelta(d)
	}
}

// Result is the terminal, immutable outcome of one turn.
type Result struct {
	TraceID            string
	UserMessage        *store.Message
	AssistantMessage   *store.Message
	Reason             string
	Usage              protocol.Usage
	CapabilityWarnings []protocol.CapabilityWarning
	Err                *protocol.Error
}

// Orchestrator runs turns against the message log and the generation
// capability. Distinct sessions share one Orchestrator and run turns
// in parallel; the store serializes the writes.
type Orchestrator struct {
	store        store.Store
	bus          *events.Bus
	provider     llm.Provider
	contextLimit int
	systemPrompt string
	logger       *slog.Logger
}

// New builds an Orchestrator. contextLimit is clamped to at least 1;
// an empty systemPrompt gets a sensible default.
func New(st store.Store, bus *events.Bus, provider llm.Provider, contextLimit int, systemPrompt string, logger *slog.Logger) *Orchestrator {
	if contextLimit < 1 {
		contextLimit = 1
	}
	if systemPrompt == "" {
		systemPrompt = "You are a helpful assistant."
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:        st,
		bus:          bus,
		provider:     provider,
		contextLimit: contextLimit,
		systemPrompt: systemPrompt,
		logger:       logger.With("component", "orchestrator"),
	}
}

// RunTurn executes one turn end to end: persist the user message,
// assemble bounded context, stream generation, persist the assistant
// message, and return a terminal Result.
//
// Cancellation is cooperative via ctx: it is checked at fragment
// boundaries and turn checkpoints, never enforced preemptively.
// Partial output streamed before a cancellation or a provider failure
// is never persisted.
//
// The returned error is non-nil only for store-level failures, which
// are fatal and not masked as a Result.
func (o *Orchestrator) RunTurn(ctx context.Context, req Request, cb Callbacks) (Result, error) {
	traceID := req.TraceID
	if traceID == "" {
		traceID = ident.NewTraceID()
	}
	userMessageID := req.UserMessageID
	if userMessageID == "" {
		userMessageID = ident.NewID()
	}

	// ctx carries the advisory cancellation signal, which only takes
	// effect at turn checkpoints. Store writes are never aborted by it:
	// a cancelled turn still persists its user message.
	dbCtx := context.WithoutCancel(ctx)

	userMsg, err := o.store.CreateMessage(dbCtx, &store.Message{
		ID:              userMessageID,
		ConversationID:  req.ConversationID,
		Role:            store.RoleUser,
		ContentText:     req.ContentText,
		ClientRequestID: req.ClientRequestID,
		Attachments:     req.Attachments,
	})
	if err != nil {
		return Result{}, fmt.Errorf("storing user message: %w", err)
	}
	o.publishStored(traceID, userMsg)

	msgs, err := o.assembleContext(dbCtx, req.ConversationID, userMsg.ID, req.ContentText)
	if err != nil {
		return Result{}, err
	}

	cb.status(protocol.StageQueued)
	if ctx.Err() != nil {
		return o.cancelledResult(traceID, userMsg), nil
	}

	cb.status(protocol.StageThinking)
	cb.status(protocol.StageStreaming)

	var out strings.Builder
	streamErr := o.provider.Stream(ctx, msgs, func(delta string) {
		// stop consuming once cancellation is observed; this is not
		// an error and already-sent fragments stand
		if ctx.Err() != nil {
			return
		}
		out.WriteString(delta)
		cb.delta(delta)
	})
	if streamErr != nil {
		o.logger.Warn("generation failed", "trace_id", traceID, "error", streamErr)
		return Result{
			TraceID:     traceID,
			UserMessage: userMsg,
			Reason:      protocol.ReasonError,
			CapabilityWarnings: []protocol.CapabilityWarning{
				{Name: "llm", Status: "down", Notify: events.NotifyExplicit},
			},
			Err: protocol.NewError(protocol.CodeUnavailable, streamErr.Error()),
		}, nil
	}

	if ctx.Err() != nil {
		// partial text already streamed to the client is not persisted
		return o.cancelledResult(traceID, userMsg), nil
	}

	assistantMsg, err := o.store.CreateMessage(dbCtx, &store.Message{
		ID:             ident.NewID(),
		ConversationID: req.ConversationID,
		Role:           store.RoleAssistant,
		ContentText:    out.String(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("storing assistant message: %w", err)
	}
	o.publishStored(traceID, assistantMsg)

	return Result{
		TraceID:          traceID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Reason:           protocol.ReasonCompleted,
		Usage: protocol.Usage{
			InputTokens:  wordCount(req.ContentText),
			OutputTokens: wordCount(out.String()),
		},
	}, nil
}

// assembleContext builds the provider input: the fixed system prompt,
// the last contextLimit messages of the conversation (minus the
// just-stored user message, to avoid duplicating it), and the current
// user text last.
func (o *Orchestrator) assembleContext(ctx context.Context, conversationID, userMessageID, contentText string) ([]llm.Message, error) {
	history, err := o.store.ListMessages(ctx, conversationID, store.ListOptions{Limit: o.contextLimit})
	if err != nil {
		return nil, fmt.Errorf("listing context messages: %w", err)
	}

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: o.systemPrompt}}
	for _, m := range history {
		if m.ID == userMessageID {
			continue
		}
		if m.Role != store.RoleUser && m.Role != store.RoleAssistant {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.ContentText})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: contentText})
	return msgs, nil
}

func (o *Orchestrator) cancelledResult(traceID string, userMsg *store.Message) Result {
	return Result{
		TraceID:     traceID,
		UserMessage: userMsg,
		Reason:      protocol.ReasonCancelled,
	}
}

// publishStored announces a persisted message on the event bus.
func (o *Orchestrator) publishStored(traceID string, msg *store.Message) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Topic("message.stored"), events.Envelope{
		EventID:      ident.NewID(),
		TraceID:      traceID,
		OccurredAt:   time.Now().UTC(),
		Producer:     "core.orchestrator",
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

// wordCount is the best-effort usage metric: whitespace-delimited
// words, not tokenizer output.
func wordCount(s string) int {
	return len(strings.Fields(s))
}
