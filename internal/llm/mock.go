// ABOUTME: Mock streaming provider echoing the last user message
// ABOUTME: Slow enough that cancellation mid-stream is reliably observable

package llm

import (
	"context"
	"strings"
	"time"
)

// MockProvider is the in-process generation stub. It echoes the last
// user message followed by filler, one rune at a time, with a short
// pause between fragments so cancellation has checkpoints to land on.
type MockProvider struct {
	// Delay between fragments. Defaults to 5ms when zero.
	Delay time.Duration
	// Response overrides the echo text when non-empty. Used by tests.
	Response string
}

// Stream implements Provider.
func (p *MockProvider) Stream(ctx context.Context, msgs []Message, onDelta func(delta string)) error {
	delay := p.Delay
	if delay == 0 {
		delay = 5 * time.Millisecond
	}

	text := p.Response
	if text == "" {
		var prompt string
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == RoleUser {
				prompt = msgs[i].Content
				break
			}
		}
		text = "Echo: " + prompt + " " + strings.Repeat(".", 200)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for _, r := range text {
		select {
		case <-ctx.Done():
			// advisory cancellation: stop without error
			return nil
		case <-timer.C:
		}
		onDelta(string(r))
		timer.Reset(delay)
	}
	return nil
}
