// ABOUTME: OpenAI-compatible streaming chat completions provider
// ABOUTME: Consumes SSE data lines and yields incremental delta text

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteConfig points the provider at an OpenAI-compatible endpoint.
type RemoteConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	StreamPath string
	Timeout    time.Duration
}

// RemoteProvider streams chat completions from an OpenAI-compatible
// server. Works against OpenAI itself or any compatible proxy.
type RemoteProvider struct {
	cfg    RemoteConfig
	client *http.Client
}

// NewRemoteProvider builds a provider with its own HTTP client.
func NewRemoteProvider(cfg RemoteConfig) *RemoteProvider {
	return &RemoteProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// chatRequest is the wire request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamChunk is one SSE payload. Some proxies put the delta text
// under "text" instead of "content"; both are accepted.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Text    string `json:"text"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *streamChunk) deltaText() string {
	if len(c.Choices) == 0 {
		return ""
	}
	if c.Choices[0].Delta.Content != "" {
		return c.Choices[0].Delta.Content
	}
	return c.Choices[0].Delta.Text
}

// Stream implements Provider. Cancellation propagates through ctx into
// the HTTP request; a cancelled stream ends without error.
func (p *RemoteProvider) Stream(ctx context.Context, msgs []Message, onDelta func(delta string)) error {
	url := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.StreamPath

	body := chatRequest{Model: p.cfg.Model, Stream: true}
	for _, m := range msgs {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("chat completions request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			// SSE keepalive blank lines and comments
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// tolerate malformed keepalive or vendor extension chunks
			continue
		}
		if delta := chunk.deltaText(); delta != "" {
			onDelta(delta)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("reading chat completions stream: %w", err)
	}
	return nil
}
