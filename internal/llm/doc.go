// Package llm provides the text generation capability behind turns.
//
// One Provider is selected from configuration at process start: the
// mock provider (echo with filler, used for development and tests) or
// the remote provider (OpenAI-compatible streaming chat completions).
// Remote mode with incomplete configuration falls back to mock rather
// than failing startup.
package llm
