// Package llm provides the model-provider abstraction for Mira.
//
// Every backend exposes the same two capabilities: complete a chat prompt,
// and extract structured memory suggestions from one finished turn. Backends
// differ in transport and token accounting (the hosted DeepSeek API reports
// exact counts, a self-hosted Ollama server may not) but callers never
// branch on backend identity: all three usage counters are always populated.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// defaultTimeout caps a single upstream HTTP request.
	defaultTimeout = 30 * time.Second

	// suggestionMaxTokens is the output budget for a suggestion-extraction
	// call. Suggestions are short factual statements; a small budget keeps
	// the secondary call cheap.
	suggestionMaxTokens = 200

	// suggestionTemperature biases extraction toward determinism.
	suggestionTemperature = 0.3
)

// suggestionPromptTmpl asks the model for a JSON array of short factual
// statements and nothing else. Two verbs: user message, bot response.
const suggestionPromptTmpl = `Analyze the following conversation and suggest important memories that should be retained:

User: %s
AI: %s

Respond with a JSON array of memory suggestions. Each suggestion should be a concise statement about something important that should be remembered. Only return the JSON array with no other text.`

// ChatMessage is a single entry in a chat prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage holds the token counts for one completion call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Completion is the result of a chat completion call.
type Completion struct {
	Text  string
	Usage Usage
}

// CompleteOptions are the generation parameters for one completion call.
type CompleteOptions struct {
	MaxTokens   int
	Temperature float64
}

// Provider is the uniform interface to a model backend. Implementations
// must be safe for concurrent use.
type Provider interface {
	// Name identifies the backend (e.g. "deepseek", "ollama") for logging.
	Name() string

	// CompleteChat sends the ordered message sequence upstream and returns
	// the reply text plus token usage. Transport, auth, and malformed
	// response failures surface as a *ProviderError; callers do not retry.
	CompleteChat(ctx context.Context, messages []ChatMessage, opts CompleteOptions) (*Completion, error)

	// ExtractMemorySuggestions asks the model for candidate memories drawn
	// from one turn. It is best-effort: any upstream or parse failure
	// yields an empty slice, never an error that could fail the turn.
	ExtractMemorySuggestions(ctx context.Context, userMessage, botResponse string) []string
}

// ProviderError reports a transport, authentication, or malformed-response
// failure from a model backend. It is fatal to the current turn only.
type ProviderError struct {
	Backend string // backend name, e.g. "deepseek"
	Op      string // failing operation, e.g. "chat completion"
	Status  int    // HTTP status when known, else 0
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s failed (HTTP %d): %v", e.Backend, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ConfigError reports that the selected provider cannot be constructed from
// the current settings (e.g. a missing credential). It is fatal to the
// current turn only and is reported verbatim to the caller.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "llm: " + e.Reason
}

// parseSuggestionList decodes the model's suggestion output into a list of
// strings. Models frequently wrap their answer in a fenced code block, so a
// leading fence token (with or without a language tag) and the trailing
// fence are stripped before parsing. When the remainder is not a JSON
// array, the fallback is an empty slice, never an error.
func parseSuggestionList(raw string) []string {
	content := stripCodeFence(strings.TrimSpace(raw))

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		return nil
	}

	suggestions := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			// Non-string array entries are skipped rather than failing
			// the whole list.
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			suggestions = append(suggestions, s)
		}
	}
	return suggestions
}

// stripCodeFence removes a surrounding markdown code fence, if present.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the opening fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first == "" || isFenceTag(first) {
			s = s[idx+1:]
		}
	} else {
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
		return s
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// isFenceTag reports whether s looks like a fence language tag ("json",
// "JSON", etc.) rather than content.
func isFenceTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// estimateTokens returns a rough token count for a text blob using the
// ~4 characters per token English heuristic. Backends that do not report
// exact counts fall back to this so usage counters are always populated.
func estimateTokens(text string) int {
	const charsPerToken = 4
	if text == "" {
		return 0
	}
	n := len(text) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// estimateMessagesTokens sums estimateTokens over a prompt, adding a small
// per-message overhead for role framing.
func estimateMessagesTokens(messages []ChatMessage) int {
	const perMessageOverhead = 4
	total := 0
	for _, m := range messages {
		total += estimateTokens(m.Content) + perMessageOverhead
	}
	return total
}
