package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaBase  = "http://localhost:11434"
	defaultOllamaModel = "llama2"
)

// OllamaConfig configures the self-hosted Ollama backend.
type OllamaConfig struct {
	// BaseURL is the Ollama server base URL. Defaults to localhost:11434.
	BaseURL string

	// Model is the model name to run. Defaults to llama2.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

// ollamaProvider implements Provider against the Ollama /api/chat endpoint.
//
// Ollama does not guarantee token counts in its response. When the
// prompt_eval_count / eval_count fields are absent, usage falls back to the
// character-count/4 estimate so all three counters are still populated and
// callers never branch on backend identity.
type ollamaProvider struct {
	cfg    OllamaConfig
	client *http.Client
	logger *slog.Logger
}

// NewOllama returns a Provider backed by a self-hosted Ollama server. The
// returned provider is safe for concurrent use. If logger is nil, the
// default slog logger is used.
func NewOllama(cfg OllamaConfig, logger *slog.Logger) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ollamaProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// --- Ollama wire types ---

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
	Stream   bool            `json:"stream"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

func (p *ollamaProvider) Name() string { return "ollama" }

// CompleteChat sends the prompt to the Ollama chat endpoint. Token counts
// come from the response when present, otherwise from the length estimate.
func (p *ollamaProvider) CompleteChat(ctx context.Context, messages []ChatMessage, opts CompleteOptions) (*Completion, error) {
	body := ollamaRequest{
		Model: p.cfg.Model,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
		Stream: false,
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/api/chat",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Err: fmt.Errorf("create http request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Err: err}
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Status: status, Err: fmt.Errorf("read response body: %w", err)}
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Status: status, Err: fmt.Errorf("decode API response: %w", err)}
	}

	if ollamaResp.Error != "" {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Status: status, Err: fmt.Errorf("API error: %s", ollamaResp.Error)}
	}
	if status >= 400 {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Status: status, Err: fmt.Errorf("unexpected HTTP status")}
	}

	text := ollamaResp.Message.Content

	inputTokens := ollamaResp.PromptEvalCount
	if inputTokens == 0 {
		inputTokens = estimateMessagesTokens(messages)
	}
	outputTokens := ollamaResp.EvalCount
	if outputTokens == 0 {
		outputTokens = estimateTokens(text)
	}

	return &Completion{
		Text: text,
		Usage: Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
	}, nil
}

// ExtractMemorySuggestions issues a single low-temperature completion asking
// for a JSON array of short factual statements. All failures are absorbed:
// the worst outcome is an empty slice.
func (p *ollamaProvider) ExtractMemorySuggestions(ctx context.Context, userMessage, botResponse string) []string {
	prompt := fmt.Sprintf(suggestionPromptTmpl, userMessage, botResponse)

	completion, err := p.CompleteChat(ctx,
		[]ChatMessage{{Role: "user", Content: prompt}},
		CompleteOptions{MaxTokens: suggestionMaxTokens, Temperature: suggestionTemperature},
	)
	if err != nil {
		p.logger.Warn("ollama: suggestion extraction failed", "err", err)
		return nil
	}
	return parseSuggestionList(completion.Text)
}

// Compile-time interface satisfaction check.
var _ Provider = (*ollamaProvider)(nil)
