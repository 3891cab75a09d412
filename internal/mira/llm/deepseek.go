package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultDeepSeekBase  = "https://api.deepseek.com/v1"
	defaultDeepSeekModel = "deepseek-chat"
)

// DeepSeekConfig configures the hosted DeepSeek backend.
type DeepSeekConfig struct {
	// APIKey is the bearer token used to authenticate against the API.
	// Required.
	APIKey string

	// BaseURL overrides the API endpoint. Useful for any other
	// OpenAI-compatible hosted service. Defaults to the DeepSeek API.
	BaseURL string

	// Model is the chat model to use. Defaults to deepseek-chat.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

// deepSeekProvider implements Provider against the DeepSeek chat
// completions API (OpenAI-compatible wire format). The response envelope
// carries exact prompt/completion token counts, so usage is never
// estimated on this backend.
type deepSeekProvider struct {
	cfg    DeepSeekConfig
	client *http.Client
	logger *slog.Logger
}

// NewDeepSeek returns a Provider backed by the DeepSeek chat API. The
// returned provider is safe for concurrent use. If logger is nil, the
// default slog logger is used.
func NewDeepSeek(cfg DeepSeekConfig, logger *slog.Logger) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepSeekBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultDeepSeekModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &deepSeekProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// --- minimal OpenAI-compatible wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   *oaiUsage   `json:"usage,omitempty"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message oaiMessage `json:"message"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (p *deepSeekProvider) Name() string { return "deepseek" }

// CompleteChat sends the prompt to the chat completions endpoint and returns
// the reply with exact token counts from the response envelope.
func (p *deepSeekProvider) CompleteChat(ctx context.Context, messages []ChatMessage, opts CompleteOptions) (*Completion, error) {
	body := oaiRequest{
		Model:       p.cfg.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, oaiMessage{Role: m.Role, Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Err: fmt.Errorf("create http request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

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

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Status: status, Err: fmt.Errorf("decode API response: %w", err)}
	}

	if oaiResp.Error != nil {
		return nil, &ProviderError{
			Backend: p.Name(), Op: "chat completion", Status: status,
			Err: fmt.Errorf("API error (%s): %s", oaiResp.Error.Type, oaiResp.Error.Message),
		}
	}
	if status >= 400 {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Status: status, Err: fmt.Errorf("unexpected HTTP status")}
	}
	if len(oaiResp.Choices) == 0 {
		return nil, &ProviderError{Backend: p.Name(), Op: "chat completion", Status: status, Err: fmt.Errorf("no choices returned")}
	}

	completion := &Completion{Text: oaiResp.Choices[0].Message.Content}
	if u := oaiResp.Usage; u != nil {
		completion.Usage = Usage{
			InputTokens:  u.PromptTokens,
			OutputTokens: u.CompletionTokens,
			TotalTokens:  u.PromptTokens + u.CompletionTokens,
		}
	}
	return completion, nil
}

// ExtractMemorySuggestions issues a single low-temperature completion asking
// for a JSON array of short factual statements. All failures are absorbed:
// the worst outcome is an empty slice.
func (p *deepSeekProvider) ExtractMemorySuggestions(ctx context.Context, userMessage, botResponse string) []string {
	prompt := fmt.Sprintf(suggestionPromptTmpl, userMessage, botResponse)

	completion, err := p.CompleteChat(ctx,
		[]ChatMessage{{Role: "user", Content: prompt}},
		CompleteOptions{MaxTokens: suggestionMaxTokens, Temperature: suggestionTemperature},
	)
	if err != nil {
		p.logger.Warn("deepseek: suggestion extraction failed", "err", err)
		return nil
	}
	return parseSuggestionList(completion.Text)
}

// Compile-time interface satisfaction check.
var _ Provider = (*deepSeekProvider)(nil)
