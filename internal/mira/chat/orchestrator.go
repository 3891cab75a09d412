package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mirabot/mira/internal/mira/llm"
	"github.com/mirabot/mira/internal/mira/memory"
	"github.com/mirabot/mira/internal/mira/persona"
	"github.com/mirabot/mira/internal/mira/settings"
	"github.com/mirabot/mira/internal/mira/store"
)

// InteractionWriter records completed turns. *store.Store satisfies it.
type InteractionWriter interface {
	WriteInteraction(ctx context.Context, entry store.Interaction) error
}

// Orchestrator wires the memory subsystem, settings and model backend
// together to answer one user message at a time.
type Orchestrator struct {
	settings  *settings.Store
	longTerm  *memory.LongTermStore
	shortTerm *memory.ShortTermBuffer
	pipeline  *memory.SuggestionPipeline
	logs      InteractionWriter
	persona   persona.Persona
	logger    *slog.Logger

	// resolve returns the provider for the current turn. Swappable in
	// tests; defaults to llm.Resolve against the settings store.
	resolve func(ctx context.Context) (llm.Provider, error)
}

// Config collects the orchestrator's collaborators.
type Config struct {
	Settings  *settings.Store
	LongTerm  *memory.LongTermStore
	ShortTerm *memory.ShortTermBuffer
	Pipeline  *memory.SuggestionPipeline
	Logs      InteractionWriter
	Persona   persona.Persona
	Logger    *slog.Logger

	// ResolveProvider overrides backend resolution when set.
	ResolveProvider func(ctx context.Context) (llm.Provider, error)
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		settings:  cfg.Settings,
		longTerm:  cfg.LongTerm,
		shortTerm: cfg.ShortTerm,
		pipeline:  cfg.Pipeline,
		logs:      cfg.Logs,
		persona:   cfg.Persona,
		logger:    logger,
		resolve:   cfg.ResolveProvider,
	}
	if o.resolve == nil {
		o.resolve = func(ctx context.Context) (llm.Provider, error) {
			return llm.Resolve(ctx, cfg.Settings, logger)
		}
	}
	return o
}

// TurnRequest is one incoming user message.
type TurnRequest struct {
	UserID    string
	Username  string
	ChannelID string
	Message   string

	// SuggestOverride forces the suggestion pipeline on or off for this
	// turn regardless of the stored setting.
	SuggestOverride *bool
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Reply          string
	TraceID        string
	Usage          llm.Usage
	SuggestionsRan bool
}

// HandleTurn answers one user message. On provider failure the short-term
// buffer is left untouched so a retry replays the same history.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("chat: user id must not be empty")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("chat: message must not be empty")
	}

	provider, err := o.resolve(ctx)
	if err != nil {
		return nil, err
	}

	personality := o.personality(ctx)
	memories := o.relevantMemories(ctx, req.UserID)
	history := o.shortTerm.Snapshot(req.UserID)

	system := buildSystemPrompt(personality, memories)
	messages := buildMessages(system, history, req.Message)

	completion, err := provider.CompleteChat(ctx, messages, llm.CompleteOptions{
		MaxTokens:   o.persona.MaxTokens,
		Temperature: o.persona.Temperature,
	})
	if err != nil {
		return nil, err
	}

	o.shortTerm.AppendExchange(req.UserID, req.Message, completion.Text)

	ran := false
	if o.suggestionsEnabled(ctx, req.SuggestOverride) {
		o.pipeline.Run(ctx, req.UserID, req.Message, completion.Text, provider)
		ran = true
	}

	traceID := uuid.NewString()
	if o.logs != nil {
		entry := store.Interaction{
			TraceID:      traceID,
			UserID:       req.UserID,
			Username:     req.Username,
			ChannelID:    req.ChannelID,
			UserMessage:  req.Message,
			BotResponse:  completion.Text,
			InputTokens:  completion.Usage.InputTokens,
			OutputTokens: completion.Usage.OutputTokens,
		}
		if err := o.logs.WriteInteraction(ctx, entry); err != nil {
			o.logger.Warn("interaction log write failed",
				"trace_id", traceID,
				"user_id", req.UserID,
				"error", err)
		}
	}

	o.logger.Info("turn completed",
		"trace_id", traceID,
		"user_id", req.UserID,
		"backend", provider.Name(),
		"input_tokens", completion.Usage.InputTokens,
		"output_tokens", completion.Usage.OutputTokens,
		"suggestions", ran)

	return &TurnResult{
		Reply:          completion.Text,
		TraceID:        traceID,
		Usage:          completion.Usage,
		SuggestionsRan: ran,
	}, nil
}

// Reset clears the short-term history for one user.
func (o *Orchestrator) Reset(userID string) {
	o.shortTerm.Reset(userID)
}

// personality returns the stored personality text, falling back to the
// configured persona's system instruction.
func (o *Orchestrator) personality(ctx context.Context) string {
	if o.settings != nil {
		value, ok, err := o.settings.Lookup(ctx, settings.KeyPersonality)
		if err != nil {
			o.logger.Warn("personality lookup failed", "error", err)
		} else if ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return o.persona.System
}

// relevantMemories fetches approved memories for the prompt. A read failure
// degrades to an empty block rather than failing the turn.
func (o *Orchestrator) relevantMemories(ctx context.Context, userID string) []memory.Record {
	if o.longTerm == nil {
		return nil
	}
	records, err := o.longTerm.GetRelevant(ctx, userID, memory.DefaultRelevantLimit)
	if err != nil {
		o.logger.Warn("memory retrieval failed", "user_id", userID, "error", err)
		return nil
	}
	return records
}

// suggestionsEnabled reports whether the suggestion pipeline should run for
// this turn. The per-turn override wins; otherwise the stored setting must
// be exactly "true". Suggestions stay off when nothing is configured.
func (o *Orchestrator) suggestionsEnabled(ctx context.Context, override *bool) bool {
	if o.pipeline == nil {
		return false
	}
	if override != nil {
		return *override
	}
	if o.settings == nil {
		return false
	}
	value, ok, err := o.settings.Lookup(ctx, settings.KeyMemorySuggestions)
	if err != nil {
		o.logger.Warn("suggestion setting lookup failed", "error", err)
		return false
	}
	return ok && value == "true"
}
