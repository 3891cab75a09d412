package memory

import (
	"context"
	"log/slog"
)

// SuggestionImportance is the importance score assigned to every
// machine-proposed memory. Operators can raise it later through the admin
// surface if a suggestion turns out to matter.
const SuggestionImportance = 1

// suggestionTags mark pipeline-created records so they are recognizable in
// the admin surface.
var suggestionTags = []string{"suggested", "conversation"}

// SuggestionExtractor asks the model backend for candidate memories drawn
// from one completed turn. Implementations are best-effort: they return an
// empty slice on any upstream or parse failure and never an error that
// could fail the parent turn.
type SuggestionExtractor interface {
	ExtractMemorySuggestions(ctx context.Context, userMessage, botResponse string) []string
}

// SuggestionPipeline bridges raw model output into unapproved long-term
// memory records. It runs synchronously within the turn that triggered it;
// no work outlives the turn.
type SuggestionPipeline struct {
	store  *LongTermStore
	logger *slog.Logger
}

// NewSuggestionPipeline creates a pipeline writing into the given store.
// If logger is nil, the default slog logger is used.
func NewSuggestionPipeline(store *LongTermStore, logger *slog.Logger) *SuggestionPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &SuggestionPipeline{store: store, logger: logger}
}

// Run extracts suggestions for one turn and stores each as an unapproved
// record. Store writes are independent per suggestion: one failure is
// logged and does not block the others. Run never fails the caller.
func (p *SuggestionPipeline) Run(ctx context.Context, userID, userMessage, botResponse string, extractor SuggestionExtractor) {
	suggestions := extractor.ExtractMemorySuggestions(ctx, userMessage, botResponse)
	if len(suggestions) == 0 {
		return
	}

	stored := 0
	for _, content := range suggestions {
		if content == "" {
			continue
		}
		if _, err := p.store.AddSuggestion(ctx, userID, content, SuggestionImportance, suggestionTags); err != nil {
			p.logger.Warn("suggestion pipeline: failed to store suggestion",
				"err", err,
				"user_id", userID,
			)
			continue
		}
		stored++
	}

	p.logger.Debug("suggestion pipeline: stored suggestions",
		"user_id", userID,
		"proposed", len(suggestions),
		"stored", stored,
	)
}
