package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/mirabot/mira/internal/mira/llm"
	"github.com/mirabot/mira/internal/mira/memory"
	"github.com/mirabot/mira/internal/mira/persona"
	"github.com/mirabot/mira/internal/mira/settings"
	"github.com/mirabot/mira/internal/mira/store"
)

// fakeProvider records the prompt it was given and returns canned output.
type fakeProvider struct {
	reply       string
	suggestions []string
	err         error

	gotMessages []llm.ChatMessage
	gotOpts     llm.CompleteOptions
	extracted   int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CompleteChat(ctx context.Context, messages []llm.ChatMessage, opts llm.CompleteOptions) (*llm.Completion, error) {
	f.gotMessages = messages
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{
		Text:  f.reply,
		Usage: llm.Usage{InputTokens: 12, OutputTokens: 7, TotalTokens: 19},
	}, nil
}

func (f *fakeProvider) ExtractMemorySuggestions(ctx context.Context, userMessage, botResponse string) []string {
	f.extracted++
	return f.suggestions
}

type fixture struct {
	orch *Orchestrator
	prov *fakeProvider
	db   *store.Store
	set  *settings.Store
	lts  *memory.LongTermStore
	stb  *memory.ShortTermBuffer
}

func newFixture(t *testing.T, prov *fakeProvider) *fixture {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.Default()
	set := settings.New(db)
	lts := memory.NewLongTermStore(db.DB(), logger)
	stb := memory.NewShortTermBuffer(memory.DefaultShortTermCapacity)

	orch := New(Config{
		Settings:  set,
		LongTerm:  lts,
		ShortTerm: stb,
		Pipeline:  memory.NewSuggestionPipeline(lts, logger),
		Logs:      db,
		Persona:   persona.Default(),
		Logger:    logger,
		ResolveProvider: func(ctx context.Context) (llm.Provider, error) {
			return prov, nil
		},
	})
	return &fixture{orch: orch, prov: prov, db: db, set: set, lts: lts, stb: stb}
}

func TestHandleTurn(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{reply: "Hi Ana, nice to meet you!"}
	fx := newFixture(t, prov)

	res, err := fx.orch.HandleTurn(ctx, TurnRequest{
		UserID:    "u1",
		Username:  "ana",
		ChannelID: "c1",
		Message:   "Hello, I'm Ana.",
	})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if res.Reply != prov.reply {
		t.Errorf("Reply = %q, want %q", res.Reply, prov.reply)
	}
	if res.TraceID == "" {
		t.Error("TraceID is empty")
	}
	if res.Usage.TotalTokens != 19 {
		t.Errorf("TotalTokens = %d, want 19", res.Usage.TotalTokens)
	}
	if res.SuggestionsRan {
		t.Error("suggestions ran without being enabled")
	}

	// Prompt shape: system, then the new user message.
	if len(prov.gotMessages) != 2 {
		t.Fatalf("got %d messages, want 2", len(prov.gotMessages))
	}
	if prov.gotMessages[0].Role != memory.RoleSystem {
		t.Errorf("first message role = %q, want system", prov.gotMessages[0].Role)
	}
	if !strings.Contains(prov.gotMessages[0].Content, noMemoriesPlaceholder) {
		t.Errorf("system prompt missing empty-memory placeholder: %q", prov.gotMessages[0].Content)
	}
	if prov.gotMessages[1].Content != "Hello, I'm Ana." {
		t.Errorf("last message = %q", prov.gotMessages[1].Content)
	}
	if prov.gotOpts.MaxTokens != persona.DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", prov.gotOpts.MaxTokens, persona.DefaultMaxTokens)
	}

	// The exchange lands in the short-term buffer.
	turns := fx.stb.Snapshot("u1")
	if len(turns) != 2 || turns[0].Role != memory.RoleUser || turns[1].Role != memory.RoleAssistant {
		t.Fatalf("buffer after turn = %+v", turns)
	}

	// The interaction is logged with its token counts.
	logs, total, err := fx.db.ListInteractions(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if total != 1 || len(logs) != 1 {
		t.Fatalf("logged %d interactions, want 1", total)
	}
	if logs[0].TraceID != res.TraceID {
		t.Errorf("logged trace %q, want %q", logs[0].TraceID, res.TraceID)
	}
	if logs[0].InputTokens != 12 || logs[0].OutputTokens != 7 {
		t.Errorf("logged tokens %d/%d, want 12/7", logs[0].InputTokens, logs[0].OutputTokens)
	}
}

func TestHandleTurnCarriesHistory(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{reply: "ok"}
	fx := newFixture(t, prov)

	if _, err := fx.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Message: "first"}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := fx.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Message: "second"}); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	// Second prompt: system, first user, first reply, second user.
	if len(prov.gotMessages) != 4 {
		t.Fatalf("got %d messages, want 4", len(prov.gotMessages))
	}
	if prov.gotMessages[1].Content != "first" || prov.gotMessages[2].Content != "ok" {
		t.Errorf("history not replayed: %+v", prov.gotMessages)
	}
	if prov.gotMessages[3].Content != "second" {
		t.Errorf("last message = %q, want second", prov.gotMessages[3].Content)
	}
}

func TestHandleTurnIncludesMemories(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{reply: "noted"}
	fx := newFixture(t, prov)

	if _, err := fx.lts.Add(ctx, memory.AddParams{
		UserID:     "u1",
		Content:    "Prefers tabs over spaces",
		Importance: 3,
		Approved:   true,
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := fx.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Message: "hi"}); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	system := prov.gotMessages[0].Content
	if !strings.Contains(system, "Prefers tabs over spaces") {
		t.Errorf("system prompt missing memory: %q", system)
	}
	if strings.Contains(system, noMemoriesPlaceholder) {
		t.Error("placeholder present alongside real memories")
	}
}

func TestHandleTurnProviderFailureLeavesBuffer(t *testing.T) {
	ctx := context.Background()
	wantErr := &llm.ProviderError{Backend: "fake", Op: "chat completion", Err: errors.New("boom")}
	prov := &fakeProvider{err: wantErr}
	fx := newFixture(t, prov)

	_, err := fx.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Message: "hello"})
	var perr *llm.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if fx.stb.Len("u1") != 0 {
		t.Errorf("buffer has %d turns after failure, want 0", fx.stb.Len("u1"))
	}
	if _, total, err := fx.db.ListInteractions(ctx, 0, 10); err != nil || total != 0 {
		t.Errorf("logged %d interactions after failure, want 0 (err %v)", total, err)
	}
}

func TestHandleTurnPersonalitySetting(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{reply: "yar"}
	fx := newFixture(t, prov)

	if err := fx.set.Set(ctx, settings.KeyPersonality, "You are a pirate."); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := fx.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Message: "hi"}); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !strings.HasPrefix(prov.gotMessages[0].Content, "You are a pirate.") {
		t.Errorf("system prompt = %q, want pirate personality", prov.gotMessages[0].Content)
	}
}

func TestHandleTurnSuggestions(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{reply: "ok", suggestions: []string{"Works at Acme"}}
	fx := newFixture(t, prov)

	if err := fx.set.Set(ctx, settings.KeyMemorySuggestions, "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	res, err := fx.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Message: "I work at Acme"})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !res.SuggestionsRan {
		t.Error("SuggestionsRan = false with setting enabled")
	}
	if prov.extracted != 1 {
		t.Errorf("extractor called %d times, want 1", prov.extracted)
	}

	// The suggestion is stored but stays out of the prompt until approved.
	pending, err := fx.lts.Get(ctx, memory.Filter{UserID: "u1", Approval: memory.UnapprovedOnly}, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(pending) != 1 || pending[0].Content != "Works at Acme" {
		t.Fatalf("pending suggestions = %+v", pending)
	}
	relevant, err := fx.lts.GetRelevant(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("GetRelevant: %v", err)
	}
	if len(relevant) != 0 {
		t.Errorf("unapproved suggestion leaked into relevant set: %+v", relevant)
	}
}

func TestHandleTurnSuggestOverride(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{reply: "ok"}
	fx := newFixture(t, prov)

	on := true
	res, err := fx.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Message: "hi", SuggestOverride: &on})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !res.SuggestionsRan {
		t.Error("override on: SuggestionsRan = false")
	}

	if err := fx.set.Set(ctx, settings.KeyMemorySuggestions, "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	off := false
	res, err = fx.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Message: "hi again", SuggestOverride: &off})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if res.SuggestionsRan {
		t.Error("override off: SuggestionsRan = true")
	}
}

func TestHandleTurnResolveFailure(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeProvider{})
	fx.orch.resolve = func(ctx context.Context) (llm.Provider, error) {
		return nil, &llm.ConfigError{Reason: "deepseek api key is not configured"}
	}

	_, err := fx.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Message: "hi"})
	var cerr *llm.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want ConfigError", err)
	}
}

func TestHandleTurnValidation(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeProvider{reply: "ok"})

	if _, err := fx.orch.HandleTurn(ctx, TurnRequest{Message: "hi"}); err == nil {
		t.Error("expected error for empty user id")
	}
	if _, err := fx.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Message: "  "}); err == nil {
		t.Error("expected error for blank message")
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeProvider{reply: "ok"})

	if _, err := fx.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Message: "hi"}); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	fx.orch.Reset("u1")
	if fx.stb.Len("u1") != 0 {
		t.Errorf("buffer has %d turns after reset", fx.stb.Len("u1"))
	}
}
