package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mirabot/mira/internal/mira/chat"
	"github.com/mirabot/mira/internal/mira/ingest"
	"github.com/mirabot/mira/internal/mira/llm"
	"github.com/mirabot/mira/internal/mira/memory"
	"github.com/mirabot/mira/internal/mira/persona"
	"github.com/mirabot/mira/internal/mira/settings"
	"github.com/mirabot/mira/internal/mira/store"
)

type stubProvider struct {
	reply string
	err   error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) CompleteChat(ctx context.Context, messages []llm.ChatMessage, opts llm.CompleteOptions) (*llm.Completion, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Completion{
		Text:  p.reply,
		Usage: llm.Usage{InputTokens: 5, OutputTokens: 3, TotalTokens: 8},
	}, nil
}

func (p *stubProvider) ExtractMemorySuggestions(ctx context.Context, userMessage, botResponse string) []string {
	return nil
}

type testEnv struct {
	srv *httptest.Server
	db  *store.Store
	lts *memory.LongTermStore
	set *settings.Store
}

func newTestServer(t *testing.T, prov llm.Provider, token string) *testEnv {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.Default()
	set := settings.New(db)
	lts := memory.NewLongTermStore(db.DB(), logger)
	orch := chat.New(chat.Config{
		Settings:  set,
		LongTerm:  lts,
		ShortTerm: memory.NewShortTermBuffer(memory.DefaultShortTermCapacity),
		Pipeline:  memory.NewSuggestionPipeline(lts, logger),
		Logs:      db,
		Persona:   persona.Default(),
		Logger:    logger,
		ResolveProvider: func(ctx context.Context) (llm.Provider, error) {
			if prov == nil {
				return nil, &llm.ConfigError{Reason: "deepseek api key is not configured"}
			}
			return prov, nil
		},
	})

	s := New(Config{
		Addr:     "127.0.0.1:0",
		Token:    token,
		Orch:     orch,
		Memories: lts,
		Settings: set,
		Ingestor: ingest.New(lts, logger),
		Logs:     db,
		Logger:   logger,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, db: db, lts: lts, set: set}
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	env := newTestServer(t, &stubProvider{reply: "ok"}, "")
	var body map[string]string
	if status := doJSON(t, http.MethodGet, env.srv.URL+"/healthz", nil, &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestChatEndpoint(t *testing.T) {
	env := newTestServer(t, &stubProvider{reply: "hello back"}, "")

	var res ChatResponse
	status := doJSON(t, http.MethodPost, env.srv.URL+"/api/chat",
		ChatRequest{UserID: "u1", Message: "hello"}, &res)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if res.Reply != "hello back" {
		t.Errorf("Reply = %q", res.Reply)
	}
	if res.TraceID == "" {
		t.Error("TraceID is empty")
	}
	if res.Usage.TotalTokens != 8 {
		t.Errorf("TotalTokens = %d, want 8", res.Usage.TotalTokens)
	}
}

func TestChatMissingBackend(t *testing.T) {
	env := newTestServer(t, nil, "")
	status := doJSON(t, http.MethodPost, env.srv.URL+"/api/chat",
		ChatRequest{UserID: "u1", Message: "hi"}, nil)
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
}

func TestChatUpstreamFailure(t *testing.T) {
	prov := &stubProvider{err: &llm.ProviderError{Backend: "stub", Op: "chat completion", Status: 500, Err: fmt.Errorf("upstream down")}}
	env := newTestServer(t, prov, "")
	status := doJSON(t, http.MethodPost, env.srv.URL+"/api/chat",
		ChatRequest{UserID: "u1", Message: "hi"}, nil)
	if status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", status)
	}
}

func TestChatValidation(t *testing.T) {
	env := newTestServer(t, &stubProvider{reply: "ok"}, "")
	status := doJSON(t, http.MethodPost, env.srv.URL+"/api/chat",
		ChatRequest{UserID: "", Message: "hi"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestMemoryLifecycle(t *testing.T) {
	env := newTestServer(t, &stubProvider{reply: "ok"}, "")
	base := env.srv.URL

	// Create.
	var created MemoryView
	status := doJSON(t, http.MethodPost, base+"/api/memories",
		MemoryAddRequest{UserID: "u1", Content: "Likes green tea", Importance: 2, Tags: []string{"preference"}}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	if created.ID == 0 || !created.Approved || created.Source != memory.SourceManual {
		t.Fatalf("created = %+v", created)
	}

	// List.
	var list struct {
		Memories []MemoryView `json:"memories"`
	}
	if status := doJSON(t, http.MethodGet, base+"/api/memories?user_id=u1", nil, &list); status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if len(list.Memories) != 1 {
		t.Fatalf("list = %+v", list.Memories)
	}

	// Search.
	var found struct {
		Memories []MemoryView `json:"memories"`
	}
	if status := doJSON(t, http.MethodGet, base+"/api/memories/search?q=green&user_id=u1", nil, &found); status != http.StatusOK {
		t.Fatalf("search status = %d", status)
	}
	if len(found.Memories) != 1 {
		t.Fatalf("search = %+v", found.Memories)
	}

	// Update.
	content := "Likes oolong tea"
	url := fmt.Sprintf("%s/api/memories/%d", base, created.ID)
	if status := doJSON(t, http.MethodPut, url, MemoryUpdateRequest{Content: &content}, nil); status != http.StatusOK {
		t.Fatalf("update status = %d", status)
	}

	// Delete, then a second delete 404s.
	if status := doJSON(t, http.MethodDelete, url, nil, nil); status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	if status := doJSON(t, http.MethodDelete, url, nil, nil); status != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", status)
	}
}

func TestMemoryApprovalFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestServer(t, &stubProvider{reply: "ok"}, "")

	rec, err := env.lts.AddSuggestion(ctx, "u1", "Has a dog named Rex", 1, nil)
	if err != nil {
		t.Fatalf("AddSuggestion: %v", err)
	}

	// Pending suggestions show up under approval=pending only.
	var pending struct {
		Memories []MemoryView `json:"memories"`
	}
	doJSON(t, http.MethodGet, env.srv.URL+"/api/memories?user_id=u1&approval=pending", nil, &pending)
	if len(pending.Memories) != 1 {
		t.Fatalf("pending = %+v", pending.Memories)
	}

	url := fmt.Sprintf("%s/api/memories/%d/approve", env.srv.URL, rec.ID)
	if status := doJSON(t, http.MethodPost, url, nil, nil); status != http.StatusOK {
		t.Fatalf("approve status = %d", status)
	}
	// Approving twice fails: the record is no longer a pending suggestion.
	if status := doJSON(t, http.MethodPost, url, nil, nil); status != http.StatusNotFound {
		t.Fatalf("second approve status = %d, want 404", status)
	}

	var approved struct {
		Memories []MemoryView `json:"memories"`
	}
	doJSON(t, http.MethodGet, env.srv.URL+"/api/memories?user_id=u1", nil, &approved)
	if len(approved.Memories) != 1 || !approved.Memories[0].Approved {
		t.Fatalf("approved list = %+v", approved.Memories)
	}
}

func TestMemoryBadApprovalParam(t *testing.T) {
	env := newTestServer(t, &stubProvider{reply: "ok"}, "")
	if status := doJSON(t, http.MethodGet, env.srv.URL+"/api/memories?approval=bogus", nil, nil); status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestDocumentUpload(t *testing.T) {
	env := newTestServer(t, &stubProvider{reply: "ok"}, "")

	var res struct {
		Document string `json:"document"`
		Chunks   int    `json:"chunks"`
	}
	status := doJSON(t, http.MethodPost, env.srv.URL+"/api/documents", DocumentRequest{
		UserID:  "u1",
		Name:    "notes.md",
		Content: strings.Repeat("An important fact about the project.\n", 30),
	}, &res)
	if status != http.StatusCreated {
		t.Fatalf("status = %d", status)
	}
	if res.Chunks == 0 || res.Document != "notes.md" {
		t.Fatalf("res = %+v", res)
	}

	var list struct {
		Memories []MemoryView `json:"memories"`
	}
	doJSON(t, http.MethodGet, env.srv.URL+"/api/memories?user_id=u1&source=document_upload", nil, &list)
	if len(list.Memories) != res.Chunks {
		t.Errorf("stored %d chunks, listed %d", res.Chunks, len(list.Memories))
	}
}

func TestLogsEndpoint(t *testing.T) {
	env := newTestServer(t, &stubProvider{reply: "pong"}, "")

	doJSON(t, http.MethodPost, env.srv.URL+"/api/chat", ChatRequest{UserID: "u1", Message: "ping"}, nil)

	var res struct {
		Logs        []LogView `json:"logs"`
		Total       int       `json:"total"`
		TotalTokens int64     `json:"total_tokens"`
	}
	if status := doJSON(t, http.MethodGet, env.srv.URL+"/api/logs", nil, &res); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if res.Total != 1 || len(res.Logs) != 1 {
		t.Fatalf("res = %+v", res)
	}
	if res.Logs[0].UserMessage != "ping" || res.Logs[0].BotResponse != "pong" {
		t.Errorf("log entry = %+v", res.Logs[0])
	}
	if res.TotalTokens != 8 {
		t.Errorf("TotalTokens = %d, want 8", res.TotalTokens)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	env := newTestServer(t, &stubProvider{reply: "ok"}, "")
	base := env.srv.URL

	status := doJSON(t, http.MethodPut, base+"/api/settings/"+settings.KeyPersonality,
		map[string]string{"value": "You are terse."}, nil)
	if status != http.StatusOK {
		t.Fatalf("set status = %d", status)
	}

	var list struct {
		Settings map[string]string `json:"settings"`
	}
	doJSON(t, http.MethodGet, base+"/api/settings", nil, &list)
	if list.Settings[settings.KeyPersonality] != "You are terse." {
		t.Fatalf("settings = %v", list.Settings)
	}

	if status := doJSON(t, http.MethodDelete, base+"/api/settings/"+settings.KeyPersonality, nil, nil); status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	// json.Decode merges into a non-nil map, so clear the previous snapshot
	// before decoding the post-delete listing.
	list.Settings = nil
	doJSON(t, http.MethodGet, base+"/api/settings", nil, &list)
	if _, ok := list.Settings[settings.KeyPersonality]; ok {
		t.Error("setting still present after delete")
	}
}

func TestSettingsListRedactsSecrets(t *testing.T) {
	env := newTestServer(t, &stubProvider{reply: "ok"}, "")

	doJSON(t, http.MethodPut, env.srv.URL+"/api/settings/"+settings.KeyDeepSeekAPIKey,
		map[string]string{"value": "sk-live-abc123"}, nil)

	var list struct {
		Settings map[string]string `json:"settings"`
	}
	doJSON(t, http.MethodGet, env.srv.URL+"/api/settings", nil, &list)
	if got := list.Settings[settings.KeyDeepSeekAPIKey]; got != "[REDACTED]" {
		t.Errorf("API key not redacted in listing: %q", got)
	}
}

func TestBearerAuth(t *testing.T) {
	env := newTestServer(t, &stubProvider{reply: "ok"}, "sekrit")

	// No token: rejected.
	if status := doJSON(t, http.MethodGet, env.srv.URL+"/api/settings", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", status)
	}

	// Wrong token: rejected.
	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/settings", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", resp.StatusCode)
	}

	// Correct token: accepted.
	req, _ = http.NewRequest(http.MethodGet, env.srv.URL+"/api/settings", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authed status = %d, want 200", resp.StatusCode)
	}

	// Health stays open.
	if status := doJSON(t, http.MethodGet, env.srv.URL+"/healthz", nil, nil); status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
}
