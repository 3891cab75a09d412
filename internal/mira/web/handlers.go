package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mirabot/mira/common/redact"
	"github.com/mirabot/mira/internal/mira/chat"
	"github.com/mirabot/mira/internal/mira/llm"
	"github.com/mirabot/mira/internal/mira/memory"
)

// ChatRequest is the body for POST /api/chat.
type ChatRequest struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	Message   string `json:"message"`
	Suggest   *bool  `json:"suggest,omitempty"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Reply          string    `json:"reply"`
	TraceID        string    `json:"trace_id"`
	Usage          llm.Usage `json:"usage"`
	SuggestionsRan bool      `json:"suggestions_ran"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.cfg.Orch.HandleTurn(r.Context(), chat.TurnRequest{
		UserID:          req.UserID,
		Username:        req.Username,
		ChannelID:       req.ChannelID,
		Message:         req.Message,
		SuggestOverride: req.Suggest,
	})
	if err != nil {
		s.writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		Reply:          res.Reply,
		TraceID:        res.TraceID,
		Usage:          res.Usage,
		SuggestionsRan: res.SuggestionsRan,
	})
}

// writeTurnError maps orchestrator failures onto HTTP statuses. A missing or
// bad backend configuration is the operator's problem (409); an upstream
// model failure is a gateway problem (502); anything else is a bad request.
func (s *Server) writeTurnError(w http.ResponseWriter, err error) {
	var cerr *llm.ConfigError
	if errors.As(err, &cerr) {
		writeError(w, http.StatusConflict, cerr.Error())
		return
	}
	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		s.logger.Error("turn failed upstream", "error", err)
		writeError(w, http.StatusBadGateway, perr.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	s.cfg.Orch.Reset(req.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// MemoryView is the JSON shape of a memory record.
type MemoryView struct {
	ID         int64    `json:"id"`
	UserID     string   `json:"user_id"`
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Source     string   `json:"source"`
	Importance int      `json:"importance"`
	Tags       []string `json:"tags,omitempty"`
	Approved   bool     `json:"approved"`
	Timestamp  string   `json:"timestamp"`
}

func toMemoryView(rec memory.Record) MemoryView {
	return MemoryView{
		ID:         rec.ID,
		UserID:     rec.UserID,
		Type:       rec.Type,
		Content:    rec.Content,
		Source:     rec.Source,
		Importance: rec.Importance,
		Tags:       rec.Tags,
		Approved:   rec.Approved,
		Timestamp:  rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toMemoryViews(records []memory.Record) []MemoryView {
	views := make([]MemoryView, 0, len(records))
	for _, rec := range records {
		views = append(views, toMemoryView(rec))
	}
	return views
}

// memoryFilter reads the shared list/search query parameters. The approval
// parameter accepts "approved" (default), "pending" and "all".
func memoryFilter(r *http.Request) (memory.Filter, bool) {
	f := memory.Filter{
		UserID: r.URL.Query().Get("user_id"),
		Source: r.URL.Query().Get("source"),
	}
	switch r.URL.Query().Get("approval") {
	case "", "approved":
		f.Approval = memory.ApprovedOnly
	case "pending":
		f.Approval = memory.UnapprovedOnly
	case "all":
		f.Approval = memory.AnyApproval
	default:
		return f, false
	}
	return f, true
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	f, ok := memoryFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "approval must be approved, pending or all")
		return
	}
	records, err := s.cfg.Memories.Get(r.Context(), f, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": toMemoryViews(records)})
}

// MemoryAddRequest is the body for POST /api/memories.
type MemoryAddRequest struct {
	UserID     string   `json:"user_id"`
	Content    string   `json:"content"`
	Type       string   `json:"type,omitempty"`
	Importance int      `json:"importance,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

func (s *Server) handleMemoryAdd(w http.ResponseWriter, r *http.Request) {
	var req MemoryAddRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.cfg.Memories.Add(r.Context(), memory.AddParams{
		UserID:     req.UserID,
		Content:    req.Content,
		Type:       req.Type,
		Source:     memory.SourceManual,
		Importance: req.Importance,
		Tags:       req.Tags,
		Approved:   true,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toMemoryView(*rec))
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	f, ok := memoryFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "approval must be approved, pending or all")
		return
	}
	records, err := s.cfg.Memories.Search(r.Context(), query, f, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": toMemoryViews(records)})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return 0, false
	}
	return id, true
}

// MemoryUpdateRequest is the body for PUT /api/memories/{id}. Absent fields
// are left unchanged.
type MemoryUpdateRequest struct {
	Content    *string   `json:"content,omitempty"`
	Importance *int      `json:"importance,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
	Approved   *bool     `json:"approved,omitempty"`
}

func (s *Server) handleMemoryUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req MemoryUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.cfg.Memories.Update(r.Context(), id, memory.UpdateParams{
		Content:    req.Content,
		Importance: req.Importance,
		Tags:       req.Tags,
		Approved:   req.Approved,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !updated {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	deleted, err := s.cfg.Memories.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleMemoryApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	approved, err := s.cfg.Memories.Approve(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !approved {
		writeError(w, http.StatusNotFound, "no pending suggestion with that id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// DocumentRequest is the body for POST /api/documents.
type DocumentRequest struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.cfg.Ingestor.IngestDocument(r.Context(), req.UserID, req.Name, req.Content)
	if err != nil {
		status := http.StatusBadRequest
		if res != nil && res.Stored > 0 {
			// Partial ingestion: some chunks are already stored.
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"document": res.Name,
		"chunks":   res.Stored,
	})
}

// LogView is the JSON shape of one interaction log entry.
type LogView struct {
	ID           int64  `json:"id"`
	TraceID      string `json:"trace_id"`
	UserID       string `json:"user_id"`
	Username     string `json:"username,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	UserMessage  string `json:"user_message"`
	BotResponse  string `json:"bot_response"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Timestamp    string `json:"timestamp"`
}

func (s *Server) handleLogList(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, total, err := s.cfg.Logs.ListInteractions(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]LogView, 0, len(entries))
	for _, e := range entries {
		views = append(views, LogView{
			ID:           e.ID,
			TraceID:      e.TraceID,
			UserID:       e.UserID,
			Username:     e.Username,
			ChannelID:    e.ChannelID,
			UserMessage:  e.UserMessage,
			BotResponse:  e.BotResponse,
			InputTokens:  e.InputTokens,
			OutputTokens: e.OutputTokens,
			Timestamp:    e.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	tokens, err := s.cfg.Logs.TotalTokens(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":         views,
		"total":        total,
		"total_tokens": tokens,
	})
}

func (s *Server) handleSettingsList(w http.ResponseWriter, r *http.Request) {
	values, err := s.cfg.Settings.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Secret-valued settings (API keys) never leave the process in clear.
	writeJSON(w, http.StatusOK, map[string]any{"settings": redact.Map(values)})
}

func (s *Server) handleSettingSet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req struct {
		Value string `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.cfg.Settings.Set(r.Context(), key, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSettingDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.cfg.Settings.Delete(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
