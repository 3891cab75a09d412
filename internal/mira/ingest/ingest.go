package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mirabot/mira/internal/mira/memory"
)

// DocumentImportance is the importance level assigned to document chunks.
const DocumentImportance = 2

// Ingestor splits documents into chunks and stores each chunk as an
// approved long-term memory record.
type Ingestor struct {
	store  *memory.LongTermStore
	opts   Options
	logger *slog.Logger
}

// New builds an Ingestor writing to store.
func New(store *memory.LongTermStore, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, opts: DefaultOptions(), logger: logger}
}

// Result summarizes one document ingestion.
type Result struct {
	Name   string
	Chunks int
	Stored int
}

// IngestDocument chunks content and stores each chunk for userID. Records
// already written are kept when a later chunk fails; the returned Result
// reports how many made it in alongside the error.
func (g *Ingestor) IngestDocument(ctx context.Context, userID, name, content string) (*Result, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("ingest: user id must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("ingest: document name must not be empty")
	}

	chunks := Chunk(content, g.opts)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ingest: document %q has no content", name)
	}

	res := &Result{Name: name, Chunks: len(chunks)}
	tags := []string{"document", name}
	for i, chunk := range chunks {
		_, err := g.store.Add(ctx, memory.AddParams{
			UserID:     userID,
			Content:    chunk,
			Type:       memory.TypeLong,
			Source:     memory.SourceDocumentUpload,
			Importance: DocumentImportance,
			Tags:       tags,
			Approved:   true,
		})
		if err != nil {
			g.logger.Error("document chunk store failed",
				"document", name,
				"chunk", i,
				"user_id", userID,
				"error", err)
			return res, fmt.Errorf("ingest: store chunk %d of %q: %w", i, name, err)
		}
		res.Stored++
	}

	g.logger.Info("document ingested",
		"document", name,
		"user_id", userID,
		"chunks", res.Stored)
	return res, nil
}
