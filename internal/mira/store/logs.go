package store

import (
	"context"
	"fmt"
	"time"
)

// Interaction is one completed turn as recorded in the interaction log:
// who said what, where, and how many tokens it cost.
type Interaction struct {
	ID           int64
	TraceID      string
	UserID       string
	Username     string
	ChannelID    string
	UserMessage  string
	BotResponse  string
	InputTokens  int
	OutputTokens int
	Timestamp    time.Time
}

// WriteInteraction records a completed turn and the matching token usage row
// in a single transaction. The usage table feeds the dashboard total; the log
// table feeds the per-turn audit view.
func (s *Store) WriteInteraction(ctx context.Context, entry Interaction) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	tsStr := ts.UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin interaction tx: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO interaction_logs
			(trace_id, user_id, username, channel_id, user_message, bot_response, input_tokens, output_tokens, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TraceID, entry.UserID, entry.Username, entry.ChannelID,
		entry.UserMessage, entry.BotResponse, entry.InputTokens, entry.OutputTokens, tsStr,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to write interaction log: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO token_usage (total_tokens, input_tokens, output_tokens, ts)
		VALUES (?, ?, ?, ?)`,
		entry.InputTokens+entry.OutputTokens, entry.InputTokens, entry.OutputTokens, tsStr,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to write token usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit interaction: %w", err)
	}
	return nil
}

// ListInteractions returns a page of interaction log entries ordered by
// timestamp descending, plus the total row count for pagination.
func (s *Store) ListInteractions(ctx context.Context, offset, limit int) ([]*Interaction, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interaction_logs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count interaction logs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trace_id, user_id, username, channel_id, user_message, bot_response,
		       input_tokens, output_tokens, ts
		FROM interaction_logs
		ORDER BY ts DESC, id DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query interaction logs: %w", err)
	}
	defer rows.Close()

	var entries []*Interaction
	for rows.Next() {
		entry := &Interaction{}
		var tsStr string
		err := rows.Scan(
			&entry.ID, &entry.TraceID, &entry.UserID, &entry.Username, &entry.ChannelID,
			&entry.UserMessage, &entry.BotResponse, &entry.InputTokens, &entry.OutputTokens, &tsStr,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan interaction log: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, tsStr); err == nil {
			entry.Timestamp = t
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating interaction logs: %w", err)
	}

	return entries, total, nil
}

// RecentInteractions returns the most recent interaction log entries.
func (s *Store) RecentInteractions(ctx context.Context, limit int) ([]*Interaction, error) {
	entries, _, err := s.ListInteractions(ctx, 0, limit)
	return entries, err
}

// TotalTokens returns the sum of all recorded token usage.
func (s *Store) TotalTokens(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM token_usage`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum token usage: %w", err)
	}
	return total, nil
}
