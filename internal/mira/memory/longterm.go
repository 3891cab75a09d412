package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// timeLayout is RFC 3339 with a fixed-width 9-digit fractional second.
// Fixed width keeps the lexicographic order of stored UTC timestamps equal
// to their chronological order, which the recency ORDER BY clauses rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultSearchLimit is the result cap applied by Search when the caller
// passes a non-positive limit.
const DefaultSearchLimit = 10

// DefaultRelevantLimit is the number of records GetRelevant returns when the
// caller passes a non-positive limit.
const DefaultRelevantLimit = 5

// ApprovalFilter selects records by approval state. The zero value filters
// to approved records, matching the default of the admin surface.
type ApprovalFilter int

const (
	// ApprovedOnly matches only approved records (the default).
	ApprovedOnly ApprovalFilter = iota
	// UnapprovedOnly matches only records awaiting approval.
	UnapprovedOnly
	// AnyApproval disables the approval filter.
	AnyApproval
)

// Filter narrows Get and Search results. Zero-valued fields are not applied,
// except Approval whose zero value means ApprovedOnly.
type Filter struct {
	UserID   string
	Approval ApprovalFilter
	Source   string
}

// AddParams are the inputs for creating a memory record. UserID and Content
// are required; Type defaults to TypeLong and Source to SourceManual.
type AddParams struct {
	UserID     string
	Content    string
	Type       string
	Source     string
	Importance int
	Tags       []string
	Approved   bool
}

// UpdateParams holds the fields an Update call may change. Nil fields are
// left untouched.
type UpdateParams struct {
	Content    *string
	Type       *string
	Importance *int
	Tags       *[]string
	Approved   *bool
}

// LongTermStore is the persistent, queryable repository of memory records.
// Every operation is a self-contained statement against the backing SQLite
// database; nothing is cached in-process, so concurrent turns never observe
// each other's partial writes.
type LongTermStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewLongTermStore creates a LongTermStore backed by the given database
// connection. The memories table must exist (created by migration
// 0001_init.sql). If logger is nil, the default slog logger is used.
func NewLongTermStore(db *sql.DB, logger *slog.Logger) *LongTermStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LongTermStore{db: db, logger: logger, now: time.Now}
}

// Add creates a new memory record, assigning its ID and creation timestamp.
// Records with SourceAISuggested always start unapproved, regardless of the
// Approved parameter; only an explicit Approve call may flip them.
func (s *LongTermStore) Add(ctx context.Context, p AddParams) (*Record, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, fmt.Errorf("memory: add: user id must not be empty")
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("memory: add: content must not be empty")
	}
	if p.Type == "" {
		p.Type = TypeLong
	}
	if p.Source == "" {
		p.Source = SourceManual
	}
	if p.Source == SourceAISuggested {
		p.Approved = false
	}

	tagsJSON, err := marshalTags(p.Tags)
	if err != nil {
		return nil, fmt.Errorf("memory: add: marshal tags: %w", err)
	}

	ts := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (user_id, memory_type, content, source, importance, tags, approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Type, p.Content, p.Source, p.Importance, tagsJSON, p.Approved, ts.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("memory: insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("memory: last insert id: %w", err)
	}

	s.logger.Debug("memory: added record",
		"id", id,
		"user_id", p.UserID,
		"source", p.Source,
		"approved", p.Approved,
		"content_len", len(p.Content),
	)

	return &Record{
		ID:         id,
		UserID:     p.UserID,
		Type:       p.Type,
		Content:    p.Content,
		Source:     p.Source,
		Importance: p.Importance,
		Tags:       p.Tags,
		Approved:   p.Approved,
		Timestamp:  ts,
	}, nil
}

// AddSuggestion creates an unapproved long-term record proposed by the
// model. It stays invisible to GetRelevant until explicitly approved.
func (s *LongTermStore) AddSuggestion(ctx context.Context, userID, content string, importance int, tags []string) (*Record, error) {
	return s.Add(ctx, AddParams{
		UserID:     userID,
		Content:    content,
		Type:       TypeLong,
		Source:     SourceAISuggested,
		Importance: importance,
		Tags:       tags,
		Approved:   false,
	})
}

// Get returns records matching the filter, newest first. A non-positive
// limit returns all matches.
func (s *LongTermStore) Get(ctx context.Context, f Filter, limit int) ([]Record, error) {
	where, args := buildWhere(f)
	query := `
		SELECT id, user_id, memory_type, content, source, importance, tags, approved, created_at
		FROM memories` + where + `
		ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

// Search returns records whose content contains query, matched
// case-insensitively, combined with the filter by logical AND and ordered
// newest first. An unmatched query yields an empty slice, never an error.
func (s *LongTermStore) Search(ctx context.Context, query string, f Filter, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	where, args := buildWhere(f)
	if where == "" {
		where = " WHERE"
	} else {
		where += " AND"
	}
	where += ` content LIKE ? ESCAPE '\'`
	args = append(args, "%"+escapeLike(query)+"%", limit)

	sqlQuery := `
		SELECT id, user_id, memory_type, content, source, importance, tags, approved, created_at
		FROM memories` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ?`
	return s.queryRecords(ctx, sqlQuery, args...)
}

// GetRelevant returns the approved records used to ground a prompt for the
// given user: importance descending, then recency, truncated to limit. This
// ordering is the system's only relevance heuristic.
func (s *LongTermStore) GetRelevant(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRelevantLimit
	}
	return s.queryRecords(ctx, `
		SELECT id, user_id, memory_type, content, source, importance, tags, approved, created_at
		FROM memories
		WHERE user_id = ? AND approved = 1
		ORDER BY importance DESC, created_at DESC, id DESC
		LIMIT ?`,
		userID, limit,
	)
}

// Update applies the supplied fields to the record with the given id,
// leaving the others untouched. Returns false when no record matches.
func (s *LongTermStore) Update(ctx context.Context, id int64, p UpdateParams) (bool, error) {
	var sets []string
	var args []any

	if p.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *p.Content)
	}
	if p.Type != nil {
		sets = append(sets, "memory_type = ?")
		args = append(args, *p.Type)
	}
	if p.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, *p.Importance)
	}
	if p.Tags != nil {
		tagsJSON, err := marshalTags(*p.Tags)
		if err != nil {
			return false, fmt.Errorf("memory: update: marshal tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, tagsJSON)
	}
	if p.Approved != nil {
		sets = append(sets, "approved = ?")
		args = append(args, *p.Approved)
	}
	if len(sets) == 0 {
		// Nothing to change; report whether the record exists.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("memory: update probe: %w", err)
		}
		return true, nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("memory: update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("memory: update rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes the record with the given id. Returns false when absent.
func (s *LongTermStore) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("memory: delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("memory: delete rows affected: %w", err)
	}
	return n > 0, nil
}

// Approve marks a machine-suggested record as approved. It succeeds only
// when the record exists, its source is SourceAISuggested, and it is still
// pending; any other source returns false, guarding against approving
// manual or document records through this path.
func (s *LongTermStore) Approve(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET approved = 1 WHERE id = ? AND source = ? AND approved = 0`,
		id, SourceAISuggested,
	)
	if err != nil {
		return false, fmt.Errorf("memory: approve record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("memory: approve rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Info("memory: approved suggestion", "id", id)
	}
	return n > 0, nil
}

// queryRecords runs a SELECT over the memories table and scans all rows.
func (s *LongTermStore) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.logger.Warn("memory: skip malformed row", "err", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate rows: %w", err)
	}
	return records, nil
}

// scanRecord reads a single row from the memories table.
func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec      Record
		tagsJSON sql.NullString
		tsStr    string
	)
	err := rows.Scan(
		&rec.ID, &rec.UserID, &rec.Type, &rec.Content,
		&rec.Source, &rec.Importance, &tagsJSON, &rec.Approved, &tsStr,
	)
	if err != nil {
		return Record{}, fmt.Errorf("scan row: %w", err)
	}

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &rec.Tags); err != nil {
			return Record{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	rec.Timestamp = t

	return rec, nil
}

// buildWhere turns a Filter into a WHERE clause and its arguments. Returns
// an empty clause when no condition applies.
func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any

	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	switch f.Approval {
	case ApprovedOnly:
		conds = append(conds, "approved = 1")
	case UnapprovedOnly:
		conds = append(conds, "approved = 0")
	case AnyApproval:
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// marshalTags serializes tags as a JSON array, or NULL when empty.
func marshalTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// escapeLike escapes the LIKE wildcards in a user-supplied query so the
// match is a literal substring test.
func escapeLike(q string) string {
	q = strings.ReplaceAll(q, `\`, `\\`)
	q = strings.ReplaceAll(q, `%`, `\%`)
	q = strings.ReplaceAll(q, `_`, `\_`)
	return q
}
