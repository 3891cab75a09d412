// Package memory implements Mira's two conversational memory tiers.
//
// The long-term tier is a persistent store of attributable memory records,
// retrieved by importance-then-recency ranking and gated by an approval
// workflow for machine-suggested entries. The short-term tier is a volatile
// per-user window of the most recent turns; it lives in process memory only
// and is lost on restart.
package memory

import "time"

// Memory type classification tags. The tag is retained on the record; it is
// unrelated to the in-process short-term buffer, which is never persisted.
const (
	TypeShort = "short"
	TypeLong  = "long"
)

// Provenance tags. SourceAISuggested is load-bearing: it gates the approval
// workflow. The column is otherwise free-form, so callers may record other
// origins without a schema change.
const (
	SourceManual         = "manual"
	SourceAISuggested    = "ai_suggested"
	SourceDocumentUpload = "document_upload"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Record is one long-term memory entry.
type Record struct {
	ID         int64
	UserID     string
	Type       string // TypeShort or TypeLong
	Content    string
	Source     string // provenance tag; see Source* constants
	Importance int    // caller-assigned sort key, no enforced range
	Tags       []string
	Approved   bool
	Timestamp  time.Time // creation time, immutable
}

// Turn is a single entry in the short-term conversation window.
type Turn struct {
	Role    string // RoleUser or RoleAssistant
	Content string
}
