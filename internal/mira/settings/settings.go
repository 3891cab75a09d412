// Package settings provides the operator-tunable key/value configuration
// store backed by the settings SQLite table. It holds runtime knobs such as
// the active model provider, its credentials, the assistant personality, and
// the memory-suggestion toggle.
//
// The core reads settings fresh on each turn and never caches values, so
// changes made through the admin surface take effect on the next message.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mirabot/mira/internal/mira/store"
)

// Keys consumed by the core. The settings table is free-form; these are the
// ones Mira itself reads.
const (
	// KeyModelProvider selects the active backend: "deepseek" or "ollama".
	KeyModelProvider = "model_provider"

	// KeyDeepSeekAPIKey is the bearer token for the hosted DeepSeek API.
	KeyDeepSeekAPIKey = "deepseek_api_key"

	// KeyOllamaEndpoint is the base URL of a self-hosted Ollama server.
	KeyOllamaEndpoint = "ollama_endpoint"

	// KeyOllamaModel is the model name served by the Ollama endpoint.
	KeyOllamaModel = "ollama_model"

	// KeyPersonality is the system instruction prefix for every prompt.
	KeyPersonality = "personality"

	// KeyMemorySuggestions toggles the suggestion pipeline ("true"/"false").
	KeyMemorySuggestions = "memory_suggestions"
)

// ErrNotFound is returned by Get when the requested key does not exist.
var ErrNotFound = errors.New("settings: key not found")

// Store is the SQLite-backed settings store. Every method is a
// self-contained statement; the store is safe for concurrent use.
type Store struct {
	db *store.Store
}

// New creates a Store backed by the application SQLite database. The
// migration that creates the settings table must have been applied (this is
// guaranteed by store.New running all migrations on startup).
func New(db *store.Store) *Store {
	return &Store{db: db}
}

// Get returns the value for key or ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("settings: get %q: %w", key, err)
	}
	return value, nil
}

// Lookup returns the value for key and whether it was present. Unlike Get,
// an absent key is not an error; any returned error indicates a real
// database fault.
func (s *Store) Lookup(ctx context.Context, key string) (string, bool, error) {
	value, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set upserts the key/value pair, updating updated_at to the current UTC time.
func (s *Store) Set(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("settings: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. It is idempotent: deleting a non-existent key
// returns nil.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.DB().ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("settings: delete %q: %w", key, err)
	}
	return nil
}

// List returns a snapshot of all key/value pairs currently in the store.
// An empty map (not nil) is returned when no entries are present.
func (s *Store) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("settings: list scan: %w", err)
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: list rows: %w", err)
	}
	return result, nil
}
