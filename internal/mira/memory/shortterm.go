package memory

import "sync"

// DefaultShortTermCapacity is the per-user turn window size.
const DefaultShortTermCapacity = 10

// ShortTermBuffer holds the most recent conversational turns per user.
//
// The buffer is process-lifetime state only: it is never persisted, and
// every window is lost when the service restarts. Long-lived facts belong
// in the LongTermStore.
//
// All methods are safe for concurrent use. Mutations take a single lock, so
// concurrent turns for the same user cannot interleave their appends.
type ShortTermBuffer struct {
	mu       sync.Mutex
	capacity int
	turns    map[string][]Turn
}

// NewShortTermBuffer creates a buffer with the given per-user capacity.
// Non-positive capacities fall back to DefaultShortTermCapacity.
func NewShortTermBuffer(capacity int) *ShortTermBuffer {
	if capacity <= 0 {
		capacity = DefaultShortTermCapacity
	}
	return &ShortTermBuffer{
		capacity: capacity,
		turns:    make(map[string][]Turn),
	}
}

// Append records one turn for the user, creating the window lazily and
// evicting the oldest turn once the capacity is exceeded.
func (b *ShortTermBuffer) Append(userID, role, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.append(userID, Turn{Role: role, Content: content})
}

// AppendExchange records a user message and the assistant's reply as one
// atomic operation. Holding the lock across both appends keeps the turn
// order intact when turns for the same user run concurrently.
func (b *ShortTermBuffer) AppendExchange(userID, userMessage, reply string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.append(userID, Turn{Role: RoleUser, Content: userMessage})
	b.append(userID, Turn{Role: RoleAssistant, Content: reply})
}

// append adds a turn and enforces the capacity. Must be called with mu held.
func (b *ShortTermBuffer) append(userID string, turn Turn) {
	window := append(b.turns[userID], turn)
	if excess := len(window) - b.capacity; excess > 0 {
		window = window[excess:]
	}
	b.turns[userID] = window
}

// Snapshot returns a copy of the user's current window in append order.
// The returned slice is independent of the buffer; an unknown user yields
// an empty slice.
func (b *ShortTermBuffer) Snapshot(userID string) []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()

	window := b.turns[userID]
	out := make([]Turn, len(window))
	copy(out, window)
	return out
}

// Reset discards the user's window.
func (b *ShortTermBuffer) Reset(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.turns, userID)
}

// Len returns the number of turns currently held for the user.
func (b *ShortTermBuffer) Len(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns[userID])
}
