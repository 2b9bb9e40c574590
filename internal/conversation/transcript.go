package conversation

import "sync"

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one finalised utterance. Entries are never modified after they
// are appended.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is an append-only, arrival-ordered log of entries.
// The zero value is ready to use. All methods are safe for concurrent use.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
}

// Append adds e to the end of the log.
func (t *Transcript) Append(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
}

// Entries returns a copy of the log.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneEntries(t.entries)
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset empties the log.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

func cloneEntries(in []Entry) []Entry {
	if len(in) == 0 {
		return []Entry{}
	}
	out := make([]Entry, len(in))
	copy(out, in)
	return out
}
