package types

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies a memory into one of a fixed set of semantic tags.
type Category string

const (
	CategoryIdentity      Category = "identity"      // who the user is
	CategoryDevice        Category = "device"        // hardware the user owns
	CategoryWork          Category = "work"          // job, employer, projects
	CategoryInterests     Category = "interests"     // hobbies and preferences
	CategoryRelationships Category = "relationships" // family, friends, colleagues
	CategoryLifestyle     Category = "lifestyle"     // habits, routines
	CategoryOther         Category = "other"
)

// Valid reports whether the category is one of the known semantic tags.
func (c Category) Valid() bool {
	switch c {
	case CategoryIdentity, CategoryDevice, CategoryWork, CategoryInterests,
		CategoryRelationships, CategoryLifestyle, CategoryOther:
		return true
	}
	return false
}

// Source records where a memory came from.
type Source string

const (
	SourceConversation Source = "conversation" // extracted from chat
	SourceDocument     Source = "document"     // extracted from an uploaded file
	SourceManual       Source = "manual"       // entered directly by the user
)

// Importance bounds and default. Importance is a coarse retention priority
// and a ranking tiebreaker; it is not a continuous relevance signal.
const (
	MinImportance     = 1
	MaxImportance     = 10
	DefaultImportance = 5
)

// MemoryRecord is a stored, user-scoped fact extracted from conversation or
// document text. Records are immutable from the retrieval engine's
// perspective: the search path never mutates stored data.
type MemoryRecord struct {
	ID             int64     `json:"id"`                        // storage-assigned, monotonic
	UserID         string    `json:"user_id"`                   // owner; all queries scope to one user
	Content        string    `json:"content"`                   // free text, UTF-8, may mix scripts
	Category       Category  `json:"category"`                  // semantic tag
	Tags           []string  `json:"tags,omitempty"`            // deduplicated free-text labels
	Source         Source    `json:"source"`                    // provenance
	Importance     int       `json:"importance"`                // [1,10], default 5
	ConversationID string    `json:"conversation_id,omitempty"` // optional back-reference
	ExtractedFrom  string    `json:"extracted_from,omitempty"`  // freeform provenance note
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"` // always >= CreatedAt
}

// Validate checks the record's invariants before storage.
func (m *MemoryRecord) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("memory: user ID is required")
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("memory: content is required")
	}
	if m.Category != "" && !m.Category.Valid() {
		return fmt.Errorf("memory: unknown category %q", m.Category)
	}
	if m.Importance != 0 && (m.Importance < MinImportance || m.Importance > MaxImportance) {
		return fmt.Errorf("memory: importance %d outside [%d,%d]", m.Importance, MinImportance, MaxImportance)
	}
	return nil
}

// Normalize applies defaults and canonicalizes mutable fields: zero
// importance becomes DefaultImportance, an empty category becomes
// CategoryOther, and tags are deduplicated preserving first occurrence.
func (m *MemoryRecord) Normalize() {
	if m.Importance == 0 {
		m.Importance = DefaultImportance
	}
	if m.Category == "" {
		m.Category = CategoryOther
	}
	m.Tags = DedupTags(m.Tags)
}

// NaturalKey returns the (userID, trimmed content) pair used as a natural key
// for duplicate detection during import and for cross-store identity matching.
func (m *MemoryRecord) NaturalKey() string {
	return m.UserID + "\x00" + strings.TrimSpace(m.Content)
}

// DedupTags removes duplicate and empty tags, preserving first occurrence.
func DedupTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := tags[:0]
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
