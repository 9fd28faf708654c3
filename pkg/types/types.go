// Package types defines the core data structures for the Lorebase knowledge
// store: novels, chapters, characters, and Q&A entries. These types are shared
// by the storage backends, the RPC layer, and the response shaper.
package types

import (
	"crypto/rand"
	"encoding/hex"
)

// Character role constants. Role is an open string; these are the values
// written by the population tooling.
const (
	RoleProtagonist = "protagonist"
	RoleAntagonist  = "antagonist"
	RoleSupporting  = "supporting"
)

// Novel is the top-level work record. Summary, tags, and metadata are the
// mutable fields; deleting a novel does NOT cascade to its chapters or
// characters — orphan cleanup is the caller's responsibility.
type Novel struct {
	ID       string         `json:"id,omitempty"`
	Title    string         `json:"title"`
	Author   string         `json:"author"`
	Summary  string         `json:"summary"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata *NovelMetadata `json:"metadata,omitempty"`
}

// NovelMetadata is the extended metadata block, kept separate so that the
// common queries stay light.
type NovelMetadata struct {
	PublicationDate string   `json:"publication_date,omitempty"`
	Genres          []string `json:"genres,omitempty"`
	WordCount       int      `json:"word_count,omitempty"`
	Language        string   `json:"language,omitempty"`
}

// Chapter belongs to a novel via NovelID (a soft reference; the store does
// not enforce it). The (NovelID, Number) pair is unique within a novel.
// Content is the optional full text and is stored but excluded from compact
// responses by the shaper.
type Chapter struct {
	ID        string   `json:"id,omitempty"`
	NovelID   string   `json:"novel_id"`
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points,omitempty"`
	Content   string   `json:"content,omitempty"`
}

// Character belongs to a novel via NovelID. The (NovelID, Name) pair is
// unique within a novel.
type Character struct {
	ID            string         `json:"id,omitempty"`
	NovelID       string         `json:"novel_id"`
	Name          string         `json:"name"`
	Role          string         `json:"role"`
	Description   string         `json:"description"`
	KeyTraits     []string       `json:"key_traits,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Relationship links a character to another character, possibly by name only.
// CharacterID is a soft reference: it may be empty when the referenced
// character record does not exist yet, and is never auto-resolved.
type Relationship struct {
	CharacterID      string `json:"character_id,omitempty"`
	CharacterName    string `json:"character_name"`
	RelationshipType string `json:"relationship_type"`
}

// QAEntry is a knowledge-base question/answer pair. NovelID is optional;
// empty means general knowledge not tied to a specific novel.
type QAEntry struct {
	ID       string   `json:"id,omitempty"`
	NovelID  string   `json:"novel_id,omitempty"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Tags     []string `json:"tags,omitempty"`
}

// docIDBytes is the raw length of a document identifier. IDs render as
// 24 lowercase hex characters, matching the format the population scrapers
// write.
const docIDBytes = 12

// NewDocID generates a new opaque 24-hex-character document identifier.
func NewDocID() string {
	var b [docIDBytes]byte
	// crypto/rand.Read never fails on supported platforms.
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// IsDocID reports whether s is a well-formed 24-hex-character document
// identifier. It validates shape only, not existence.
func IsDocID(s string) bool {
	if len(s) != 2*docIDBytes {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
