package storage

import (
	"errors"

	"github.com/storyloom/lorebase/pkg/types"
)

var (
	// ErrNotFound indicates that no document matches a point lookup.
	ErrNotFound = errors.New("document not found")

	// ErrConflict indicates that an insert or update would violate a
	// uniqueness constraint, e.g. a duplicate (novel_id, number) chapter or
	// (novel_id, name) character. The existing data is left untouched.
	ErrConflict = errors.New("uniqueness conflict")

	// ErrInvalidInput indicates that the input document or parameters are
	// invalid (missing required fields, malformed identifier).
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable indicates that the store could not be reached in time:
	// the connection pool was exhausted, the request timed out, or the
	// circuit breaker is open. Safe for the caller to retry.
	ErrUnavailable = errors.New("store unavailable")
)

// Patch types use pointer fields so that "absent" and "set to zero value" are
// distinguishable. Nil fields are left unchanged by the store. They double as
// the JSON bodies accepted by the REST mutation surface.

// NovelPatch carries the mutable novel fields for a partial update.
type NovelPatch struct {
	Summary  *string              `json:"summary,omitempty"`
	Tags     *[]string            `json:"tags,omitempty"`
	Metadata *types.NovelMetadata `json:"metadata,omitempty"`
}

// ChapterPatch carries the mutable chapter fields for a partial update.
// Setting Number re-checks (novel_id, number) uniqueness.
type ChapterPatch struct {
	Number    *int      `json:"number,omitempty"`
	Title     *string   `json:"title,omitempty"`
	Summary   *string   `json:"summary,omitempty"`
	KeyPoints *[]string `json:"key_points,omitempty"`
	Content   *string   `json:"content,omitempty"`
}

// CharacterPatch carries the mutable character fields for a partial update.
// Setting Name re-checks (novel_id, name) uniqueness.
type CharacterPatch struct {
	Name          *string               `json:"name,omitempty"`
	Role          *string               `json:"role,omitempty"`
	Description   *string               `json:"description,omitempty"`
	KeyTraits     *[]string             `json:"key_traits,omitempty"`
	Relationships *[]types.Relationship `json:"relationships,omitempty"`
}

// QAPatch carries the mutable Q&A fields for a partial update.
type QAPatch struct {
	Question *string   `json:"question,omitempty"`
	Answer   *string   `json:"answer,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}
