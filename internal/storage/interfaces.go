// Package storage defines the typed document-store boundary for Lorebase.
//
// The DocumentStore interface is the only way the protocol layer touches the
// underlying database: point lookups by id, compound lookups by
// (novel_id, field), ordered scans for regex filtering, and single-document
// mutation primitives. It has no protocol knowledge. Backends exist for
// SQLite (default) and PostgreSQL.
package storage

import (
	"context"

	"github.com/storyloom/lorebase/pkg/types"
)

// DocumentStore provides typed operations against the four collections.
//
// All mutation primitives are atomic at single-document granularity and
// return the definitive post-write state. Scans return documents in
// store-native (insertion) order. Foreign novel_id references are NOT
// enforced; callers must tolerate dangling references.
type DocumentStore interface {
	NovelStore
	ChapterStore
	CharacterStore
	QAStore

	// Ping verifies store connectivity. Used by health checks and the
	// gateway circuit breaker probe.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// NovelStore holds the novel collection operations.
type NovelStore interface {
	// InsertNovel stores a new novel. An empty ID is assigned a fresh one.
	InsertNovel(ctx context.Context, n *types.Novel) (*types.Novel, error)

	// GetNovel retrieves a novel by id. Returns ErrNotFound when missing.
	GetNovel(ctx context.Context, id string) (*types.Novel, error)

	// ListNovels returns up to limit novels in insertion order.
	ListNovels(ctx context.Context, limit int) ([]types.Novel, error)

	// PatchNovel applies a partial update and returns the post-write novel.
	PatchNovel(ctx context.Context, id string, p NovelPatch) (*types.Novel, error)

	// DeleteNovel removes a novel by id. Chapters and characters referencing
	// it are left in place (documented hazard, not auto-repaired).
	DeleteNovel(ctx context.Context, id string) error
}

// ChapterStore holds the chapter collection operations.
type ChapterStore interface {
	// InsertChapter stores a new chapter. Fails ErrConflict when another
	// chapter of the same novel already has the same number.
	InsertChapter(ctx context.Context, c *types.Chapter) (*types.Chapter, error)

	// GetChapter retrieves a chapter by id.
	GetChapter(ctx context.Context, id string) (*types.Chapter, error)

	// GetChapterByNumber retrieves the chapter with the given number within
	// a novel.
	GetChapterByNumber(ctx context.Context, novelID string, number int) (*types.Chapter, error)

	// GetChapterByTitle retrieves the first chapter whose title matches
	// case-insensitively. An empty novelID searches across all novels.
	GetChapterByTitle(ctx context.Context, novelID, title string) (*types.Chapter, error)

	// ListChaptersByNovel returns a novel's chapters ordered by number.
	ListChaptersByNovel(ctx context.Context, novelID string) ([]types.Chapter, error)

	// ScanChapters returns all chapters in insertion order, for
	// regex-filtered scans at the router layer.
	ScanChapters(ctx context.Context) ([]types.Chapter, error)

	// PatchChapter applies a partial update and returns the post-write
	// chapter. A number change that collides fails ErrConflict.
	PatchChapter(ctx context.Context, id string, p ChapterPatch) (*types.Chapter, error)

	// DeleteChapter removes a chapter by id.
	DeleteChapter(ctx context.Context, id string) error
}

// CharacterStore holds the character collection operations.
type CharacterStore interface {
	// InsertCharacter stores a new character. Fails ErrConflict when another
	// character of the same novel already has the same name.
	InsertCharacter(ctx context.Context, c *types.Character) (*types.Character, error)

	// GetCharacter retrieves a character by id.
	GetCharacter(ctx context.Context, id string) (*types.Character, error)

	// GetCharacterByName retrieves the character with the given name within
	// a novel (exact, case-insensitive).
	GetCharacterByName(ctx context.Context, novelID, name string) (*types.Character, error)

	// ListCharactersByNovel returns a novel's characters ordered by name.
	ListCharactersByNovel(ctx context.Context, novelID string) ([]types.Character, error)

	// ScanCharacters returns all characters in insertion order.
	ScanCharacters(ctx context.Context) ([]types.Character, error)

	// PatchCharacter applies a partial update and returns the post-write
	// character.
	PatchCharacter(ctx context.Context, id string, p CharacterPatch) (*types.Character, error)

	// DeleteCharacter removes a character by id.
	DeleteCharacter(ctx context.Context, id string) error
}

// QAStore holds the Q&A collection operations.
type QAStore interface {
	// InsertQA stores a new Q&A entry.
	InsertQA(ctx context.Context, qa *types.QAEntry) (*types.QAEntry, error)

	// GetQA retrieves a Q&A entry by id.
	GetQA(ctx context.Context, id string) (*types.QAEntry, error)

	// ListQA returns up to limit entries in insertion order. An empty
	// novelID lists all entries, including general knowledge.
	ListQA(ctx context.Context, novelID string, limit int) ([]types.QAEntry, error)

	// ScanQA returns all Q&A entries in insertion order.
	ScanQA(ctx context.Context) ([]types.QAEntry, error)

	// PatchQA applies a partial update and returns the post-write entry.
	PatchQA(ctx context.Context, id string, p QAPatch) (*types.QAEntry, error)

	// DeleteQA removes a Q&A entry by id.
	DeleteQA(ctx context.Context, id string) error
}
