// Package sqlite implements storage.DocumentStore on SQLite.
//
// Documents are stored one table per collection with list-valued fields
// (tags, key_points, relationships) serialized as JSON columns. rowid keeps
// insertion order, which is the store-native scan order the regex queries
// rely on. Uniqueness of (novel_id, number) for chapters and
// (novel_id, name) for characters is enforced by unique indexes so that a
// duplicate insert fails without mutating existing data.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/storyloom/lorebase/internal/storage"
	"github.com/storyloom/lorebase/pkg/types"
)

// Schema creates the four collections and their indexes. Searchable text
// columns get plain indexes; the compound uniqueness constraints of the data
// model are unique indexes.
const Schema = `
CREATE TABLE IF NOT EXISTS novels (
	id       TEXT PRIMARY KEY,
	title    TEXT NOT NULL,
	author   TEXT NOT NULL,
	summary  TEXT NOT NULL DEFAULT '',
	tags     TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_novels_title ON novels(title);

CREATE TABLE IF NOT EXISTS chapters (
	id         TEXT PRIMARY KEY,
	novel_id   TEXT NOT NULL,
	number     INTEGER NOT NULL,
	title      TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	key_points TEXT,
	content    TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_chapters_novel_number ON chapters(novel_id, number);
CREATE INDEX IF NOT EXISTS idx_chapters_title ON chapters(title);

CREATE TABLE IF NOT EXISTS characters (
	id            TEXT PRIMARY KEY,
	novel_id      TEXT NOT NULL,
	name          TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	key_traits    TEXT,
	relationships TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_characters_novel_name ON characters(novel_id, name);

CREATE TABLE IF NOT EXISTS qa_entries (
	id       TEXT PRIMARY KEY,
	novel_id TEXT,
	question TEXT NOT NULL,
	answer   TEXT NOT NULL,
	tags     TEXT
);
CREATE INDEX IF NOT EXISTS idx_qa_novel ON qa_entries(novel_id);
`

// Store implements storage.DocumentStore using SQLite.
type Store struct {
	db *sql.DB
}

// New opens a SQLite database at dsn, configures WAL mode, and creates the
// schema. Use ":memory:" for an ephemeral store in tests.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load;
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite unique-index violation.
// modernc.org/sqlite surfaces these as plain errors carrying the constraint
// message, so string matching is the stable way to detect them.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// marshalList serializes a string slice for a JSON column. Nil stays NULL.
func marshalList(list []string) (sql.NullString, error) {
	if list == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalList(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ---------------------------------------------------------------------------
// Novels
// ---------------------------------------------------------------------------

// InsertNovel stores a new novel, assigning an id when none is set.
func (s *Store) InsertNovel(ctx context.Context, n *types.Novel) (*types.Novel, error) {
	if n == nil || n.Title == "" || n.Author == "" {
		return nil, fmt.Errorf("%w: novel title and author are required", storage.ErrInvalidInput)
	}

	stored := *n
	if stored.ID == "" {
		stored.ID = types.NewDocID()
	} else if !types.IsDocID(stored.ID) {
		return nil, fmt.Errorf("%w: malformed novel id %q", storage.ErrInvalidInput, stored.ID)
	}

	tagsJSON, err := marshalList(stored.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	var metaJSON sql.NullString
	if stored.Metadata != nil {
		data, err := json.Marshal(stored.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO novels (id, title, author, summary, tags, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.Title, stored.Author, stored.Summary, tagsJSON, metaJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: novel id %s already exists", storage.ErrConflict, stored.ID)
		}
		return nil, fmt.Errorf("failed to insert novel: %w", err)
	}

	return &stored, nil
}

// GetNovel retrieves a novel by id.
func (s *Store) GetNovel(ctx context.Context, id string) (*types.Novel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, author, summary, tags, metadata
		FROM novels WHERE id = ?`, id)
	return scanNovel(row)
}

// ListNovels returns up to limit novels in insertion order.
func (s *Store) ListNovels(ctx context.Context, limit int) ([]types.Novel, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, author, summary, tags, metadata
		FROM novels ORDER BY rowid LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list novels: %w", err)
	}
	defer rows.Close()

	var novels []types.Novel
	for rows.Next() {
		n, err := scanNovel(rows)
		if err != nil {
			return nil, err
		}
		novels = append(novels, *n)
	}
	return novels, rows.Err()
}

// PatchNovel applies a partial update and returns the post-write novel.
func (s *Store) PatchNovel(ctx context.Context, id string, p storage.NovelPatch) (*types.Novel, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var sets []string
	var args []interface{}

	if p.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *p.Summary)
	}
	if p.Tags != nil {
		tagsJSON, err := marshalList(*p.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, tagsJSON)
	}
	if p.Metadata != nil {
		data, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(data))
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := tx.ExecContext(ctx,
			"UPDATE novels SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to patch novel: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return nil, storage.ErrNotFound
		}
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, title, author, summary, tags, metadata
		FROM novels WHERE id = ?`, id)
	n, err := scanNovel(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit patch: %w", err)
	}
	return n, nil
}

// DeleteNovel removes a novel. Orphaned chapters/characters are left behind.
func (s *Store) DeleteNovel(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "novels", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNovel(row rowScanner) (*types.Novel, error) {
	var n types.Novel
	var tags, meta sql.NullString
	err := row.Scan(&n.ID, &n.Title, &n.Author, &n.Summary, &tags, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan novel: %w", err)
	}
	if n.Tags, err = unmarshalList(tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if meta.Valid && meta.String != "" {
		var m types.NovelMetadata
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		n.Metadata = &m
	}
	return &n, nil
}

// ---------------------------------------------------------------------------
// Chapters
// ---------------------------------------------------------------------------

// InsertChapter stores a new chapter. A duplicate (novel_id, number) fails
// ErrConflict and leaves existing data untouched.
func (s *Store) InsertChapter(ctx context.Context, c *types.Chapter) (*types.Chapter, error) {
	if c == nil || c.NovelID == "" || c.Title == "" {
		return nil, fmt.Errorf("%w: chapter novel_id and title are required", storage.ErrInvalidInput)
	}
	if c.Number < 0 {
		return nil, fmt.Errorf("%w: chapter number must not be negative", storage.ErrInvalidInput)
	}

	stored := *c
	if stored.ID == "" {
		stored.ID = types.NewDocID()
	} else if !types.IsDocID(stored.ID) {
		return nil, fmt.Errorf("%w: malformed chapter id %q", storage.ErrInvalidInput, stored.ID)
	}

	keyPointsJSON, err := marshalList(stored.KeyPoints)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key_points: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chapters (id, novel_id, number, title, summary, key_points, content)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.NovelID, stored.Number, stored.Title, stored.Summary,
		keyPointsJSON, nullIfEmpty(stored.Content))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: chapter %d already exists for novel %s",
				storage.ErrConflict, stored.Number, stored.NovelID)
		}
		return nil, fmt.Errorf("failed to insert chapter: %w", err)
	}

	return &stored, nil
}

// GetChapter retrieves a chapter by id.
func (s *Store) GetChapter(ctx context.Context, id string) (*types.Chapter, error) {
	row := s.db.QueryRowContext(ctx, chapterSelect+` WHERE id = ?`, id)
	return scanChapter(row)
}

// GetChapterByNumber retrieves the chapter with the given number in a novel.
func (s *Store) GetChapterByNumber(ctx context.Context, novelID string, number int) (*types.Chapter, error) {
	row := s.db.QueryRowContext(ctx,
		chapterSelect+` WHERE novel_id = ? AND number = ?`, novelID, number)
	return scanChapter(row)
}

// GetChapterByTitle retrieves the first chapter whose title matches
// case-insensitively, scoped to novelID when non-empty.
func (s *Store) GetChapterByTitle(ctx context.Context, novelID, title string) (*types.Chapter, error) {
	var row *sql.Row
	if novelID != "" {
		row = s.db.QueryRowContext(ctx,
			chapterSelect+` WHERE novel_id = ? AND LOWER(title) = LOWER(?) ORDER BY rowid LIMIT 1`,
			novelID, title)
	} else {
		row = s.db.QueryRowContext(ctx,
			chapterSelect+` WHERE LOWER(title) = LOWER(?) ORDER BY rowid LIMIT 1`, title)
	}
	return scanChapter(row)
}

// ListChaptersByNovel returns a novel's chapters ordered by number.
func (s *Store) ListChaptersByNovel(ctx context.Context, novelID string) ([]types.Chapter, error) {
	return s.queryChapters(ctx, chapterSelect+` WHERE novel_id = ? ORDER BY number`, novelID)
}

// ScanChapters returns all chapters in insertion order.
func (s *Store) ScanChapters(ctx context.Context) ([]types.Chapter, error) {
	return s.queryChapters(ctx, chapterSelect+` ORDER BY rowid`)
}

// PatchChapter applies a partial update and returns the post-write chapter.
func (s *Store) PatchChapter(ctx context.Context, id string, p storage.ChapterPatch) (*types.Chapter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var sets []string
	var args []interface{}

	if p.Number != nil {
		if *p.Number < 0 {
			return nil, fmt.Errorf("%w: chapter number must not be negative", storage.ErrInvalidInput)
		}
		sets = append(sets, "number = ?")
		args = append(args, *p.Number)
	}
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *p.Summary)
	}
	if p.KeyPoints != nil {
		kpJSON, err := marshalList(*p.KeyPoints)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key_points: %w", err)
		}
		sets = append(sets, "key_points = ?")
		args = append(args, kpJSON)
	}
	if p.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *p.Content)
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := tx.ExecContext(ctx,
			"UPDATE chapters SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: chapter number already taken", storage.ErrConflict)
			}
			return nil, fmt.Errorf("failed to patch chapter: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return nil, storage.ErrNotFound
		}
	}

	row := tx.QueryRowContext(ctx, chapterSelect+` WHERE id = ?`, id)
	c, err := scanChapter(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit patch: %w", err)
	}
	return c, nil
}

// DeleteChapter removes a chapter by id.
func (s *Store) DeleteChapter(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "chapters", id)
}

const chapterSelect = `
	SELECT id, novel_id, number, title, summary, key_points, content
	FROM chapters`

func (s *Store) queryChapters(ctx context.Context, query string, args ...interface{}) ([]types.Chapter, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chapters: %w", err)
	}
	defer rows.Close()

	var chapters []types.Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, *c)
	}
	return chapters, rows.Err()
}

func scanChapter(row rowScanner) (*types.Chapter, error) {
	var c types.Chapter
	var keyPoints, content sql.NullString
	err := row.Scan(&c.ID, &c.NovelID, &c.Number, &c.Title, &c.Summary, &keyPoints, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chapter: %w", err)
	}
	if c.KeyPoints, err = unmarshalList(keyPoints); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key_points: %w", err)
	}
	if content.Valid {
		c.Content = content.String
	}
	return &c, nil
}

// ---------------------------------------------------------------------------
// Characters
// ---------------------------------------------------------------------------

// InsertCharacter stores a new character. A duplicate (novel_id, name) fails
// ErrConflict and leaves existing data untouched.
func (s *Store) InsertCharacter(ctx context.Context, c *types.Character) (*types.Character, error) {
	if c == nil || c.NovelID == "" || c.Name == "" {
		return nil, fmt.Errorf("%w: character novel_id and name are required", storage.ErrInvalidInput)
	}

	stored := *c
	if stored.ID == "" {
		stored.ID = types.NewDocID()
	} else if !types.IsDocID(stored.ID) {
		return nil, fmt.Errorf("%w: malformed character id %q", storage.ErrInvalidInput, stored.ID)
	}

	traitsJSON, err := marshalList(stored.KeyTraits)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key_traits: %w", err)
	}

	var relsJSON sql.NullString
	if stored.Relationships != nil {
		data, err := json.Marshal(stored.Relationships)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal relationships: %w", err)
		}
		relsJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO characters (id, novel_id, name, role, description, key_traits, relationships)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.NovelID, stored.Name, stored.Role, stored.Description,
		traitsJSON, relsJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: character %q already exists for novel %s",
				storage.ErrConflict, stored.Name, stored.NovelID)
		}
		return nil, fmt.Errorf("failed to insert character: %w", err)
	}

	return &stored, nil
}

// GetCharacter retrieves a character by id.
func (s *Store) GetCharacter(ctx context.Context, id string) (*types.Character, error) {
	row := s.db.QueryRowContext(ctx, characterSelect+` WHERE id = ?`, id)
	return scanCharacter(row)
}

// GetCharacterByName retrieves a novel's character by name,
// case-insensitively.
func (s *Store) GetCharacterByName(ctx context.Context, novelID, name string) (*types.Character, error) {
	row := s.db.QueryRowContext(ctx,
		characterSelect+` WHERE novel_id = ? AND LOWER(name) = LOWER(?) ORDER BY rowid LIMIT 1`,
		novelID, name)
	return scanCharacter(row)
}

// ListCharactersByNovel returns a novel's characters ordered by name.
func (s *Store) ListCharactersByNovel(ctx context.Context, novelID string) ([]types.Character, error) {
	return s.queryCharacters(ctx, characterSelect+` WHERE novel_id = ? ORDER BY name`, novelID)
}

// ScanCharacters returns all characters in insertion order.
func (s *Store) ScanCharacters(ctx context.Context) ([]types.Character, error) {
	return s.queryCharacters(ctx, characterSelect+` ORDER BY rowid`)
}

// PatchCharacter applies a partial update and returns the post-write
// character.
func (s *Store) PatchCharacter(ctx context.Context, id string, p storage.CharacterPatch) (*types.Character, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var sets []string
	var args []interface{}

	if p.Name != nil {
		if *p.Name == "" {
			return nil, fmt.Errorf("%w: character name must not be empty", storage.ErrInvalidInput)
		}
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, *p.Role)
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.KeyTraits != nil {
		traitsJSON, err := marshalList(*p.KeyTraits)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key_traits: %w", err)
		}
		sets = append(sets, "key_traits = ?")
		args = append(args, traitsJSON)
	}
	if p.Relationships != nil {
		data, err := json.Marshal(*p.Relationships)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal relationships: %w", err)
		}
		sets = append(sets, "relationships = ?")
		args = append(args, string(data))
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := tx.ExecContext(ctx,
			"UPDATE characters SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: character name already taken", storage.ErrConflict)
			}
			return nil, fmt.Errorf("failed to patch character: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return nil, storage.ErrNotFound
		}
	}

	row := tx.QueryRowContext(ctx, characterSelect+` WHERE id = ?`, id)
	c, err := scanCharacter(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit patch: %w", err)
	}
	return c, nil
}

// DeleteCharacter removes a character by id.
func (s *Store) DeleteCharacter(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "characters", id)
}

const characterSelect = `
	SELECT id, novel_id, name, role, description, key_traits, relationships
	FROM characters`

func (s *Store) queryCharacters(ctx context.Context, query string, args ...interface{}) ([]types.Character, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query characters: %w", err)
	}
	defer rows.Close()

	var characters []types.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		characters = append(characters, *c)
	}
	return characters, rows.Err()
}

func scanCharacter(row rowScanner) (*types.Character, error) {
	var c types.Character
	var traits, rels sql.NullString
	err := row.Scan(&c.ID, &c.NovelID, &c.Name, &c.Role, &c.Description, &traits, &rels)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan character: %w", err)
	}
	if c.KeyTraits, err = unmarshalList(traits); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key_traits: %w", err)
	}
	if rels.Valid && rels.String != "" {
		if err := json.Unmarshal([]byte(rels.String), &c.Relationships); err != nil {
			return nil, fmt.Errorf("failed to unmarshal relationships: %w", err)
		}
	}
	return &c, nil
}

// ---------------------------------------------------------------------------
// Q&A entries
// ---------------------------------------------------------------------------

// InsertQA stores a new Q&A entry. An empty novel_id means general knowledge.
func (s *Store) InsertQA(ctx context.Context, qa *types.QAEntry) (*types.QAEntry, error) {
	if qa == nil || qa.Question == "" || qa.Answer == "" {
		return nil, fmt.Errorf("%w: qa question and answer are required", storage.ErrInvalidInput)
	}

	stored := *qa
	if stored.ID == "" {
		stored.ID = types.NewDocID()
	} else if !types.IsDocID(stored.ID) {
		return nil, fmt.Errorf("%w: malformed qa id %q", storage.ErrInvalidInput, stored.ID)
	}

	tagsJSON, err := marshalList(stored.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO qa_entries (id, novel_id, question, answer, tags)
		VALUES (?, ?, ?, ?, ?)`,
		stored.ID, nullIfEmpty(stored.NovelID), stored.Question, stored.Answer, tagsJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: qa id %s already exists", storage.ErrConflict, stored.ID)
		}
		return nil, fmt.Errorf("failed to insert qa entry: %w", err)
	}

	return &stored, nil
}

// GetQA retrieves a Q&A entry by id.
func (s *Store) GetQA(ctx context.Context, id string) (*types.QAEntry, error) {
	row := s.db.QueryRowContext(ctx, qaSelect+` WHERE id = ?`, id)
	return scanQA(row)
}

// ListQA returns up to limit entries, optionally scoped to a novel.
func (s *Store) ListQA(ctx context.Context, novelID string, limit int) ([]types.QAEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if novelID != "" {
		return s.queryQA(ctx, qaSelect+` WHERE novel_id = ? ORDER BY rowid LIMIT ?`, novelID, limit)
	}
	return s.queryQA(ctx, qaSelect+` ORDER BY rowid LIMIT ?`, limit)
}

// ScanQA returns all Q&A entries in insertion order.
func (s *Store) ScanQA(ctx context.Context) ([]types.QAEntry, error) {
	return s.queryQA(ctx, qaSelect+` ORDER BY rowid`)
}

// PatchQA applies a partial update and returns the post-write entry.
func (s *Store) PatchQA(ctx context.Context, id string, p storage.QAPatch) (*types.QAEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var sets []string
	var args []interface{}

	if p.Question != nil {
		sets = append(sets, "question = ?")
		args = append(args, *p.Question)
	}
	if p.Answer != nil {
		sets = append(sets, "answer = ?")
		args = append(args, *p.Answer)
	}
	if p.Tags != nil {
		tagsJSON, err := marshalList(*p.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, tagsJSON)
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := tx.ExecContext(ctx,
			"UPDATE qa_entries SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to patch qa entry: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return nil, storage.ErrNotFound
		}
	}

	row := tx.QueryRowContext(ctx, qaSelect+` WHERE id = ?`, id)
	qa, err := scanQA(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit patch: %w", err)
	}
	return qa, nil
}

// DeleteQA removes a Q&A entry by id.
func (s *Store) DeleteQA(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "qa_entries", id)
}

const qaSelect = `
	SELECT id, novel_id, question, answer, tags
	FROM qa_entries`

func (s *Store) queryQA(ctx context.Context, query string, args ...interface{}) ([]types.QAEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query qa entries: %w", err)
	}
	defer rows.Close()

	var entries []types.QAEntry
	for rows.Next() {
		qa, err := scanQA(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *qa)
	}
	return entries, rows.Err()
}

func scanQA(row rowScanner) (*types.QAEntry, error) {
	var qa types.QAEntry
	var novelID, tags sql.NullString
	err := row.Scan(&qa.ID, &novelID, &qa.Question, &qa.Answer, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan qa entry: %w", err)
	}
	if novelID.Valid {
		qa.NovelID = novelID.String
	}
	if qa.Tags, err = unmarshalList(tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	return &qa, nil
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// deleteByID removes one row from table. The table name is always one of the
// four fixed collection names, never caller input.
func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
