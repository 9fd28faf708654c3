// Package postgres implements storage.DocumentStore on PostgreSQL.
//
// The layout mirrors the sqlite backend: one table per collection with
// list-valued fields serialized into JSONB columns and a BIGSERIAL seq
// column providing the insertion-order scan the regex queries need.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/storyloom/lorebase/internal/storage"
	"github.com/storyloom/lorebase/pkg/types"
)

// Schema creates the four collections and their indexes.
const Schema = `
CREATE TABLE IF NOT EXISTS novels (
	id       TEXT PRIMARY KEY,
	seq      BIGSERIAL,
	title    TEXT NOT NULL,
	author   TEXT NOT NULL,
	summary  TEXT NOT NULL DEFAULT '',
	tags     JSONB,
	metadata JSONB
);
CREATE INDEX IF NOT EXISTS idx_novels_title ON novels(title);

CREATE TABLE IF NOT EXISTS chapters (
	id         TEXT PRIMARY KEY,
	seq        BIGSERIAL,
	novel_id   TEXT NOT NULL,
	number     INTEGER NOT NULL,
	title      TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	key_points JSONB,
	content    TEXT,
	UNIQUE (novel_id, number)
);
CREATE INDEX IF NOT EXISTS idx_chapters_title ON chapters(title);

CREATE TABLE IF NOT EXISTS characters (
	id            TEXT PRIMARY KEY,
	seq           BIGSERIAL,
	novel_id      TEXT NOT NULL,
	name          TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	key_traits    JSONB,
	relationships JSONB,
	UNIQUE (novel_id, name)
);

CREATE TABLE IF NOT EXISTS qa_entries (
	id       TEXT PRIMARY KEY,
	seq      BIGSERIAL,
	novel_id TEXT,
	question TEXT NOT NULL,
	answer   TEXT NOT NULL,
	tags     JSONB
);
CREATE INDEX IF NOT EXISTS idx_qa_novel ON qa_entries(novel_id);
`

// Store implements storage.DocumentStore using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New connects to PostgreSQL at dsn and creates the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
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

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a unique-constraint violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func marshalList(list []string) (interface{}, error) {
	if list == nil {
		return nil, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(data), nil
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// ---------------------------------------------------------------------------
// Novels
// ---------------------------------------------------------------------------

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
	var metaJSON interface{}
	if stored.Metadata != nil {
		data, err := json.Marshal(stored.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metaJSON = string(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO novels (id, title, author, summary, tags, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		stored.ID, stored.Title, stored.Author, stored.Summary, tagsJSON, metaJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: novel id %s already exists", storage.ErrConflict, stored.ID)
		}
		return nil, fmt.Errorf("failed to insert novel: %w", err)
	}
	return &stored, nil
}

const novelSelect = `SELECT id, title, author, summary, tags, metadata FROM novels`

func (s *Store) GetNovel(ctx context.Context, id string) (*types.Novel, error) {
	row := s.db.QueryRowContext(ctx, novelSelect+` WHERE id = $1`, id)
	return scanNovel(row)
}

func (s *Store) ListNovels(ctx context.Context, limit int) ([]types.Novel, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, novelSelect+` ORDER BY seq LIMIT $1`, limit)
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

func (s *Store) PatchNovel(ctx context.Context, id string, p storage.NovelPatch) (*types.Novel, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	sets, args := []string{}, []interface{}{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Summary != nil {
		add("summary", *p.Summary)
	}
	if p.Tags != nil {
		tagsJSON, err := marshalList(*p.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tags: %w", err)
		}
		add("tags", tagsJSON)
	}
	if p.Metadata != nil {
		data, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		add("metadata", string(data))
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE novels SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to patch novel: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return nil, storage.ErrNotFound
		}
	}

	n, err := scanNovel(tx.QueryRowContext(ctx, novelSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit patch: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteNovel(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "novels", id)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
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

const chapterSelect = `SELECT id, novel_id, number, title, summary, key_points, content FROM chapters`

func (s *Store) GetChapter(ctx context.Context, id string) (*types.Chapter, error) {
	return scanChapter(s.db.QueryRowContext(ctx, chapterSelect+` WHERE id = $1`, id))
}

func (s *Store) GetChapterByNumber(ctx context.Context, novelID string, number int) (*types.Chapter, error) {
	return scanChapter(s.db.QueryRowContext(ctx,
		chapterSelect+` WHERE novel_id = $1 AND number = $2`, novelID, number))
}

func (s *Store) GetChapterByTitle(ctx context.Context, novelID, title string) (*types.Chapter, error) {
	if novelID != "" {
		return scanChapter(s.db.QueryRowContext(ctx,
			chapterSelect+` WHERE novel_id = $1 AND LOWER(title) = LOWER($2) ORDER BY seq LIMIT 1`,
			novelID, title))
	}
	return scanChapter(s.db.QueryRowContext(ctx,
		chapterSelect+` WHERE LOWER(title) = LOWER($1) ORDER BY seq LIMIT 1`, title))
}

func (s *Store) ListChaptersByNovel(ctx context.Context, novelID string) ([]types.Chapter, error) {
	return s.queryChapters(ctx, chapterSelect+` WHERE novel_id = $1 ORDER BY number`, novelID)
}

func (s *Store) ScanChapters(ctx context.Context) ([]types.Chapter, error) {
	return s.queryChapters(ctx, chapterSelect+` ORDER BY seq`)
}

func (s *Store) PatchChapter(ctx context.Context, id string, p storage.ChapterPatch) (*types.Chapter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	sets, args := []string{}, []interface{}{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Number != nil {
		if *p.Number < 0 {
			return nil, fmt.Errorf("%w: chapter number must not be negative", storage.ErrInvalidInput)
		}
		add("number", *p.Number)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Summary != nil {
		add("summary", *p.Summary)
	}
	if p.KeyPoints != nil {
		kpJSON, err := marshalList(*p.KeyPoints)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key_points: %w", err)
		}
		add("key_points", kpJSON)
	}
	if p.Content != nil {
		add("content", *p.Content)
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE chapters SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)), args...)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: chapter number already taken", storage.ErrConflict)
			}
			return nil, fmt.Errorf("failed to patch chapter: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return nil, storage.ErrNotFound
		}
	}

	c, err := scanChapter(tx.QueryRowContext(ctx, chapterSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit patch: %w", err)
	}
	return c, nil
}

func (s *Store) DeleteChapter(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "chapters", id)
}

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
	var relsJSON interface{}
	if stored.Relationships != nil {
		data, err := json.Marshal(stored.Relationships)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal relationships: %w", err)
		}
		relsJSON = string(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO characters (id, novel_id, name, role, description, key_traits, relationships)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
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

const characterSelect = `SELECT id, novel_id, name, role, description, key_traits, relationships FROM characters`

func (s *Store) GetCharacter(ctx context.Context, id string) (*types.Character, error) {
	return scanCharacter(s.db.QueryRowContext(ctx, characterSelect+` WHERE id = $1`, id))
}

func (s *Store) GetCharacterByName(ctx context.Context, novelID, name string) (*types.Character, error) {
	return scanCharacter(s.db.QueryRowContext(ctx,
		characterSelect+` WHERE novel_id = $1 AND LOWER(name) = LOWER($2) ORDER BY seq LIMIT 1`,
		novelID, name))
}

func (s *Store) ListCharactersByNovel(ctx context.Context, novelID string) ([]types.Character, error) {
	return s.queryCharacters(ctx, characterSelect+` WHERE novel_id = $1 ORDER BY name`, novelID)
}

func (s *Store) ScanCharacters(ctx context.Context) ([]types.Character, error) {
	return s.queryCharacters(ctx, characterSelect+` ORDER BY seq`)
}

func (s *Store) PatchCharacter(ctx context.Context, id string, p storage.CharacterPatch) (*types.Character, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	sets, args := []string{}, []interface{}{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Name != nil {
		if *p.Name == "" {
			return nil, fmt.Errorf("%w: character name must not be empty", storage.ErrInvalidInput)
		}
		add("name", *p.Name)
	}
	if p.Role != nil {
		add("role", *p.Role)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.KeyTraits != nil {
		traitsJSON, err := marshalList(*p.KeyTraits)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key_traits: %w", err)
		}
		add("key_traits", traitsJSON)
	}
	if p.Relationships != nil {
		data, err := json.Marshal(*p.Relationships)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal relationships: %w", err)
		}
		add("relationships", string(data))
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE characters SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)), args...)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: character name already taken", storage.ErrConflict)
			}
			return nil, fmt.Errorf("failed to patch character: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return nil, storage.ErrNotFound
		}
	}

	c, err := scanCharacter(tx.QueryRowContext(ctx, characterSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit patch: %w", err)
	}
	return c, nil
}

func (s *Store) DeleteCharacter(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "characters", id)
}

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
		VALUES ($1, $2, $3, $4, $5)`,
		stored.ID, nullIfEmpty(stored.NovelID), stored.Question, stored.Answer, tagsJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: qa id %s already exists", storage.ErrConflict, stored.ID)
		}
		return nil, fmt.Errorf("failed to insert qa entry: %w", err)
	}
	return &stored, nil
}

const qaSelect = `SELECT id, novel_id, question, answer, tags FROM qa_entries`

func (s *Store) GetQA(ctx context.Context, id string) (*types.QAEntry, error) {
	return scanQA(s.db.QueryRowContext(ctx, qaSelect+` WHERE id = $1`, id))
}

func (s *Store) ListQA(ctx context.Context, novelID string, limit int) ([]types.QAEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if novelID != "" {
		return s.queryQA(ctx, qaSelect+` WHERE novel_id = $1 ORDER BY seq LIMIT $2`, novelID, limit)
	}
	return s.queryQA(ctx, qaSelect+` ORDER BY seq LIMIT $1`, limit)
}

func (s *Store) ScanQA(ctx context.Context) ([]types.QAEntry, error) {
	return s.queryQA(ctx, qaSelect+` ORDER BY seq`)
}

func (s *Store) PatchQA(ctx context.Context, id string, p storage.QAPatch) (*types.QAEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	sets, args := []string{}, []interface{}{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Question != nil {
		add("question", *p.Question)
	}
	if p.Answer != nil {
		add("answer", *p.Answer)
	}
	if p.Tags != nil {
		tagsJSON, err := marshalList(*p.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tags: %w", err)
		}
		add("tags", tagsJSON)
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE qa_entries SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to patch qa entry: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return nil, storage.ErrNotFound
		}
	}

	qa, err := scanQA(tx.QueryRowContext(ctx, qaSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit patch: %w", err)
	}
	return qa, nil
}

func (s *Store) DeleteQA(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "qa_entries", id)
}

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

func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
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
