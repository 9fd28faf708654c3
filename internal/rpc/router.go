package rpc

import (
	"context"
	"errors"
	"regexp"
	"regexp/syntax"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/storyloom/lorebase/internal/shaper"
	"github.com/storyloom/lorebase/internal/storage"
	"github.com/storyloom/lorebase/pkg/types"
)

// MaxPatternLength caps regex pattern size before compilation.
const MaxPatternLength = 512

// regexCacheSize bounds the compiled-pattern LRU cache.
const regexCacheSize = 256

// Router maps a validated method plus parameter bag onto exactly one store
// call and shapes the result. Resolution of ambiguous parameters is
// priority-ordered and deterministic.
//
// Regex bounding: Go's RE2 engine is linear-time, so catastrophic
// backtracking cannot occur at match time. The contract is nevertheless
// enforced structurally and portably: patterns longer than MaxPatternLength
// or containing a quantified subexpression nested inside another quantifier
// (the classic ReDoS shape, e.g. `(a+)+b`) are rejected as InvalidParams
// before compilation. Compiled programs are LRU-cached.
type Router struct {
	store   storage.DocumentStore
	shaper  *shaper.Shaper
	regexes *lru.Cache[string, *regexp.Regexp]
}

// NewRouter builds a Router over the given store and shaper.
func NewRouter(store storage.DocumentStore, sh *shaper.Shaper) *Router {
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	return &Router{store: store, shaper: sh, regexes: cache}
}

// QueryNovel resolves query_novel: exact lookup by novel_id.
func (r *Router) QueryNovel(ctx context.Context, args QueryNovelArgs) (shaper.Payload, error) {
	if args.NovelID == "" {
		return nil, Errorf(ErrCodeInvalidParams, "novel_id is required")
	}
	n, err := r.store.GetNovel(ctx, args.NovelID)
	if err != nil {
		return nil, err
	}
	return r.shaper.ShapeNovel(n), nil
}

// QueryChapter resolves query_chapter with exact-id precedence: chapter_id,
// then (novel_id, chapter_number), then chapter_title. The first non-empty
// parameter in that order wins; the rest are ignored.
func (r *Router) QueryChapter(ctx context.Context, args QueryChapterArgs) (shaper.Payload, error) {
	var (
		c   *types.Chapter
		err error
	)
	switch {
	case args.ChapterID != "":
		c, err = r.store.GetChapter(ctx, args.ChapterID)
	case args.ChapterNumber != nil:
		if args.NovelID == "" {
			return nil, Errorf(ErrCodeInvalidParams, "chapter_number requires novel_id")
		}
		c, err = r.store.GetChapterByNumber(ctx, args.NovelID, *args.ChapterNumber)
	case args.ChapterTitle != "":
		c, err = r.store.GetChapterByTitle(ctx, args.NovelID, args.ChapterTitle)
	default:
		return nil, Errorf(ErrCodeInvalidParams,
			"one of chapter_id, chapter_number+novel_id, chapter_title is required")
	}
	if err != nil {
		return nil, err
	}
	return r.shaper.ShapeChapter(c), nil
}

// QueryCharacter resolves query_character: exact lookup by character_id.
func (r *Router) QueryCharacter(ctx context.Context, args QueryCharacterArgs) (shaper.Payload, error) {
	if args.CharacterID == "" {
		return nil, Errorf(ErrCodeInvalidParams, "character_id is required")
	}
	c, err := r.store.GetCharacter(ctx, args.CharacterID)
	if err != nil {
		return nil, err
	}
	return r.shaper.ShapeCharacter(c), nil
}

// QueryChapterRegex matches the pattern against title, summary and
// key_points of every chapter, in store order. Zero matches is a success.
func (r *Router) QueryChapterRegex(ctx context.Context, args RegexArgs) (shaper.Payload, error) {
	re, err := r.compile(args.RegexPattern)
	if err != nil {
		return nil, err
	}
	chapters, err := r.store.ScanChapters(ctx)
	if err != nil {
		return nil, err
	}
	var matched []types.Chapter
	for _, c := range chapters {
		if re.MatchString(c.Title) || re.MatchString(c.Summary) || matchAny(re, c.KeyPoints) {
			matched = append(matched, c)
		}
	}
	return r.shaper.ShapeChapterList(matched), nil
}

// QueryCharacterRegex matches against name, description and key_traits.
func (r *Router) QueryCharacterRegex(ctx context.Context, args RegexArgs) (shaper.Payload, error) {
	re, err := r.compile(args.RegexPattern)
	if err != nil {
		return nil, err
	}
	characters, err := r.store.ScanCharacters(ctx)
	if err != nil {
		return nil, err
	}
	var matched []types.Character
	for _, c := range characters {
		if re.MatchString(c.Name) || re.MatchString(c.Description) || matchAny(re, c.KeyTraits) {
			matched = append(matched, c)
		}
	}
	return r.shaper.ShapeCharacterList(matched), nil
}

// QueryQARegex matches against question and answer.
func (r *Router) QueryQARegex(ctx context.Context, args RegexArgs) (shaper.Payload, error) {
	re, err := r.compile(args.RegexPattern)
	if err != nil {
		return nil, err
	}
	entries, err := r.store.ScanQA(ctx)
	if err != nil {
		return nil, err
	}
	var matched []types.QAEntry
	for _, qa := range entries {
		if re.MatchString(qa.Question) || re.MatchString(qa.Answer) {
			matched = append(matched, qa)
		}
	}
	return r.shaper.ShapeQAList(matched), nil
}

func matchAny(re *regexp.Regexp, items []string) bool {
	for _, item := range items {
		if re.MatchString(item) {
			return true
		}
	}
	return false
}

// compile returns a compiled, cached pattern or an InvalidParams error.
func (r *Router) compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, Errorf(ErrCodeInvalidParams, "regex_pattern is required")
	}
	if len(pattern) > MaxPatternLength {
		return nil, Errorf(ErrCodeInvalidParams,
			"regex_pattern exceeds %d characters", MaxPatternLength)
	}
	if re, ok := r.regexes.Get(pattern); ok {
		return re, nil
	}

	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, Errorf(ErrCodeInvalidParams, "invalid regex_pattern: %v", err)
	}
	if hasNestedQuantifier(parsed, false) {
		return nil, Errorf(ErrCodeInvalidParams,
			"regex_pattern contains a nested quantifier")
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, Errorf(ErrCodeInvalidParams, "invalid regex_pattern: %v", err)
	}
	r.regexes.Add(pattern, re)
	return re, nil
}

// hasNestedQuantifier walks the parse tree and reports whether an unbounded
// quantifier (star, plus, counted repeat) encloses another one. `?` is not
// counted on either side; `(a?)+` cannot blow up any engine.
func hasNestedQuantifier(re *syntax.Regexp, inQuantifier bool) bool {
	quantifier := re.Op == syntax.OpStar || re.Op == syntax.OpPlus || re.Op == syntax.OpRepeat
	if quantifier && inQuantifier {
		return true
	}
	for _, sub := range re.Sub {
		if hasNestedQuantifier(sub, inQuantifier || quantifier) {
			return true
		}
	}
	return false
}

// CodeForError maps an error from the router or store to its JSON-RPC code.
func CodeForError(err error) int {
	var rpcErr *Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr.Code
	case errors.Is(err, storage.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, storage.ErrConflict):
		return ErrCodeInvalidParams
	case errors.Is(err, storage.ErrUnavailable):
		return ErrCodeUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeServerError
	default:
		return ErrCodeInternalError
	}
}
