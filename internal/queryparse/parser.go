// Package queryparse maps free-form text onto a structured search request.
// It is a best-effort convenience layer: the guaranteed query surface is the
// closed RPC method set, and callers must treat the mapping as approximate.
// Zero extracted keywords or zero matches downstream is a success, never an
// error.
package queryparse

import (
	"regexp"
	"strconv"
	"strings"
)

// Collection names a parse can resolve to.
const (
	CollectionNovels     = "novels"
	CollectionChapters   = "chapters"
	CollectionCharacters = "characters"
	CollectionQA         = "qa"
)

// Query types a parse can resolve to.
const (
	TypeSearch  = "search"
	TypeSummary = "summary"
	TypeDetails = "details"
	TypeList    = "list"
)

// Filters carries the structured filters extracted from a query.
type Filters struct {
	NovelID       string   `json:"novel_id,omitempty"`
	CharacterName string   `json:"character_name,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// Params is the structured form of a parsed free-text query.
type Params struct {
	Collection string   `json:"collection"`
	QueryType  string   `json:"query_type"`
	Keywords   []string `json:"keywords"`
	Filters    Filters  `json:"filters"`
	Limit      int      `json:"limit,omitempty"` // 0 means unspecified
}

var (
	novelIDRe   = regexp.MustCompile(`novel\s+(?:id|ID)?\s*[:=]?\s*([a-zA-Z0-9]+)`)
	charNameRe  = regexp.MustCompile(`character\s+(?:named|called)?\s*[:=]?\s*([a-zA-Z ]+)`)
	tagsRe      = regexp.MustCompile(`tags?\s*[:=]?\s*([a-zA-Z, ]+)`)
	limitRe     = regexp.MustCompile(`limit\s*[:=]?\s*(\d+)`)
	nonAlphaNum = regexp.MustCompile(`^[^a-z0-9]+|[^a-z0-9]+$`)
)

// Keyword-to-collection mapping, checked in order; first hit wins.
var collectionHints = []struct{ keyword, collection string }{
	{"novel", CollectionNovels},
	{"chapter", CollectionChapters},
	{"character", CollectionCharacters},
	{"qa", CollectionQA},
	{"question", CollectionQA},
	{"answer", CollectionQA},
}

var queryTypeHints = []struct{ keyword, queryType string }{
	{"summary", TypeSummary},
	{"overview", TypeSummary},
	{"detail", TypeDetails},
	{"information", TypeDetails},
	{"search", TypeSearch},
	{"find", TypeSearch},
	{"list", TypeList},
	{"all", TypeList},
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "in": {}, "on": {}, "at": {}, "of": {},
	"to": {}, "for": {}, "with": {}, "about": {}, "by": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "can": {}, "could": {}, "will": {},
	"would": {}, "should": {}, "shall": {},
	"get": {}, "find": {}, "show": {}, "tell": {}, "give": {},
	"search": {}, "query": {}, "look": {},
}

// Parse maps free text to structured search parameters. The collection
// defaults to novels and the query type to search when no hint is present.
func Parse(query string) Params {
	return Params{
		Collection: extractCollection(query),
		QueryType:  extractQueryType(query),
		Keywords:   extractKeywords(query),
		Filters:    extractFilters(query),
		Limit:      extractLimit(query),
	}
}

func extractCollection(query string) string {
	lower := strings.ToLower(query)
	for _, hint := range collectionHints {
		if strings.Contains(lower, hint.keyword) {
			return hint.collection
		}
	}
	return CollectionNovels
}

func extractQueryType(query string) string {
	lower := strings.ToLower(query)
	for _, hint := range queryTypeHints {
		if strings.Contains(lower, hint.keyword) {
			return hint.queryType
		}
	}
	return TypeSearch
}

func extractKeywords(query string) []string {
	var keywords []string
	for _, word := range strings.Fields(query) {
		word = strings.ToLower(word)
		word = nonAlphaNum.ReplaceAllString(word, "")
		if len(word) <= 2 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		keywords = append(keywords, word)
	}
	return keywords
}

func extractFilters(query string) Filters {
	var f Filters
	if m := novelIDRe.FindStringSubmatch(query); m != nil {
		f.NovelID = m[1]
	}
	if m := charNameRe.FindStringSubmatch(query); m != nil {
		f.CharacterName = strings.TrimSpace(m[1])
	}
	if m := tagsRe.FindStringSubmatch(query); m != nil {
		for _, tag := range strings.Split(m[1], ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				f.Tags = append(f.Tags, tag)
			}
		}
	}
	return f
}

func extractLimit(query string) int {
	m := limitRe.FindStringSubmatch(query)
	if m == nil {
		return 0
	}
	limit, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return limit
}
