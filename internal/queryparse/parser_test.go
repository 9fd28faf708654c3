package queryparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCollectionHints(t *testing.T) {
	assert.Equal(t, CollectionChapters, Parse("summary of chapter 3").Collection)
	assert.Equal(t, CollectionCharacters, Parse("find the character named Maren").Collection)
	assert.Equal(t, CollectionQA, Parse("what questions exist").Collection)
	assert.Equal(t, CollectionNovels, Parse("anything else at all").Collection,
		"unhinted queries default to novels")
}

func TestParseQueryType(t *testing.T) {
	assert.Equal(t, TypeSummary, Parse("give me an overview").QueryType)
	assert.Equal(t, TypeDetails, Parse("more information please").QueryType)
	assert.Equal(t, TypeList, Parse("list everything").QueryType)
	assert.Equal(t, TypeSearch, Parse("brave sailors").QueryType)
}

func TestParseKeywordsFilterStopWords(t *testing.T) {
	p := Parse("find the brave sailor in the storm")
	assert.Equal(t, []string{"brave", "sailor", "storm"}, p.Keywords)
}

func TestParseKeywordsStripPunctuation(t *testing.T) {
	p := Parse("who killed Odo?")
	assert.Contains(t, p.Keywords, "odo")
	assert.Contains(t, p.Keywords, "killed")
}

func TestParseFilters(t *testing.T) {
	p := Parse("chapters of novel id: abc123 limit: 5 with tags: war, sea")
	assert.Equal(t, "abc123", p.Filters.NovelID)
	assert.Equal(t, []string{"war", "sea"}, p.Filters.Tags)
	assert.Equal(t, 5, p.Limit)
}

func TestParseCharacterName(t *testing.T) {
	p := Parse("details about character named Maren")
	assert.Equal(t, "Maren", p.Filters.CharacterName)
}

func TestParseEmptyQueryIsValid(t *testing.T) {
	p := Parse("")
	assert.Equal(t, CollectionNovels, p.Collection)
	assert.Equal(t, TypeSearch, p.QueryType)
	assert.Empty(t, p.Keywords)
	assert.Zero(t, p.Limit)
}
