package shaper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/lorebase/pkg/types"
)

func TestHeuristicEstimatorMonotonic(t *testing.T) {
	est := HeuristicEstimator{}
	assert.Equal(t, 0, est.Estimate(""))
	assert.Equal(t, 1, est.Estimate("abc"))
	assert.Equal(t, 1, est.Estimate("abcd"))
	assert.Equal(t, 2, est.Estimate("abcde"))

	prev := 0
	text := ""
	for i := 0; i < 100; i++ {
		text += "x"
		cur := est.Estimate(text)
		assert.GreaterOrEqual(t, cur, prev, "estimate must never shrink as text grows")
		prev = cur
	}
}

func TestShapeChapterFitsUntouched(t *testing.T) {
	s := New(HeuristicEstimator{}, 3000)
	c := &types.Chapter{
		ID: types.NewDocID(), NovelID: types.NewDocID(),
		Number: 3, Title: "Landfall",
		Summary:   "The crew reaches the cape at dusk.",
		KeyPoints: []string{"arrival", "storm warning"},
	}

	out := s.ShapeChapter(c)
	assert.Equal(t, "Landfall", out["title"])
	assert.Equal(t, 3, out["number"])
	assert.Equal(t, c.Summary, out["summary"])
	assert.Equal(t, []string{"arrival", "storm warning"}, out["key_points"])
	_, exhausted := out["budget_exhausted"]
	assert.False(t, exhausted)
	_, hasContent := out["content"]
	assert.False(t, hasContent, "empty content is omitted")
}

func TestShapeChapterTruncatesContentLast(t *testing.T) {
	s := New(HeuristicEstimator{}, 100)
	c := &types.Chapter{
		ID: types.NewDocID(), NovelID: types.NewDocID(),
		Number: 1, Title: "Start",
		Summary: "Short summary.",
		Content: strings.Repeat("The tide rose steadily over the flats. ", 200),
	}

	out := s.ShapeChapter(c)
	assert.Equal(t, "Start", out["title"])
	assert.Equal(t, "Short summary.", out["summary"], "high-priority fields survive intact")

	content, ok := out["content"].(string)
	require.True(t, ok, "content is truncated, not dropped")
	assert.True(t, strings.HasSuffix(content, TruncationMarker))
	assert.LessOrEqual(t, s.PayloadCost(out), 100)
	_, exhausted := out["budget_exhausted"]
	assert.False(t, exhausted, "truncating a low-priority field is not exhaustion")
}

func TestShapeNeverExceedsBudget(t *testing.T) {
	for _, budget := range []int{10, 50, 300, 3000} {
		s := New(HeuristicEstimator{}, budget)
		c := &types.Chapter{
			ID: types.NewDocID(), NovelID: types.NewDocID(),
			Number: 9, Title: strings.Repeat("A very long chapter title. ", 50),
			Summary:   strings.Repeat("Sentences pile up here. ", 100),
			KeyPoints: []string{strings.Repeat("p", 400), "short"},
			Content:   strings.Repeat("body ", 5000),
		}
		out := s.ShapeChapter(c)
		assert.LessOrEqual(t, s.PayloadCost(out), budget, "budget %d", budget)
	}
}

func TestShapeHardTruncationMarksExhausted(t *testing.T) {
	s := New(HeuristicEstimator{}, 20)
	c := &types.Chapter{
		ID: types.NewDocID(), NovelID: types.NewDocID(),
		Number: 1,
		Title:  strings.Repeat("Unbroken", 100), // one giant boundary-free word
	}

	out := s.ShapeChapter(c)
	title, ok := out["title"].(string)
	require.True(t, ok, "top-priority field is never dropped entirely")
	assert.True(t, strings.HasSuffix(title, TruncationMarker))
	assert.Equal(t, true, out["budget_exhausted"])
	assert.LessOrEqual(t, s.PayloadCost(out), 20)
}

// A budget smaller than the marker's own cost degrades to a bare cut of the
// top-priority field. The payload must never cost more than the budget.
func TestShapeTinyBudgetDropsMarker(t *testing.T) {
	for _, budget := range []int{1, 2, 3} {
		s := New(HeuristicEstimator{}, budget)
		c := &types.Chapter{
			ID: types.NewDocID(), NovelID: types.NewDocID(),
			Title: strings.Repeat("x", 200),
		}

		out := s.ShapeChapter(c)
		assert.LessOrEqual(t, s.PayloadCost(out), budget, "budget %d", budget)
		title, ok := out["title"].(string)
		require.True(t, ok, "top-priority field survives even a tiny budget")
		assert.NotEmpty(t, title)
		assert.NotContains(t, title, TruncationMarker, "budget %d", budget)
		assert.Equal(t, true, out["budget_exhausted"])
	}
}

func TestShapeTruncationAtSentenceBoundary(t *testing.T) {
	s := New(HeuristicEstimator{}, 60)
	c := &types.Chapter{
		ID: types.NewDocID(), NovelID: types.NewDocID(),
		Number: 1, Title: "T",
		Summary: "First sentence here. Second sentence follows. " +
			strings.Repeat("Filler goes on and on. ", 50),
	}

	out := s.ShapeChapter(c)
	summary, ok := out["summary"].(string)
	require.True(t, ok)
	cut := strings.TrimSuffix(summary, TruncationMarker)
	assert.True(t, strings.HasSuffix(cut, "."), "cut lands on a sentence boundary, got %q", cut)
	assert.NotEqual(t, cut, c.Summary)
}

func TestShapeListEmitsWholeItemsThenCounts(t *testing.T) {
	s := New(HeuristicEstimator{}, 120)
	var chapters []types.Chapter
	for i := 1; i <= 10; i++ {
		chapters = append(chapters, types.Chapter{
			ID: types.NewDocID(), NovelID: types.NewDocID(),
			Number: i, Title: "Chapter",
			Summary: "A modestly sized summary sentence for the chapter.",
		})
	}

	out := s.ShapeChapterList(chapters)
	assert.Equal(t, 10, out["total"])

	items, ok := out["items"].([]Payload)
	require.True(t, ok)
	emitted := out["emitted"].(int)
	assert.Equal(t, len(items), emitted)
	assert.Greater(t, emitted, 0)
	assert.Less(t, emitted, 10, "budget 120 cannot hold all ten items")

	// Emitted items are whole.
	for _, item := range items {
		assert.Equal(t, "Chapter", item["title"])
	}
}

func TestShapeListEmptyResultIsSuccess(t *testing.T) {
	s := New(HeuristicEstimator{}, 3000)
	out := s.ShapeCharacterList(nil)
	assert.Equal(t, 0, out["total"])
	assert.Equal(t, 0, out["emitted"])
	items, ok := out["items"].([]Payload)
	require.True(t, ok)
	assert.Empty(t, items)
}

func TestShapeListOversizedFirstItemIsShapedNotDropped(t *testing.T) {
	s := New(HeuristicEstimator{}, 80)
	entries := []types.QAEntry{
		{
			ID:       types.NewDocID(),
			Question: "What happened at the cape?",
			Answer:   strings.Repeat("A long recounting of events. ", 100),
		},
		{ID: types.NewDocID(), Question: "Q2", Answer: "A2"},
	}

	out := s.ShapeQAList(entries)
	assert.Equal(t, 2, out["total"])
	assert.Equal(t, 1, out["emitted"])
	items := out["items"].([]Payload)
	require.Len(t, items, 1)
	assert.Equal(t, "What happened at the cape?", items[0]["question"])
}

func TestShapeQAOmitsEmptyNovelID(t *testing.T) {
	s := New(HeuristicEstimator{}, 3000)
	out := s.ShapeQA(&types.QAEntry{
		ID: types.NewDocID(), Question: "Q", Answer: "A",
	})
	_, has := out["novel_id"]
	assert.False(t, has, "general-knowledge entries carry no novel_id")
}
