package shaper

import "github.com/storyloom/lorebase/pkg/types"

// Per-entity field priorities. Identifiers lead because they are cheap and
// every caller needs them; large text trails.

func novelFields(n *types.Novel) []field {
	var meta interface{}
	if n.Metadata != nil {
		meta = n.Metadata
	}
	return []field{
		{name: "id", value: n.ID},
		{name: "title", value: n.Title, top: true},
		{name: "author", value: n.Author},
		{name: "summary", value: n.Summary},
		{name: "tags", value: n.Tags},
		{name: "metadata", value: meta},
	}
}

func chapterFields(c *types.Chapter) []field {
	var content interface{}
	if c.Content != "" {
		content = c.Content
	}
	return []field{
		{name: "id", value: c.ID},
		{name: "novel_id", value: c.NovelID},
		{name: "title", value: c.Title, top: true},
		{name: "number", value: c.Number},
		{name: "summary", value: c.Summary},
		{name: "key_points", value: c.KeyPoints},
		{name: "content", value: content},
	}
}

func characterFields(c *types.Character) []field {
	var rels interface{}
	if len(c.Relationships) > 0 {
		rels = c.Relationships
	}
	return []field{
		{name: "id", value: c.ID},
		{name: "novel_id", value: c.NovelID},
		{name: "name", value: c.Name, top: true},
		{name: "role", value: c.Role},
		{name: "description", value: c.Description},
		{name: "key_traits", value: c.KeyTraits},
		{name: "relationships", value: rels},
	}
}

func qaFields(qa *types.QAEntry) []field {
	var novelID interface{}
	if qa.NovelID != "" {
		novelID = qa.NovelID
	}
	return []field{
		{name: "id", value: qa.ID},
		{name: "novel_id", value: novelID},
		{name: "question", value: qa.Question, top: true},
		{name: "answer", value: qa.Answer},
		{name: "tags", value: qa.Tags},
	}
}

func (s *Shaper) finishDoc(fields []field) Payload {
	out, exhausted := s.shapeDoc(fields)
	if exhausted {
		out["budget_exhausted"] = true
	}
	return out
}

// ShapeNovel compacts one novel.
func (s *Shaper) ShapeNovel(n *types.Novel) Payload {
	return s.finishDoc(novelFields(n))
}

// ShapeChapter compacts one chapter.
func (s *Shaper) ShapeChapter(c *types.Chapter) Payload {
	return s.finishDoc(chapterFields(c))
}

// ShapeCharacter compacts one character.
func (s *Shaper) ShapeCharacter(c *types.Character) Payload {
	return s.finishDoc(characterFields(c))
}

// ShapeQA compacts one Q&A entry.
func (s *Shaper) ShapeQA(qa *types.QAEntry) Payload {
	return s.finishDoc(qaFields(qa))
}

// ShapeNovelList compacts a novel result set, preserving store order.
func (s *Shaper) ShapeNovelList(novels []types.Novel) Payload {
	docs := make([][]field, len(novels))
	for i := range novels {
		docs[i] = novelFields(&novels[i])
	}
	return s.shapeList(docs)
}

// ShapeChapterList compacts a regex result set, preserving store order.
func (s *Shaper) ShapeChapterList(chapters []types.Chapter) Payload {
	docs := make([][]field, len(chapters))
	for i := range chapters {
		docs[i] = chapterFields(&chapters[i])
	}
	return s.shapeList(docs)
}

// ShapeCharacterList compacts a regex result set, preserving store order.
func (s *Shaper) ShapeCharacterList(characters []types.Character) Payload {
	docs := make([][]field, len(characters))
	for i := range characters {
		docs[i] = characterFields(&characters[i])
	}
	return s.shapeList(docs)
}

// ShapeQAList compacts a regex result set, preserving store order.
func (s *Shaper) ShapeQAList(entries []types.QAEntry) Payload {
	docs := make([][]field, len(entries))
	for i := range entries {
		docs[i] = qaFields(&entries[i])
	}
	return s.shapeList(docs)
}
