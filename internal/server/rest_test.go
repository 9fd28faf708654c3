package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/lorebase/internal/server"
	"github.com/storyloom/lorebase/internal/storage/sqlite"
	"github.com/storyloom/lorebase/pkg/types"
)

func newRESTFixture(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(server.NewRESTHandlers(store).Mux())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestNovelCRUD(t *testing.T) {
	srv := newRESTFixture(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/novels", types.Novel{
		Title: "The Hollow Crown", Author: "M. Reyes", Summary: "A deposed queen.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created types.Novel
	decodeInto(t, resp, &created)
	require.NotEmpty(t, created.ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/novels/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched types.Novel
	decodeInto(t, resp, &fetched)
	assert.Equal(t, "The Hollow Crown", fetched.Title)

	resp = doJSON(t, http.MethodPatch, srv.URL+"/api/novels/"+created.ID,
		map[string]string{"summary": "Revised summary."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var patched types.Novel
	decodeInto(t, resp, &patched)
	assert.Equal(t, "Revised summary.", patched.Summary)
	assert.Equal(t, "The Hollow Crown", patched.Title, "patch must not touch other fields")

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/novels/"+created.ID, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/novels/"+created.ID, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateNovelRequiresTitle(t *testing.T) {
	srv := newRESTFixture(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/novels", types.Novel{Author: "Anon"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChapterNumberConflictMaps409(t *testing.T) {
	srv := newRESTFixture(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/novels", types.Novel{Title: "N"})
	var novel types.Novel
	decodeInto(t, resp, &novel)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/chapters", types.Chapter{
		NovelID: novel.ID, Number: 1, Title: "Landfall",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/chapters", types.Chapter{
		NovelID: novel.ID, Number: 1, Title: "Duplicate",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var errResp server.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, http.StatusText(http.StatusConflict), errResp.Code)
}

func TestListChaptersByNovel(t *testing.T) {
	srv := newRESTFixture(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/novels", types.Novel{Title: "N"})
	var novel types.Novel
	decodeInto(t, resp, &novel)

	for i, title := range []string{"Two", "One"} {
		resp = doJSON(t, http.MethodPost, srv.URL+"/api/chapters", types.Chapter{
			NovelID: novel.ID, Number: 2 - i, Title: title,
		})
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/novels/"+novel.ID+"/chapters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chapters []types.Chapter
	decodeInto(t, resp, &chapters)
	require.Len(t, chapters, 2)
	assert.Equal(t, "One", chapters[0].Title, "chapters are ordered by number")
}

func TestCharacterCreateAndList(t *testing.T) {
	srv := newRESTFixture(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/novels", types.Novel{Title: "N"})
	var novel types.Novel
	decodeInto(t, resp, &novel)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/characters", types.Character{
		NovelID: novel.ID, Name: "Maren", Role: types.RoleProtagonist,
		Relationships: []types.Relationship{
			{CharacterName: "Edda", RelationshipType: "sister"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created types.Character
	decodeInto(t, resp, &created)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/novels/"+novel.ID+"/characters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var characters []types.Character
	decodeInto(t, resp, &characters)
	require.Len(t, characters, 1)
	assert.Equal(t, "Edda", characters[0].Relationships[0].CharacterName)
}

func TestQAGeneralKnowledge(t *testing.T) {
	srv := newRESTFixture(t)

	// No novel_id: general knowledge entry.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/qa", types.QAEntry{
		Question: "Who wrote it?", Answer: "M. Reyes",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created types.QAEntry
	decodeInto(t, resp, &created)
	assert.Empty(t, created.NovelID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/qa", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []types.QAEntry
	decodeInto(t, resp, &entries)
	require.Len(t, entries, 1)
}

func TestCreateQARequiresQuestionAndAnswer(t *testing.T) {
	srv := newRESTFixture(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/qa", types.QAEntry{Question: "Q only"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteMissingDocumentMaps404(t *testing.T) {
	srv := newRESTFixture(t)

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/chapters/000000000000000000000000", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
