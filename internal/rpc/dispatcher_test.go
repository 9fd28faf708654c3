package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/lorebase/internal/session"
	"github.com/storyloom/lorebase/internal/shaper"
	"github.com/storyloom/lorebase/internal/storage/sqlite"
	"github.com/storyloom/lorebase/pkg/types"
)

const testWriteToken = "test-write-token"

func newTestDispatcher(t *testing.T) (*Dispatcher, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sh := shaper.New(shaper.HeuristicEstimator{}, shaper.DefaultBudget)
	return NewDispatcher(store, sh, testWriteToken), store
}

func seedWorld(t *testing.T, store *sqlite.Store) (novel *types.Novel, chapter *types.Chapter, character *types.Character) {
	t.Helper()
	ctx := context.Background()

	novel, err := store.InsertNovel(ctx, &types.Novel{
		Title: "The Hollow Crown", Author: "M. Reyes",
		Summary: "A deposed queen bargains with the sea.",
	})
	require.NoError(t, err)

	chapter, err = store.InsertChapter(ctx, &types.Chapter{
		NovelID: novel.ID, Number: 1, Title: "Landfall",
		Summary:   "The crew reaches the cape at dusk.",
		KeyPoints: []string{"arrival", "storm warning"},
	})
	require.NoError(t, err)

	character, err = store.InsertCharacter(ctx, &types.Character{
		NovelID: novel.ID, Name: "Maren", Role: types.RoleProtagonist,
		Description: "A navigator with a score to settle.",
		KeyTraits:   []string{"brave", "stubborn"},
	})
	require.NoError(t, err)

	return novel, chapter, character
}

type rpcResponse struct {
	JSONRPC string                 `json:"jsonrpc"`
	Result  map[string]interface{} `json:"result"`
	Error   *JSONRPCError          `json:"error"`
	ID      interface{}            `json:"id"`
}

func roundTrip(t *testing.T, d *Dispatcher, request string) rpcResponse {
	t.Helper()
	raw, err := d.HandleRequest(context.Background(), []byte(request))
	require.NoError(t, err)
	require.NotNil(t, raw, "identified requests always get a response")

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func TestHandleRequestParseError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := roundTrip(t, d, `{not json`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestHandleRequestInvalidVersion(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := roundTrip(t, d, `{"jsonrpc":"1.0","id":1,"method":"query_novel","params":{}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
}

func TestHandleRequestMethodNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := roundTrip(t, d, `{"jsonrpc":"2.0","id":7,"method":"query_everything","params":{}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, float64(7), resp.ID)
}

func TestHandleRequestNotificationIsDropped(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw, err := d.HandleRequest(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"query_novel","params":{"novel_id":"missing"}}`))
	require.NoError(t, err)
	assert.Nil(t, raw, "notifications never get a response, even on error")
}

func TestQueryNovelRoundTrip(t *testing.T) {
	d, store := newTestDispatcher(t)
	novel, _, _ := seedWorld(t, store)

	resp := roundTrip(t, d, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":"a","method":"query_novel","params":{"novel_id":%q}}`, novel.ID))
	require.Nil(t, resp.Error)
	assert.Equal(t, "The Hollow Crown", resp.Result["title"])
	assert.Equal(t, "a", resp.ID)
}

func TestQueryNovelNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := roundTrip(t, d, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"method":"query_novel","params":{"novel_id":%q}}`, types.NewDocID()))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestQueryChapterIDWinsOverNumber(t *testing.T) {
	d, store := newTestDispatcher(t)
	novel, ch1, _ := seedWorld(t, store)

	ch2, err := store.InsertChapter(context.Background(), &types.Chapter{
		NovelID: novel.ID, Number: 2, Title: "Second", Summary: "s",
	})
	require.NoError(t, err)

	// chapter_id points at chapter 2 while number points at chapter 1.
	resp := roundTrip(t, d, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"method":"query_chapter","params":{"chapter_id":%q,"chapter_number":1,"novel_id":%q}}`,
		ch2.ID, novel.ID))
	require.Nil(t, resp.Error)
	assert.Equal(t, "Second", resp.Result["title"])
	_ = ch1
}

func TestQueryChapterByNumberRequiresNovelID(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := roundTrip(t, d,
		`{"jsonrpc":"2.0","id":1,"method":"query_chapter","params":{"chapter_number":1}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestQueryChapterNoSelectorIsInvalidParams(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := roundTrip(t, d,
		`{"jsonrpc":"2.0","id":1,"method":"query_chapter","params":{}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestQueryChapterByTitle(t *testing.T) {
	d, store := newTestDispatcher(t)
	_, _, _ = seedWorld(t, store)

	resp := roundTrip(t, d,
		`{"jsonrpc":"2.0","id":1,"method":"query_chapter","params":{"chapter_title":"landfall"}}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "Landfall", resp.Result["title"])
}

func TestQueryCharacterRegexMatchesTraits(t *testing.T) {
	d, store := newTestDispatcher(t)
	seedWorld(t, store)

	resp := roundTrip(t, d,
		`{"jsonrpc":"2.0","id":1,"method":"query_character_regex","params":{"regex_pattern":"brave"}}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, float64(1), resp.Result["total"])
	items := resp.Result["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "Maren", items[0].(map[string]interface{})["name"])
}

func TestQueryRegexZeroMatchesIsSuccess(t *testing.T) {
	d, store := newTestDispatcher(t)
	seedWorld(t, store)

	resp := roundTrip(t, d,
		`{"jsonrpc":"2.0","id":1,"method":"query_qa_regex","params":{"regex_pattern":"nonexistent"}}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, float64(0), resp.Result["total"])
	assert.Equal(t, float64(0), resp.Result["emitted"])
}

func TestQueryRegexNestedQuantifierRejected(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := roundTrip(t, d,
		`{"jsonrpc":"2.0","id":1,"method":"query_character_regex","params":{"regex_pattern":"(a+)+b"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestQueryRegexInvalidPatternDiagnostic(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := roundTrip(t, d,
		`{"jsonrpc":"2.0","id":1,"method":"query_qa_regex","params":{"regex_pattern":"[unclosed"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "regex_pattern")
}

func TestUpdateChapterSummaryAuthorized(t *testing.T) {
	d, store := newTestDispatcher(t)
	_, chapter, _ := seedWorld(t, store)

	resp := roundTrip(t, d, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"method":"update_chapter_summary","params":{"auth_token":%q,"chapter_id":%q,"summary":"Rewritten."}}`,
		testWriteToken, chapter.ID))
	require.Nil(t, resp.Error)
	assert.Equal(t, "Rewritten.", resp.Result["summary"])

	// The write landed durably and is visible to an independent query.
	got, err := store.GetChapter(context.Background(), chapter.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rewritten.", got.Summary)
}

func TestUpdateChapterSummaryBadToken(t *testing.T) {
	d, store := newTestDispatcher(t)
	_, chapter, _ := seedWorld(t, store)

	resp := roundTrip(t, d, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"method":"update_chapter_summary","params":{"auth_token":"wrong","chapter_id":%q,"summary":"x"}}`,
		chapter.ID))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeUnauthorized, resp.Error.Code)

	got, err := store.GetChapter(context.Background(), chapter.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "x", got.Summary, "rejected writes must not land")
}

func TestUpdateChapterSummaryDisabledWithoutToken(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	d := NewDispatcher(store, shaper.New(shaper.HeuristicEstimator{}, 3000), "")

	resp := roundTrip(t, d, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"method":"update_chapter_summary","params":{"auth_token":"","chapter_id":%q,"summary":"x"}}`,
		types.NewDocID()))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeUnauthorized, resp.Error.Code)
}

func TestInitializeHandshake(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := roundTrip(t, d, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	require.Nil(t, resp.Error)
	info := resp.Result["serverInfo"].(map[string]interface{})
	assert.Equal(t, ServerName, info["name"])
}

func TestToolsListCoversQuerySurface(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := roundTrip(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	require.Nil(t, resp.Error)

	tools := resp.Result["tools"].([]interface{})
	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		names[tool.(map[string]interface{})["name"].(string)] = true
	}
	for _, want := range []string{
		"query_novel", "query_chapter", "query_character",
		"query_qa_regex", "query_chapter_regex", "query_character_regex",
		"update_chapter_summary", "query",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestToolsCallDelegatesToQuery(t *testing.T) {
	d, store := newTestDispatcher(t)
	novel, _, _ := seedWorld(t, store)

	resp := roundTrip(t, d, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"query_novel","arguments":{"novel_id":%q}}}`,
		novel.ID))
	require.Nil(t, resp.Error)

	content := resp.Result["content"].([]interface{})
	require.Len(t, content, 1)
	text := content[0].(map[string]interface{})["text"].(string)
	assert.Contains(t, text, "The Hollow Crown")
}

func TestToolsCallUnknownToolIsToolError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := roundTrip(t, d,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope","arguments":{}}}`)
	require.Nil(t, resp.Error, "unknown tools are reported inside the envelope")
	assert.Equal(t, true, resp.Result["isError"])
}

func TestFreeTextQueryTool(t *testing.T) {
	d, store := newTestDispatcher(t)
	seedWorld(t, store)

	resp := roundTrip(t, d,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"query","arguments":{"query":"find the character Maren"}}}`)
	require.Nil(t, resp.Error)
	content := resp.Result["content"].([]interface{})
	text := content[0].(map[string]interface{})["text"].(string)
	assert.Contains(t, text, "Maren")
}

// A drained session suppresses the response of a command cancelled mid-flight,
// but a durable write that landed before the cancellation must stay visible to
// later independent queries.
func TestDrainedSessionKeepsDurableWrite(t *testing.T) {
	d, store := newTestDispatcher(t)
	_, chapter, _ := seedWorld(t, store)

	wrote := make(chan struct{})
	release := make(chan struct{})
	handler := func(ctx context.Context, request []byte) ([]byte, error) {
		response, err := d.HandleRequest(ctx, request)
		close(wrote) // the store write is durable by now
		<-release    // hold the response past the drain deadline
		return response, err
	}

	m := session.NewManager(handler, session.Config{
		KeepAliveInterval: time.Hour, // quiet during the test
		DrainGrace:        50 * time.Millisecond,
	})
	s, err := m.Open()
	require.NoError(t, err)

	var events []session.Event
	closed := make(chan struct{})
	go func() {
		for ev := range s.Events() {
			events = append(events, ev)
		}
		close(closed)
	}()

	request := fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"method":"update_chapter_summary","params":{"auth_token":%q,"chapter_id":%q,"summary":"Rescued at dawn."}}`,
		testWriteToken, chapter.ID)
	require.NoError(t, s.Submit([]byte(request)))
	<-wrote

	s.Drain("client gone mid-write")
	time.Sleep(150 * time.Millisecond) // let the grace deadline cancel the command
	close(release)
	<-closed

	for _, ev := range events {
		assert.NotEqual(t, session.EventResponse, ev.Type,
			"cancelled command must not produce a response")
	}

	got, err := store.GetChapter(context.Background(), chapter.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rescued at dawn.", got.Summary)

	resp := roundTrip(t, d, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":2,"method":"query_chapter","params":{"chapter_id":%q}}`, chapter.ID))
	require.Nil(t, resp.Error)
	assert.Equal(t, "Rescued at dawn.", resp.Result["summary"])
}
