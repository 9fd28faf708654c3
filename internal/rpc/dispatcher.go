package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/storyloom/lorebase/internal/queryparse"
	"github.com/storyloom/lorebase/internal/shaper"
	"github.com/storyloom/lorebase/internal/storage"
)

// ServerName and ServerVersion identify this server to MCP clients.
const (
	ServerName    = "lorebase"
	ServerVersion = "1.0.0"
)

// Dispatcher parses and validates JSON-RPC envelopes and routes them to the
// Query Router or the mutation handler. Every identified request gets
// exactly one terminal response; notifications are logged and dropped.
type Dispatcher struct {
	router     *Router
	store      storage.DocumentStore
	shaper     *shaper.Shaper
	writeToken string
}

// NewDispatcher builds a Dispatcher. An empty writeToken disables the
// mutation path entirely: every update_chapter_summary fails Unauthorized.
func NewDispatcher(store storage.DocumentStore, sh *shaper.Shaper, writeToken string) *Dispatcher {
	return &Dispatcher{
		router:     NewRouter(store, sh),
		store:      store,
		shaper:     sh,
		writeToken: writeToken,
	}
}

// Router exposes the dispatcher's query router.
func (d *Dispatcher) Router() *Router {
	return d.router
}

// HandleRequest processes one JSON-RPC 2.0 request and returns the encoded
// response. A nil response with nil error means the request was a
// notification and was deliberately dropped.
func (d *Dispatcher) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return errorResponse(nil, ErrCodeParseError, "Parse error")
	}

	if req.JSONRPC != "2.0" {
		if req.IsNotification() {
			log.Printf("[RPC] dropping malformed notification (jsonrpc=%q)", req.JSONRPC)
			return nil, nil
		}
		return errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version")
	}

	method, ok := ParseMethod(req.Method)
	if !ok {
		if req.IsNotification() {
			log.Printf("[RPC] dropping notification for unknown method %q", req.Method)
			return nil, nil
		}
		return errorResponse(req.ID, ErrCodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", req.Method))
	}

	result, err := d.dispatch(ctx, method, req.Params)

	if req.IsNotification() {
		if err != nil {
			log.Printf("[RPC] notification %s failed: %v", req.Method, err)
		}
		return nil, nil
	}
	if err != nil {
		return errorResponse(req.ID, CodeForError(err), err.Error())
	}
	return successResponse(req.ID, result)
}

func (d *Dispatcher) dispatch(ctx context.Context, method Method, params interface{}) (interface{}, error) {
	switch method {
	case MethodInitialize:
		return d.handleInitialize(), nil
	case MethodInitialized:
		return map[string]interface{}{}, nil
	case MethodToolsList:
		return MCPToolsListResult{Tools: d.buildToolsList()}, nil
	case MethodToolsCall:
		return d.handleToolsCall(ctx, params)

	case MethodQueryNovel:
		var args QueryNovelArgs
		if err := unmarshalParams(params, &args); err != nil {
			return nil, err
		}
		return d.router.QueryNovel(ctx, args)
	case MethodQueryChapter:
		var args QueryChapterArgs
		if err := unmarshalParams(params, &args); err != nil {
			return nil, err
		}
		return d.router.QueryChapter(ctx, args)
	case MethodQueryCharacter:
		var args QueryCharacterArgs
		if err := unmarshalParams(params, &args); err != nil {
			return nil, err
		}
		return d.router.QueryCharacter(ctx, args)
	case MethodQueryQARegex:
		var args RegexArgs
		if err := unmarshalParams(params, &args); err != nil {
			return nil, err
		}
		return d.router.QueryQARegex(ctx, args)
	case MethodQueryChapterRegex:
		var args RegexArgs
		if err := unmarshalParams(params, &args); err != nil {
			return nil, err
		}
		return d.router.QueryChapterRegex(ctx, args)
	case MethodQueryCharacterRegex:
		var args RegexArgs
		if err := unmarshalParams(params, &args); err != nil {
			return nil, err
		}
		return d.router.QueryCharacterRegex(ctx, args)
	case MethodUpdateChapterSummary:
		var args UpdateChapterSummaryArgs
		if err := unmarshalParams(params, &args); err != nil {
			return nil, err
		}
		return d.UpdateChapterSummary(ctx, args)
	default:
		return nil, Errorf(ErrCodeMethodNotFound, "method not dispatchable")
	}
}

// UpdateChapterSummary validates the write token and replaces a chapter's
// summary, returning the shaped post-write chapter. The write is atomic at
// document granularity; once it lands, cancellation no longer affects it.
func (d *Dispatcher) UpdateChapterSummary(ctx context.Context, args UpdateChapterSummaryArgs) (shaper.Payload, error) {
	if !d.authorize(args.AuthToken) {
		return nil, Errorf(ErrCodeUnauthorized, "invalid auth_token")
	}
	if args.ChapterID == "" {
		return nil, Errorf(ErrCodeInvalidParams, "chapter_id is required")
	}

	summary := args.Summary
	c, err := d.store.PatchChapter(ctx, args.ChapterID, storage.ChapterPatch{Summary: &summary})
	if err != nil {
		return nil, err
	}
	return d.shaper.ShapeChapter(c), nil
}

// authorize checks the presented token against the configured write token in
// constant time. No configured token means writes are disabled.
func (d *Dispatcher) authorize(token string) bool {
	if d.writeToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(d.writeToken)) == 1
}

// ---------------------------------------------------------------------------
// MCP protocol layer
// ---------------------------------------------------------------------------

func (d *Dispatcher) handleInitialize() MCPInitializeResult {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}
}

// handleToolsCall dispatches a tools/call request to the matching RPC
// handler and wraps the result in the MCP content envelope. Tool-level
// failures are reported inside the envelope, not as protocol errors.
func (d *Dispatcher) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	var rawParams interface{} = p.Arguments

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "query_novel", "query_chapter", "query_character",
		"query_qa_regex", "query_chapter_regex", "query_character_regex",
		"update_chapter_summary":
		method, _ := ParseMethod(p.Name)
		result, handlerErr = d.dispatch(ctx, method, rawParams)
	case "query":
		result, handlerErr = d.handleFreeTextQuery(ctx, rawParams)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// FreeTextQueryArgs contains arguments for the best-effort query tool.
type FreeTextQueryArgs struct {
	Query string `json:"query"` // Free-form text (required)
	Limit int    `json:"limit,omitempty"`
}

// handleFreeTextQuery maps free text onto the closed query surface. The
// extracted keywords become an alternation of literal patterns against the
// hinted collection. Zero matches is a success.
func (d *Dispatcher) handleFreeTextQuery(ctx context.Context, params interface{}) (interface{}, error) {
	var args FreeTextQueryArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, Errorf(ErrCodeInvalidParams, "query is required")
	}

	parsed := queryparse.Parse(args.Query)

	if parsed.Collection == queryparse.CollectionNovels {
		limit := parsed.Limit
		if args.Limit > 0 {
			limit = args.Limit
		}
		novels, err := d.store.ListNovels(ctx, limit)
		if err != nil {
			return nil, err
		}
		return d.shaper.ShapeNovelList(novels), nil
	}

	pattern := keywordPattern(parsed.Keywords)
	if pattern == "" {
		// Nothing searchable extracted: empty result, not an error.
		return d.shaper.ShapeQAList(nil), nil
	}

	regexArgs := RegexArgs{RegexPattern: pattern}
	switch parsed.Collection {
	case queryparse.CollectionChapters:
		return d.router.QueryChapterRegex(ctx, regexArgs)
	case queryparse.CollectionCharacters:
		return d.router.QueryCharacterRegex(ctx, regexArgs)
	default:
		return d.router.QueryQARegex(ctx, regexArgs)
	}
}

// keywordPattern builds a case-insensitive literal alternation.
func keywordPattern(keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	return "(?i)" + strings.Join(quoted, "|")
}

func (d *Dispatcher) buildToolsList() []MCPTool {
	strProp := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	schema := func(required []string, props map[string]interface{}) map[string]interface{} {
		s := map[string]interface{}{
			"type":       "object",
			"properties": props,
		}
		if len(required) > 0 {
			s["required"] = required
		}
		return s
	}

	return []MCPTool{
		{
			Name:        "query_novel",
			Description: "Fetch one novel by its id, token-budget shaped.",
			InputSchema: schema([]string{"novel_id"}, map[string]interface{}{
				"novel_id": strProp("24-hex novel id"),
			}),
		},
		{
			Name:        "query_chapter",
			Description: "Fetch one chapter by id, by novel id + number, or by title.",
			InputSchema: schema(nil, map[string]interface{}{
				"chapter_id":     strProp("24-hex chapter id (highest precedence)"),
				"chapter_number": map[string]interface{}{"type": "integer", "description": "chapter number; requires novel_id"},
				"novel_id":       strProp("novel scope for number or title lookup"),
				"chapter_title":  strProp("case-insensitive exact title"),
			}),
		},
		{
			Name:        "query_character",
			Description: "Fetch one character by its id.",
			InputSchema: schema([]string{"character_id"}, map[string]interface{}{
				"character_id": strProp("24-hex character id"),
			}),
		},
		{
			Name:        "query_qa_regex",
			Description: "Regex search over Q&A questions and answers.",
			InputSchema: schema([]string{"regex_pattern"}, map[string]interface{}{
				"regex_pattern": strProp("case-sensitive pattern; nested quantifiers rejected"),
			}),
		},
		{
			Name:        "query_chapter_regex",
			Description: "Regex search over chapter titles, summaries and key points.",
			InputSchema: schema([]string{"regex_pattern"}, map[string]interface{}{
				"regex_pattern": strProp("case-sensitive pattern; nested quantifiers rejected"),
			}),
		},
		{
			Name:        "query_character_regex",
			Description: "Regex search over character names, descriptions and traits.",
			InputSchema: schema([]string{"regex_pattern"}, map[string]interface{}{
				"regex_pattern": strProp("case-sensitive pattern; nested quantifiers rejected"),
			}),
		},
		{
			Name:        "update_chapter_summary",
			Description: "Replace a chapter's summary. Requires the write token.",
			InputSchema: schema([]string{"auth_token", "chapter_id", "summary"}, map[string]interface{}{
				"auth_token": strProp("configured write token"),
				"chapter_id": strProp("24-hex chapter id"),
				"summary":    strProp("replacement summary text"),
			}),
		},
		{
			Name:        "query",
			Description: "Best-effort free-text query over the knowledge base.",
			InputSchema: schema([]string{"query"}, map[string]interface{}{
				"query": strProp("natural-language question"),
				"limit": map[string]interface{}{"type": "integer", "description": "max results"},
			}),
		},
	}
}

// ---------------------------------------------------------------------------
// Envelope helpers
// ---------------------------------------------------------------------------

func unmarshalParams(params interface{}, dest interface{}) error {
	if params == nil {
		return Errorf(ErrCodeInvalidParams, "params are required")
	}
	data, err := json.Marshal(params)
	if err != nil {
		return Errorf(ErrCodeInvalidParams, "failed to marshal params: %v", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return Errorf(ErrCodeInvalidParams, "failed to unmarshal params: %v", err)
	}
	return nil
}

func successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	})
}

func errorResponse(id interface{}, code int, message string) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	})
}
