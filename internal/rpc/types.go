// Package rpc implements the JSON-RPC 2.0 surface of the lorebase server:
// envelope parsing and validation, the closed query-method set, the
// authenticated mutation path, and the MCP protocol layer
// (initialize / tools/list / tools/call).
package rpc

import "fmt"

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// IsNotification reports whether the request carries no id. Notifications
// never receive a response, even on error.
func (r *JSONRPCRequest) IsNotification() bool {
	return r.ID == nil
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes. The -327xx block is the JSON-RPC 2.0 standard set;
// the -320xx block carries the domain error taxonomy.
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
	ErrCodeServerError    = -32000 // Unclassified server error
	ErrCodeNotFound       = -32001 // Point lookup matched no document
	ErrCodeUnauthorized   = -32002 // Mutation without/with invalid token
	ErrCodeUnavailable    = -32003 // Store saturated or circuit open; retryable
)

// Method is a closed enum of supported RPC methods. Unknown names fail at
// the dispatch boundary; there is no dynamic method table to grow.
type Method uint8

const (
	MethodUnknown Method = iota
	MethodQueryNovel
	MethodQueryChapter
	MethodQueryCharacter
	MethodQueryQARegex
	MethodQueryChapterRegex
	MethodQueryCharacterRegex
	MethodUpdateChapterSummary
	MethodInitialize
	MethodInitialized
	MethodToolsList
	MethodToolsCall
)

// ParseMethod maps a wire method name to the closed enum.
func ParseMethod(name string) (Method, bool) {
	switch name {
	case "query_novel":
		return MethodQueryNovel, true
	case "query_chapter":
		return MethodQueryChapter, true
	case "query_character":
		return MethodQueryCharacter, true
	case "query_qa_regex":
		return MethodQueryQARegex, true
	case "query_chapter_regex":
		return MethodQueryChapterRegex, true
	case "query_character_regex":
		return MethodQueryCharacterRegex, true
	case "update_chapter_summary":
		return MethodUpdateChapterSummary, true
	case "initialize":
		return MethodInitialize, true
	case "initialized":
		return MethodInitialized, true
	case "tools/list":
		return MethodToolsList, true
	case "tools/call":
		return MethodToolsCall, true
	default:
		return MethodUnknown, false
	}
}

// QueryNovelArgs contains arguments for the query_novel method.
type QueryNovelArgs struct {
	NovelID string `json:"novel_id"` // Novel ID (required)
}

// QueryChapterArgs contains arguments for the query_chapter method.
//
// Resolution precedence:
//  1. ChapterID set → exact lookup, other fields ignored
//  2. ChapterNumber set → lookup by (NovelID, ChapterNumber); NovelID required
//  3. ChapterTitle set → case-insensitive exact title match, scoped to
//     NovelID when present, global otherwise
//
// Supplying none of the three fails InvalidParams.
type QueryChapterArgs struct {
	ChapterID     string `json:"chapter_id,omitempty"`
	ChapterNumber *int   `json:"chapter_number,omitempty"`
	NovelID       string `json:"novel_id,omitempty"`
	ChapterTitle  string `json:"chapter_title,omitempty"`
}

// QueryCharacterArgs contains arguments for the query_character method.
type QueryCharacterArgs struct {
	CharacterID string `json:"character_id"` // Character ID (required)
}

// RegexArgs contains arguments for the query_*_regex methods.
type RegexArgs struct {
	RegexPattern string `json:"regex_pattern"` // Case-sensitive pattern (required)
}

// UpdateChapterSummaryArgs contains arguments for update_chapter_summary.
type UpdateChapterSummaryArgs struct {
	AuthToken string `json:"auth_token"` // Write token (required)
	ChapterID string `json:"chapter_id"` // Chapter to update (required)
	Summary   string `json:"summary"`    // Replacement summary
}

// Error is a JSON-RPC-mappable error carrying its wire code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf builds an *Error with a formatted message.
func Errorf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPServerInfo identifies this server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
