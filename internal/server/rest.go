package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/storyloom/lorebase/internal/storage"
	"github.com/storyloom/lorebase/pkg/types"
)

// defaultListLimit bounds unqualified collection listings.
const defaultListLimit = 100

// RESTHandlers contains the HTTP handlers for the mutation API. It speaks
// directly to the document store; token budgeting does not apply here, the
// REST surface returns full documents.
type RESTHandlers struct {
	store storage.DocumentStore
}

// NewRESTHandlers creates a RESTHandlers instance.
func NewRESTHandlers(store storage.DocumentStore) *RESTHandlers {
	return &RESTHandlers{store: store}
}

// Mux returns the route table for the REST listener.
func (h *RESTHandlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/novels", h.createNovel)
	mux.HandleFunc("GET /api/novels", h.listNovels)
	mux.HandleFunc("GET /api/novels/{id}", h.getNovel)
	mux.HandleFunc("PATCH /api/novels/{id}", h.patchNovel)
	mux.HandleFunc("DELETE /api/novels/{id}", h.deleteNovel)
	mux.HandleFunc("GET /api/novels/{id}/chapters", h.listChapters)
	mux.HandleFunc("GET /api/novels/{id}/characters", h.listCharacters)

	mux.HandleFunc("POST /api/chapters", h.createChapter)
	mux.HandleFunc("GET /api/chapters/{id}", h.getChapter)
	mux.HandleFunc("PATCH /api/chapters/{id}", h.patchChapter)
	mux.HandleFunc("DELETE /api/chapters/{id}", h.deleteChapter)

	mux.HandleFunc("POST /api/characters", h.createCharacter)
	mux.HandleFunc("GET /api/characters/{id}", h.getCharacter)
	mux.HandleFunc("PATCH /api/characters/{id}", h.patchCharacter)
	mux.HandleFunc("DELETE /api/characters/{id}", h.deleteCharacter)

	mux.HandleFunc("POST /api/qa", h.createQA)
	mux.HandleFunc("GET /api/qa", h.listQA)
	mux.HandleFunc("GET /api/qa/{id}", h.getQA)
	mux.HandleFunc("PATCH /api/qa/{id}", h.patchQA)
	mux.HandleFunc("DELETE /api/qa/{id}", h.deleteQA)

	return mux
}

func (h *RESTHandlers) createNovel(w http.ResponseWriter, r *http.Request) {
	var n types.Novel
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if n.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required", nil)
		return
	}

	created, err := h.store.InsertNovel(r.Context(), &n)
	if err != nil {
		respondStoreError(w, "failed to create novel", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *RESTHandlers) listNovels(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), defaultListLimit)
	novels, err := h.store.ListNovels(r.Context(), limit)
	if err != nil {
		respondStoreError(w, "failed to list novels", err)
		return
	}
	respondJSON(w, http.StatusOK, novels)
}

func (h *RESTHandlers) getNovel(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.GetNovel(r.Context(), r.PathValue("id"))
	if err != nil {
		respondStoreError(w, "failed to get novel", err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (h *RESTHandlers) patchNovel(w http.ResponseWriter, r *http.Request) {
	var p storage.NovelPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	n, err := h.store.PatchNovel(r.Context(), r.PathValue("id"), p)
	if err != nil {
		respondStoreError(w, "failed to update novel", err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (h *RESTHandlers) deleteNovel(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteNovel(r.Context(), r.PathValue("id")); err != nil {
		respondStoreError(w, "failed to delete novel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RESTHandlers) listChapters(w http.ResponseWriter, r *http.Request) {
	chapters, err := h.store.ListChaptersByNovel(r.Context(), r.PathValue("id"))
	if err != nil {
		respondStoreError(w, "failed to list chapters", err)
		return
	}
	respondJSON(w, http.StatusOK, chapters)
}

func (h *RESTHandlers) listCharacters(w http.ResponseWriter, r *http.Request) {
	characters, err := h.store.ListCharactersByNovel(r.Context(), r.PathValue("id"))
	if err != nil {
		respondStoreError(w, "failed to list characters", err)
		return
	}
	respondJSON(w, http.StatusOK, characters)
}

func (h *RESTHandlers) createChapter(w http.ResponseWriter, r *http.Request) {
	var c types.Chapter
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if c.NovelID == "" || c.Title == "" {
		respondError(w, http.StatusBadRequest, "novel_id and title are required", nil)
		return
	}

	created, err := h.store.InsertChapter(r.Context(), &c)
	if err != nil {
		respondStoreError(w, "failed to create chapter", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *RESTHandlers) getChapter(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetChapter(r.Context(), r.PathValue("id"))
	if err != nil {
		respondStoreError(w, "failed to get chapter", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *RESTHandlers) patchChapter(w http.ResponseWriter, r *http.Request) {
	var p storage.ChapterPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	c, err := h.store.PatchChapter(r.Context(), r.PathValue("id"), p)
	if err != nil {
		respondStoreError(w, "failed to update chapter", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *RESTHandlers) deleteChapter(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteChapter(r.Context(), r.PathValue("id")); err != nil {
		respondStoreError(w, "failed to delete chapter", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RESTHandlers) createCharacter(w http.ResponseWriter, r *http.Request) {
	var c types.Character
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if c.NovelID == "" || c.Name == "" {
		respondError(w, http.StatusBadRequest, "novel_id and name are required", nil)
		return
	}

	created, err := h.store.InsertCharacter(r.Context(), &c)
	if err != nil {
		respondStoreError(w, "failed to create character", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *RESTHandlers) getCharacter(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetCharacter(r.Context(), r.PathValue("id"))
	if err != nil {
		respondStoreError(w, "failed to get character", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *RESTHandlers) patchCharacter(w http.ResponseWriter, r *http.Request) {
	var p storage.CharacterPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	c, err := h.store.PatchCharacter(r.Context(), r.PathValue("id"), p)
	if err != nil {
		respondStoreError(w, "failed to update character", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *RESTHandlers) deleteCharacter(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteCharacter(r.Context(), r.PathValue("id")); err != nil {
		respondStoreError(w, "failed to delete character", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RESTHandlers) createQA(w http.ResponseWriter, r *http.Request) {
	var qa types.QAEntry
	if err := json.NewDecoder(r.Body).Decode(&qa); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if qa.Question == "" || qa.Answer == "" {
		respondError(w, http.StatusBadRequest, "question and answer are required", nil)
		return
	}

	created, err := h.store.InsertQA(r.Context(), &qa)
	if err != nil {
		respondStoreError(w, "failed to create qa entry", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *RESTHandlers) listQA(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), defaultListLimit)
	entries, err := h.store.ListQA(r.Context(), r.URL.Query().Get("novel_id"), limit)
	if err != nil {
		respondStoreError(w, "failed to list qa entries", err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *RESTHandlers) getQA(w http.ResponseWriter, r *http.Request) {
	qa, err := h.store.GetQA(r.Context(), r.PathValue("id"))
	if err != nil {
		respondStoreError(w, "failed to get qa entry", err)
		return
	}
	respondJSON(w, http.StatusOK, qa)
}

func (h *RESTHandlers) patchQA(w http.ResponseWriter, r *http.Request) {
	var p storage.QAPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	qa, err := h.store.PatchQA(r.Context(), r.PathValue("id"), p)
	if err != nil {
		respondStoreError(w, "failed to update qa entry", err)
		return
	}
	respondJSON(w, http.StatusOK, qa)
}

func (h *RESTHandlers) deleteQA(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteQA(r.Context(), r.PathValue("id")); err != nil {
		respondStoreError(w, "failed to delete qa entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ErrorResponse is the JSON error envelope for the REST API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing left to do but log.
		log.Printf("[REST] failed to encode response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}
	respondJSON(w, statusCode, errResp)
}

// respondStoreError maps document-store errors onto HTTP status codes.
func respondStoreError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, storage.ErrConflict):
		respondError(w, http.StatusConflict, message, err)
	case errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, storage.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}
