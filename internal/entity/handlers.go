package entity

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-editor/internal/auth"
)

// Handlers serve the editor's document endpoints. Every request carries an
// access token minted at launch; writes require auth.Write and are rejected
// before storage is touched otherwise.
type Handlers struct {
	Store  Store
	Tokens *auth.Codec
	Log    *slog.Logger
}

// Mount registers GET and PUT /entity on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/entity", h.get)
	r.Put("/entity", h.put)
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	tok, err := h.Tokens.Parse(r.URL.Query().Get("accessToken"))
	if err != nil {
		h.Log.WarnContext(r.Context(), "entity read rejected", slog.Any("error", err))
		http.Error(w, "Missing or invalid access token", http.StatusUnauthorized)
		return
	}
	e, err := h.Store.Get(r.Context(), tok.EntityID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "Entity not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.Log.ErrorContext(r.Context(), "entity read", slog.Int64("entity_id", tok.EntityID), slog.Any("error", err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(e)
}

type putRequest struct {
	AccessToken string          `json:"accessToken"`
	EditorState json.RawMessage `json:"editorState"`
}

func (h *Handlers) put(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 8<<20)).Decode(&req); err != nil {
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}
	tok, err := h.Tokens.Parse(req.AccessToken)
	if err != nil {
		h.Log.WarnContext(r.Context(), "entity write rejected", slog.Any("error", err))
		http.Error(w, "Missing or invalid access token", http.StatusUnauthorized)
		return
	}
	if err := tok.AccessRight.Permits(auth.Write); err != nil {
		h.Log.WarnContext(r.Context(), "entity write rejected", slog.Int64("entity_id", tok.EntityID), slog.Any("error", err))
		http.Error(w, "Access token grants no right to modify content", http.StatusForbidden)
		return
	}
	if len(req.EditorState) == 0 || string(req.EditorState) == "null" {
		http.Error(w, "Missing editorState", http.StatusBadRequest)
		return
	}
	err = h.Store.SaveContent(r.Context(), tok.EntityID, string(req.EditorState))
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "Entity not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.Log.ErrorContext(r.Context(), "entity save", slog.Int64("entity_id", tok.EntityID), slog.Any("error", err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Success")
}
