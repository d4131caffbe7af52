package web

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/skillnotes/internal/objectstore"
	"github.com/starford/skillnotes/internal/publish"
)

// FileHandler serves binaries behind signed references.
type FileHandler struct {
	files Files
}

// NewFileHandler creates a handler over files.
func NewFileHandler(files Files) *FileHandler {
	return &FileHandler{files: files}
}

// ServeFile handles GET /files/{key}?token=.
func (h *FileHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	key := fileKey(r)
	if err := objectstore.ValidateKey(key); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid key"))
		return
	}
	if err := h.files.Verify(key, r.URL.Query().Get("token")); err != nil {
		writeJSON(w, http.StatusForbidden, errorBody("invalid or expired reference"))
		return
	}

	rc, err := h.files.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		writeError(w, "serve file", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", publish.ContentType(key))
	w.Header().Set("Content-Disposition", `inline; filename="`+path.Base(key)+`"`)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// fileKey extracts the key from the URL, accepting encoded slashes.
func fileKey(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}
