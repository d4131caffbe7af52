package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
	"github.com/starford/skillnotes/internal/noteservice"
	"github.com/starford/skillnotes/internal/publish"
	"github.com/starford/skillnotes/internal/recordstore"
)

// multipartMemory is held in memory while parsing uploads; the rest spills
// to temporary files.
const multipartMemory = 8 << 20

// Handler holds the route handlers.
type Handler struct {
	notes    *noteservice.Service
	sessions Sessions
}

type noteResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	College     string    `json:"college"`
	Stream      string    `json:"stream"`
	Branch      string    `json:"branch"`
	Semester    int       `json:"semester"`
	Subject     string    `json:"subject"`
	IsPublic    bool      `json:"is_public"`
	FileURL     string    `json:"file_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type listResponse struct {
	Notes      []noteResponse `json:"notes"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func toResponse(n models.NoteArtifact) noteResponse {
	return noteResponse{
		ID:          n.ID,
		OwnerID:     n.OwnerID,
		Title:       n.Title,
		Description: n.Description,
		College:     n.College,
		Stream:      n.Stream,
		Branch:      n.Branch,
		Semester:    n.Semester,
		Subject:     n.Subject,
		IsPublic:    n.IsPublic,
		FileURL:     n.FileURL,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

func toList(p recordstore.Page) listResponse {
	out := listResponse{Notes: make([]noteResponse, len(p.Items)), NextCursor: p.NextCursor}
	for i, n := range p.Items {
		out.Notes[i] = toResponse(n)
	}
	return out
}

// Dashboard handles GET /dashboard: the signed-in user's notes.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	page, err := h.notes.ListMine(r.Context(), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, "list my notes", err)
		return
	}
	writeJSON(w, http.StatusOK, toList(page))
}

// ListNotes handles GET /notes: public notes, optionally by subject.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.notes.ListNotes(r.Context(), q.Get("subject"), q.Get("cursor"))
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, toList(page))
}

// GetNote handles GET /notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	n, err := h.notes.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(n))
}

// PublishNote handles POST /notes (multipart/form-data, field "file" plus
// the metadata fields). is_public defaults to true.
func (h *Handler) PublishNote(w http.ResponseWriter, r *http.Request) {
	limit := h.notes.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemory)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "publish", apperr.Invalid("file.size", "exceeds the upload limit"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("invalid multipart form"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "publish", apperr.Invalid("file", "missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	upload := models.Upload{
		Name:        header.Filename,
		ContentType: publish.ContentType(header.Filename),
		Data:        data,
	}

	fields, err := formFields(r)
	if err != nil {
		writeError(w, "publish", err)
		return
	}

	n, err := h.notes.Publish(r.Context(), upload, fields)
	if err != nil {
		writeError(w, "publish", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(n))
}

// RetractNote handles DELETE /notes/{id}.
func (h *Handler) RetractNote(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.Retract(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "retract", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateNote handles PUT /notes/{id} with a JSON body of the fields to change.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var patch models.NoteUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	n, err := h.notes.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(n))
}

func formFields(r *http.Request) (models.NoteFields, error) {
	f := models.NoteFields{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Description: strings.TrimSpace(r.FormValue("description")),
		College:     strings.TrimSpace(r.FormValue("college")),
		Stream:      strings.TrimSpace(r.FormValue("stream")),
		Branch:      strings.TrimSpace(r.FormValue("branch")),
		Subject:     strings.TrimSpace(r.FormValue("subject")),
		IsPublic:    true,
	}
	if v := strings.TrimSpace(r.FormValue("semester")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, apperr.Invalid("semester", "must be a number")
		}
		f.Semester = n
	}
	if v := strings.TrimSpace(r.FormValue("is_public")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, apperr.Invalid("is_public", "must be a boolean")
		}
		f.IsPublic = b
	}
	return f, nil
}
