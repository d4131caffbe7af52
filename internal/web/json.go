package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/skillnotes/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("web: json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error  string            `json:"error"`
	Phase  string            `json:"phase,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusOf maps the error taxonomy onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrStorageWrite),
		errors.Is(err, apperr.ErrReferenceMint),
		errors.Is(err, apperr.ErrMetadataCommit),
		errors.Is(err, apperr.ErrRecordStore),
		errors.Is(err, apperr.ErrDecode):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Server side failures are logged with op and
// reported without detail.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	body := errorBody(http.StatusText(status))

	var verr *apperr.ValidationError
	var perr *apperr.PhaseError
	switch {
	case errors.As(err, &verr):
		body.Error = apperr.ErrValidation.Error()
		body.Fields = verr.Fields
	case errors.As(err, &perr):
		body.Phase = string(perr.Phase)
	case status < http.StatusInternalServerError:
		body.Error = err.Error()
	}

	if status >= http.StatusInternalServerError {
		slog.Error("web: "+op+" failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, body)
}
