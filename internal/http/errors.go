package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/roadside-dispatch/internal/dispatch"
)

// statusFor maps dispatch error kinds to HTTP status codes. Refinements are
// checked before their parent kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrOptedOut),
		errors.Is(err, dispatch.ErrNotProvider),
		errors.Is(err, dispatch.ErrNotApproved):
		return http.StatusForbidden
	case errors.Is(err, dispatch.ErrProviderIneligible):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrNoAssignee):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrRequestUnavailable),
		errors.Is(err, dispatch.ErrAlreadyRejected),
		errors.Is(err, dispatch.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "error", err)
		writeMessage(w, code, "internal error")
		return
	}
	writeMessage(w, code, err.Error())
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
