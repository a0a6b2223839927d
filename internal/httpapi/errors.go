package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
)

// APIError is the standard error response body, matching the teacher's
// internal/controlplane/server.APIError shape.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSONError writes a structured JSON error body with the given
// status and code — never leaking an unclassified error's internal text.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message, Code: code})
}

// renderError maps err to a status via brokkrerrors.StatusOf/KindOf and
// writes it. Unclassified errors render as a generic 500 with no detail,
// per spec.md §7's "no internal detail leakage".
func renderError(w http.ResponseWriter, err error) {
	status := brokkrerrors.StatusOf(err)
	kind, ok := brokkrerrors.KindOf(err)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	message, _ := brokkrerrors.SafeMessageOf(err)
	writeJSONError(w, status, string(kind), message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var forbiddenErr = brokkrerrors.New(brokkrerrors.Forbidden, "forbidden")

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return brokkrerrors.Wrap(brokkrerrors.Validation, "invalid request body", err)
	}
	return nil
}
