// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. Fixed messages only; no user-controlled input
// is echoed back.
package auth

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes v as the response body with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeOutcome writes v with the status mapped from its code.
func writeOutcome(w http.ResponseWriter, code Code, v any) {
	writeJSON(w, code.HTTPStatus(), v)
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r.Context(), "internal server error", "error", err)
	writeJSON(w, http.StatusInternalServerError, Outcome{Code: CodeInternal, Message: msgInternal})
}

// BadRequest returns a 400 JSON response with the given message.
// Use for client input validation failures.
func BadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, Outcome{Code: CodeBadRequest, Message: message})
}

// Unauthorized returns a 401 JSON response.
// Keep message generic so failures don't reveal which check rejected the request.
func Unauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, Outcome{Code: CodeUnauthorized, Message: message})
}
