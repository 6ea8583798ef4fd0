package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	dErrors "secretsanta/pkg/domain-errors"
)

// contentionRetryAfter is advertised to callers that lost a draw race.
const contentionRetryAfter = 1

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded error to its HTTP status. Only the domain message
// is described; wrapped causes stay in the logs, and internal errors get no
// description at all.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	resp := ErrorResponse{Error: string(code)}
	if status != http.StatusInternalServerError {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.ErrorDescription = de.Message
		}
	}
	if code == dErrors.CodeContention {
		w.Header().Set("Retry-After", strconv.Itoa(contentionRetryAfter))
	}
	WriteJSON(w, status, resp)
}
