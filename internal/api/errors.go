package api

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/brulejr/autohome/internal/broker"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeMalformedBody  = "malformed_body"
	CodeInvalidMessage = "invalid_message"
	CodeRelayDown      = "relay_unavailable"
	CodeInternal       = "internal_error"
)

// publishFailures maps relay publish errors to responses. Anything not
// listed is an internal error.
var publishFailures = []struct {
	err    error
	status int
	code   string
}{
	{broker.ErrNotRunning, http.StatusServiceUnavailable, CodeRelayDown},
	{broker.ErrTransport, http.StatusServiceUnavailable, CodeRelayDown},
	{broker.ErrInvalidTopic, http.StatusBadRequest, CodeInvalidMessage},
	{broker.ErrSerialization, http.StatusBadRequest, CodeInvalidMessage},
}

// classifyPublishError returns the response status and code for err, and
// whether err was an expected relay condition.
func classifyPublishError(err error) (status int, code string, known bool) {
	for _, f := range publishFailures {
		if errors.Is(err, f.err) {
			return f.status, f.code, true
		}
	}
	return http.StatusInternalServerError, CodeInternal, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}
