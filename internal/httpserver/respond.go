package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/wisbric/tacops/internal/errs"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, code string, message string) {
	Respond(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// RespondErr maps err's errs.Kind to an HTTP status and writes the envelope.
// Use this at handler boundaries instead of hand-picking a status code.
func RespondErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "kind", kind.String())
	}

	RespondError(w, status, kind.String(), err.Error())
}
