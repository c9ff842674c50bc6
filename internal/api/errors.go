package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/roamhq/roam-saas-ai/internal/errors"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

// statusFor maps error codes onto HTTP statuses. Only structural
// request problems are the caller's fault; everything else is ours.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.BadRequest, errors.BadTenant:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as JSON. The message of a coded error is
// shown as-is; its cause never leaves the process.
func writeError(w http.ResponseWriter, err error) {
	var re *errors.RoamError
	if stderrors.As(err, &re) {
		writeJSON(w, statusFor(re.Code), errorResponse{Error: re.Message, Detail: re.Details})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
