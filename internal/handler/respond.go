// internal/handler/respond.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "github.com/unclebandit/wa-dispatch/internal/errors"
)

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteJSONError formats the response as {"error": "message"}.
func WriteJSONError(w http.ResponseWriter, message string, statusCode int) {
	WriteJSON(w, statusCode, errorResponse{Error: message})
}

// WriteServiceError maps service errors to status codes:
// not found is 404, validation and bad transitions are 400, anything else is 500.
func WriteServiceError(w http.ResponseWriter, err error) {
	var verr *appErrors.ValidationError
	switch {
	case appErrors.IsNotFound(err):
		WriteJSONError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &verr):
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: appErrors.ErrInvalidCampaign.Error(), Problems: verr.Problems})
	case errors.Is(err, appErrors.ErrInvalidCampaign), errors.Is(err, appErrors.ErrInvalidTransition):
		WriteJSONError(w, err.Error(), http.StatusBadRequest)
	default:
		WriteJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}
