package gateway

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/apperr"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError converts classified service errors to HTTP status codes.
func handleError(w http.ResponseWriter, err error) {
	var httpStatus int
	var code string

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		httpStatus = http.StatusBadRequest
		code = "invalid_argument"
	case apperr.KindNotFound:
		httpStatus = http.StatusNotFound
		code = "not_found"
	case apperr.KindAuthorization:
		httpStatus = http.StatusForbidden
		code = "permission_denied"
	case apperr.KindConflict:
		httpStatus = http.StatusConflict
		code = "conflict"
	default:
		httpStatus = http.StatusServiceUnavailable
		code = "service_unavailable"
	}

	respondError(w, httpStatus, code, err.Error())
}
