package utils

import (
	"encoding/json"
	"net/http"
	"time"

	"ms-pos/internal/apperr"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now(),
	}
}

// WriteJSON writes a payload with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps a classified error to its HTTP status and envelope.
func WriteError(w http.ResponseWriter, message string, err error) {
	resp := APIResponse{
		Success:   false,
		Message:   message,
		Error:     apperr.Reason(err),
		ErrorKind: string(apperr.KindOf(err)),
		Timestamp: time.Now(),
	}
	WriteJSON(w, apperr.HTTPStatus(err), resp)
}
