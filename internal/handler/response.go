// Package handler provides HTTP handlers for the event and control plane.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/sentrygrid/coreplane/internal/apperr"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse represents a successful response.
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, status int, code string, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteSuccess writes a success response with status code.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, SuccessResponse{
		Data: data,
	})
}

// WriteSuccessStatus writes a success response with custom status code.
func WriteSuccessStatus(w http.ResponseWriter, status int, data interface{}) {
	WriteJSON(w, status, SuccessResponse{
		Data: data,
	})
}

// WriteAppError maps an apperr.Kind to its HTTP status code and writes the
// error response, the single translation point every handler in this
// package goes through for errors returned from the domain layer. Every
// authentication failure is written with the same message, whichever
// check failed.
func WriteAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	message := err.Error()
	if kind == apperr.KindAuthentication {
		message = apperr.ErrAuthentication.Error()
	}
	WriteError(w, status, kind.String(), message)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindLimitExceeded:
		return http.StatusPaymentRequired
	case apperr.KindBackpressure:
		return http.StatusServiceUnavailable
	case apperr.KindTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
