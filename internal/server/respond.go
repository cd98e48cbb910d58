package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/classlens/classlens/internal/model"
	"github.com/classlens/classlens/internal/storage"
)

// writeJSON writes a JSON response with the standard envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Data: data,
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// writeError writes a JSON error response with the standard envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message},
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// statusForCode maps taxonomy codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeNotEnoughData:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps an error from the core to the envelope. Storage
// not-found sentinels become NOT_FOUND; coded errors keep their code; anything
// else is an opaque internal error (the cause goes to the log, not the client).
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "resource not found")
		return
	}

	var coded *model.CodedError
	if errors.As(err, &coded) {
		writeError(w, r, statusForCode(coded.Code), coded.Code, coded.Message)
		return
	}

	h.logger.Error("internal error",
		"error", err,
		"request_id", RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal server error")
}

// decodeJSON decodes a JSON request body into the target struct, enforcing
// the body size limit and rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, maxBytes int64) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

// handleDecodeError reports a body-decoding failure as a validation error.
func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeValidation, "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "invalid request body: "+err.Error())
}
