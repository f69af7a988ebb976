// Package httpx writes the JSON envelope shared by every HTTP endpoint.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/apperr"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Response is the envelope of every REST reply
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

// OK writes a successful envelope.
func OK(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusOK, Response{Success: true, Message: message, Data: data})
}

// Created writes a successful envelope with 201.
func Created(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusCreated, Response{Success: true, Message: message, Data: data})
}

// Error maps err to its status and writes a failed envelope. Internal
// errors are logged and never leak their text.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	JSON(w, status, Response{
		Success: false,
		Message: apperr.Message(err),
		Code:    kind.Code(),
	})
}

// Decode reads a JSON body into v.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Wrap(apperr.KindValidation, err, "malformed request body")
	}
	return nil
}
