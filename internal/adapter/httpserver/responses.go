// Package httpserver contains the HTTP handlers and middleware of the
// operation scheduler.
//
// It exposes the REST surface the office frontends call: enqueueing
// operations, inspecting and cancelling jobs, the per-agent and firm-wide
// event streams, and the agent/queue status views. Business rules live in
// the usecase layer; this package only translates HTTP.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrAgentBusy):
		code = http.StatusConflict
		codeStr = "AGENT_BUSY"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
