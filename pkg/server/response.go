package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tsgd/tsgd/internal/channel"
	"github.com/tsgd/tsgd/internal/tsg"
	tcontext "github.com/tsgd/tsgd/pkg/context"
)

// Response is the envelope around every API reply
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
}

// APIError describes a failed request
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	CodeBadRequest        = "bad_request"
	CodeInvalidArgument   = "invalid_argument"
	CodeNotFound          = "not_found"
	CodeInvalidState      = "invalid_state"
	CodeMismatch          = "mismatch"
	CodeNotAbortable      = "not_abortable"
	CodeControlLocked     = "control_locked"
	CodeResourceExhausted = "resource_exhausted"
	CodePreemptTimeout    = "preempt_timeout"
	CodeInternal          = "internal"
)

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{tsg.ErrInvalidArgument, http.StatusBadRequest, CodeInvalidArgument},
	{channel.ErrInvalidRunlist, http.StatusBadRequest, CodeInvalidArgument},
	{tsg.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{channel.ErrChannelNotFound, http.StatusNotFound, CodeNotFound},
	{tsg.ErrInvalidState, http.StatusConflict, CodeInvalidState},
	{channel.ErrChannelBound, http.StatusConflict, CodeInvalidState},
	{tsg.ErrMismatch, http.StatusConflict, CodeMismatch},
	{tsg.ErrNotAbortable, http.StatusConflict, CodeNotAbortable},
	{tsg.ErrControlLocked, http.StatusConflict, CodeControlLocked},
	{tsg.ErrResourceExhausted, http.StatusServiceUnavailable, CodeResourceExhausted},
	{channel.ErrNoFreeChannel, http.StatusServiceUnavailable, CodeResourceExhausted},
	{tsg.ErrPreemptTimeout, http.StatusGatewayTimeout, CodePreemptTimeout},
}

// statusFor maps a manager error onto an HTTP status and error code
func statusFor(err error) (int, string) {
	for _, es := range errorStatus {
		if errors.Is(err, es.err) {
			return es.status, es.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

func requestID(r *http.Request) string {
	id, _ := tcontext.RequestID(r.Context())
	return id
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	respondJSON(w, http.StatusOK, requestID(r), data, nil)
}

func respondCreated(w http.ResponseWriter, r *http.Request, data any) {
	respondJSON(w, http.StatusCreated, requestID(r), data, nil)
}

// respondError writes err with the status its sentinel maps to
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	respondJSON(w, status, requestID(r), nil, &APIError{Code: code, Message: err.Error()})
}

func respondBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	respondJSON(w, http.StatusBadRequest, requestID(r), nil, &APIError{Code: CodeBadRequest, Message: msg})
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, apiErr *APIError) {
	resp := Response{
		Status:    "ok",
		RequestID: reqID,
		Data:      data,
		Error:     apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func handleParam(r *http.Request, name string) (tsg.Handle, error) {
	return tsg.ParseHandle(chi.URLParam(r, name))
}

func uint32Param(r *http.Request, name string) (uint32, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
