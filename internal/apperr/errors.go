// Package apperr defines the typed error taxonomy shared by the send and
// receive HTTP handlers, and the HTTP status/JSON envelope mapping for it.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Kind classifies an Error for HTTP status mapping and metrics labeling.
type Kind string

const (
	KindUnauthorized        Kind = "unauthorized"
	KindNotFound            Kind = "not_found"
	KindBadRequest          Kind = "bad_request"
	KindConflict            Kind = "conflict"
	KindInsufficientStorage Kind = "insufficient_storage"
	KindInternal            Kind = "internal_error"
)

// statusCodes maps each Kind to its HTTP status.
var statusCodes = map[Kind]int{
	KindUnauthorized:        http.StatusUnauthorized,
	KindNotFound:            http.StatusNotFound,
	KindBadRequest:          http.StatusBadRequest,
	KindConflict:            http.StatusConflict,
	KindInsufficientStorage: http.StatusInsufficientStorage,
	KindInternal:            http.StatusInternalServerError,
}

// Error is the typed error every handler returns. cause, when present, is
// never serialized to the client — it is logged server-side only.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for e's Kind.
func (e *Error) Status() int {
	if code, ok := statusCodes[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...interface{}) *Error {
	return newErr(KindUnauthorized, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newErr(KindNotFound, format, args...)
}

func BadRequest(format string, args ...interface{}) *Error {
	return newErr(KindBadRequest, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newErr(KindConflict, format, args...)
}

func InsufficientStorage(format string, args ...interface{}) *Error {
	return newErr(KindInsufficientStorage, format, args...)
}

// Internal wraps cause as a 500. The client only ever sees a generic
// message; cause is surfaced to WriteError's logger.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "an internal error occurred", cause: cause}
}

// As reports whether err (or something it wraps) is an *Error, mirroring
// the errors.As convenience most callers want.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteError writes err to w as the standard JSON envelope
// {"error":{"type","message"}}, logging the full cause for Internal
// errors (and only those) via logger.
func WriteError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	appErr, ok := As(err)
	if !ok {
		appErr = Internal(err)
	}

	if appErr.Kind == KindInternal && logger != nil {
		logger.WithError(appErr.cause).WithField("message", appErr.Message).Error("internal error")
	}

	var body errorBody
	body.Error.Type = string(appErr.Kind)
	body.Error.Message = appErr.Message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status())
	_ = json.NewEncoder(w).Encode(body)
}
