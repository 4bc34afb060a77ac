// Package apperr defines the chat service error taxonomy and turns any error
// into the uniform wire shape {type, debugMessage, debugParams}.
package apperr

import (
	"fmt"
	"net/http"
	"runtime"
)

// Kind tags the variant of an Error.
type Kind string

const (
	ObjectNotFound   Kind = "OBJECT_NOT_FOUND_EXCEPTION"
	ChatAlreadyExist Kind = "CHAT_ALREADY_EXIST_EXCEPTION"
	NotAccessToChat  Kind = "NOT_ACCESS_TO_CHAT_EXCEPTION"
	Unexpected       Kind = "UNEXPECTED_EXCEPTION"
)

// Status is the default status code of the kind.
func (k Kind) Status() int {
	switch k {
	case ObjectNotFound:
		return http.StatusNotFound
	case ChatAlreadyExist:
		return http.StatusBadRequest
	case NotAccessToChat:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Status and URL are only meaningful for
// Unexpected errors.
type Error struct {
	Kind         Kind
	DebugMessage string
	DebugParams  map[string]interface{}
	Status       int
	URL          string
	Cause        error
	Location     string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.DebugMessage, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.DebugMessage)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus is the carried status for Unexpected errors that have one, the
// kind default otherwise.
func (e *Error) HTTPStatus() int {
	if e.Kind == Unexpected && e.Status != 0 {
		return e.Status
	}
	return e.Kind.Status()
}

func newError(kind Kind, msg string, params map[string]interface{}) *Error {
	return &Error{
		Kind:         kind,
		DebugMessage: msg,
		DebugParams:  params,
		Location:     caller(3),
	}
}

// ChatNotFound reports that a project has no chat.
func ChatNotFound(projectID string) *Error {
	return newError(ObjectNotFound, "Chat does not exist", map[string]interface{}{
		"projectId": projectID,
	})
}

// NotFound reports a missing object of the given class by id.
func NotFound(id, className string) *Error {
	return newError(ObjectNotFound, className+" is not found", map[string]interface{}{
		"id":        id,
		"className": className,
	})
}

// ChatExists is raised by strict creation when the project already has a chat.
func ChatExists(projectID, chatID string) *Error {
	return newError(ChatAlreadyExist, "Chat already exists for project", map[string]interface{}{
		"projectId": projectID,
		"chatId":    chatID,
	})
}

// NoAccess reports that the user is not a member of the chat.
func NoAccess(chatID, userID string) *Error {
	return newError(NotAccessToChat, "User have not been access to chat", map[string]interface{}{
		"chatId": chatID,
		"userId": userID,
	})
}

// NewUnexpected wraps a non-domain failure. status 0 means "use 500".
func NewUnexpected(msg string, cause error, status int, url string) *Error {
	e := newError(Unexpected, msg, map[string]interface{}{"url": url})
	e.Cause = cause
	e.Status = status
	e.URL = url
	return e
}

// StatusError is a transport-level failure that already knows its status,
// e.g. a malformed request body or a failed upstream call.
type StatusError struct {
	Status int
	Reason string
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Reason, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Reason)
}

func (e *StatusError) Unwrap() error { return e.Err }

// WithStatus builds a StatusError.
func WithStatus(status int, reason string, err error) *StatusError {
	return &StatusError{Status: status, Reason: reason, Err: err}
}

// Wrap annotates err with op and the caller's location. Translate reports
// that location for Unexpected errors instead of the boundary's own.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &locatedError{op: op, err: err, location: caller(2)}
}

type locatedError struct {
	op       string
	err      error
	location string
}

func (e *locatedError) Error() string { return e.op + ": " + e.err.Error() }

func (e *locatedError) Unwrap() error { return e.err }

func caller(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		return fmt.Sprintf("%s(%s:%d)", fn.Name(), file, line)
	}
	return fmt.Sprintf("%s:%d", file, line)
}
