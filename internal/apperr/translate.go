package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"chat-service/internal/callctx"
	"chat-service/internal/models"
)

const defaultMessage = "Exception occurred during request processing"

// Result is the serialized form of an Error.
type Result struct {
	Body   models.ErrorResponse
	Status int
}

// Translate classifies err. Domain errors pass through unchanged; anything
// else becomes Unexpected, keeping the status of a StatusError.
func Translate(err error, url string) *Error {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr
	}

	msg := defaultMessage
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}

	status := 0
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		status = statusErr.Status
		msg = statusErr.Reason
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	e := NewUnexpected(msg, err, status, url)
	var located *locatedError
	if errors.As(err, &located) {
		e.Location = located.location
	} else {
		e.Location = caller(2)
	}
	return e
}

// Serialize produces the client-facing body. Unexpected errors never expose
// debug params.
func Serialize(e *Error) Result {
	var params map[string]interface{}
	if e.Kind != Unexpected {
		params = make(map[string]interface{}, len(e.DebugParams))
		for k, v := range e.DebugParams {
			params[k] = v
		}
	}
	return Result{
		Body: models.ErrorResponse{
			Type:         string(e.Kind),
			DebugMessage: e.DebugMessage,
			DebugParams:  params,
		},
		Status: e.HTTPStatus(),
	}
}

// Log writes the server-side record of e with the call-scoped logger.
func Log(ctx context.Context, e *Error) {
	logger := callctx.Logger(ctx)
	var event *zerolog.Event
	if e.Kind == Unexpected {
		event = logger.Error().
			Str("exception", exceptionName(e)).
			Str("location", e.Location).
			Str("url", e.URL)
		if e.Cause != nil {
			event = event.AnErr("cause", e.Cause)
		}
	} else {
		event = logger.Warn().Interface("debugParams", e.DebugParams)
	}
	event.
		Str("type", string(e.Kind)).
		Int("status", e.HTTPStatus()).
		Msg(e.DebugMessage)
}

// WriteHTTP translates, logs and writes err as a JSON response.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	e := Translate(err, r.URL.String())
	Log(r.Context(), e)
	res := Serialize(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Status)
	if encErr := json.NewEncoder(w).Encode(res.Body); encErr != nil {
		callctx.Logger(r.Context()).Error().Err(encErr).Msg("failed to encode error response")
	}
}

func exceptionName(e *Error) string {
	if e.Cause == nil {
		return fmt.Sprintf("%T", e)
	}
	inner := e.Cause
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			return fmt.Sprintf("%T", inner)
		}
		inner = next
	}
}
