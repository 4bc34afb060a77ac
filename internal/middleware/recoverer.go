package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"chat-service/internal/apperr"
)

// Recoverer turns a handler panic into an Unexpected 500 response.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			if r.Header.Get("Connection") == "Upgrade" {
				return
			}
			apperr.WriteHTTP(w, r, fmt.Errorf("panic: %v", rec))
		}()
		next.ServeHTTP(w, r)
	})
}
