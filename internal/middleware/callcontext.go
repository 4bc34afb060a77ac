package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"chat-service/internal/callctx"
	"chat-service/internal/metrics"
)

// CallContext opens a call scope per request, echoes the call id in
// X-Call-Id and writes one access log line when the request finishes. The
// scope's user comes from identity when it resolves the request, so
// token-only callers are attributed too; otherwise X-User-Id is used.
func CallContext(base zerolog.Logger, m *metrics.Metrics, identity *IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, end := callctx.Begin(r.Context(), base, callctx.Fields{
				UserID:           callerID(r, identity),
				InitiatorService: r.Header.Get(callctx.HeaderInitiatorService),
				Method:           r.URL.Path + "_" + r.Method,
			})
			defer end()

			w.Header().Set(callctx.HeaderCallID, callctx.CallID(ctx))
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			m.ObserveHTTP(routePattern(r), r.Method, strconv.Itoa(status), elapsed)
			callctx.Logger(ctx).Info().
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", elapsed).
				Msg("request completed")
		})
	}
}

// callerID is best effort: an unresolvable caller is left to the identity
// middleware to reject.
func callerID(r *http.Request, identity *IdentityResolver) string {
	if identity != nil {
		if id, err := identity.Resolve(r); err == nil {
			return id.String()
		}
	}
	return r.Header.Get(callctx.HeaderUserID)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
