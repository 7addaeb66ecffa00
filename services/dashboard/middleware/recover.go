package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicCapturer records a recovered panic. *recovery.Engine satisfies it.
type PanicCapturer interface {
	CapturePanic(recovered any, stack []byte) string
}

// CapturePanics recovers handler panics, hands them to capturer and
// answers 500. http.ErrAbortHandler is re-raised so net/http can abort
// the connection.
func CapturePanics(capturer PanicCapturer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				id := capturer.CapturePanic(rec, debug.Stack())
				logger.Error("handler panicked",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("error_id", id),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal server error"}`))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
