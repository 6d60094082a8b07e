package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/lthibault/log"
)

func withContentType(ct string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", ct)
			next.ServeHTTP(w, r)
		})
	}
}

// withLogger recovers handler panics and logs the request duration.
func withLogger(l log.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t0 := time.Now()
			defer func() {
				if v := recover(); v != nil {
					w.WriteHeader(http.StatusInternalServerError)

					l := l.WithField("trace", string(debug.Stack()))
					if err, ok := v.(error); ok {
						l = l.WithError(err)
					}

					l.Error("http request panic")
					return
				}

				l.With(log.F{
					"method":   r.Method,
					"path":     r.URL.EscapedPath(),
					"duration": time.Since(t0).Seconds(),
				}).Debug("request handled")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
