package api

import (
	"net/http"
	"time"

	rootlog "github.com/domonda/golog/log"
	"github.com/go-chi/chi/v5/middleware"
)

var log = rootlog.NewPackageLogger("api")

// requestLogger logs every request after it was served.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		log.Debug("HTTP request").
			Str("requestID", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("duration", time.Since(start).String()).
			Log()
	})
}
