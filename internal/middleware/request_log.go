package middleware

import (
	"net/http"
	"time"

	"github.com/chatline/internal/logger"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestLog логирует метод, путь, статус и время выполнения запроса (асинхронно, не блокирует).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debugf("http %s %s -> %d in %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
