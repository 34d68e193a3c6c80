package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/duochat/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, шаблон маршрута и время выполнения (асинхронно).
// Шаблон вместо пути, чтобы /uploads/{filename} не плодил уникальные строки.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		logger.LogDuration("http "+r.Method+" "+path, start)
	})
}
