package api

import (
	"log"
	"net/http"
	"runtime/debug"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs every request this node coordinates, tagging
// each line with the node_id so multi-node log aggregation can tell
// which coordinator handled a given request, and with the requested
// consistency level when the caller supplied it as a query parameter
// (a consistency given in a PUT body is not logged).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		level := r.URL.Query().Get("consistency")
		if level == "" {
			log.Printf("node=%s %s %s %d %s %s",
				s.config.NodeID, r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), r.RemoteAddr)
		} else {
			log.Printf("node=%s %s %s consistency=%s %d %s %s",
				s.config.NodeID, r.Method, r.URL.Path, level, wrapped.statusCode, time.Since(start), r.RemoteAddr)
		}
	})
}

// recoveryMiddleware recovers from panics in a route handler and reports
// them through the same writeError diagnostics shape the handlers use
// for a failed replication, so a crashed handler on this node looks
// like any other 500 to the client rather than a bare stack trace.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("node=%s PANIC handling %s %s: %v\n%s",
					s.config.NodeID, r.Method, r.URL.Path, err, debug.Stack())
				writeError(w, http.StatusInternalServerError, "internal server error", map[string]interface{}{
					"node_id": s.config.NodeID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers so a browser-based client can reach
// any node directly without a proxy.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
