package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MimeLyc/subtrans/internal/auth"
	"github.com/MimeLyc/subtrans/internal/pipeline"
	"github.com/MimeLyc/subtrans/pkg/log"
	"github.com/go-chi/cors"
)

type contextKey string

const principalKey contextKey = "principal"

// localPrincipal is used for every request when authentication is disabled.
var localPrincipal = pipeline.Principal{Subject: "local", Role: auth.RoleAdmin}

// authenticate resolves the bearer token into a principal. EventSource clients
// cannot set headers, so the token may also arrive as access_token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), localPrincipal)))
			return
		}

		raw := r.URL.Query().Get("access_token")
		if header := r.Header.Get("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}
			raw = parts[1]
		}
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		claims, err := s.tokens.ValidateToken(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		p := pipeline.Principal{Subject: claims.Subject, Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

func withPrincipal(ctx context.Context, p pipeline.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func principalFrom(r *http.Request) (pipeline.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(pipeline.Principal)
	return p, ok
}

// corsOptions disables credentials when any origin is allowed.
func corsOptions(allowedOrigins []string) cors.Options {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	allowCreds := true
	for _, o := range allowedOrigins {
		if o == "*" {
			allowCreds = false
			break
		}
	}
	return cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: allowCreds,
		MaxAge:           300,
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// silentPaths are only logged on errors.
var silentPaths = map[string]bool{
	"/api/health": true,
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		if silentPaths[r.URL.Path] && wrapped.status < 400 {
			return
		}
		log.Info("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
