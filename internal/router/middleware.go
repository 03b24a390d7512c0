package router

import (
	"context"
	"net/http"
	"regexp"
	"runtime/debug"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/utilities"
)

const headerRequestID = "X-Request-ID"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter { return lrw.ResponseWriter }

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			// HSTS only over TLS, 30 days
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

// RequestIDMiddleware propagates X-Request-ID, minting a KSUID when the client sent none.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if id == "" || len(id) > 64 {
				id = utilities.NewKSUID()
			}
			w.Header().Set(headerRequestID, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// RequestID returns the id assigned by RequestIDMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// CORSMiddleware allows cross-origin requests from origins matching one of patterns.
// With no patterns CORS headers are never sent.
func CORSMiddleware(patterns []*regexp.Regexp) func(http.Handler) http.Handler {
	allowed := func(origin string) bool {
		return slices.ContainsFunc(patterns, func(re *regexp.Regexp) bool { return re.MatchString(origin) })
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !allowed(origin) {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+headerRequestID)
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RecoveryMiddleware turns panics into 500 responses.
func RecoveryMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Errorw("panic serving request",
						"request_id", RequestID(r.Context()),
						"path", r.URL.Path,
						"panic", rec,
						"stack", string(debug.Stack()),
					)
					utilities.WriteMessage(w, http.StatusInternalServerError, utilities.CategoryError, "internal server error", "")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticator resolves bearer tokens to users.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*entity.MinimalAuthView, error)
}

// Auth builds the authentication middlewares around one Authenticator.
type Auth struct {
	sessions Authenticator
	logger   *zap.SugaredLogger
}

func NewAuth(sessions Authenticator, logger *zap.SugaredLogger) *Auth {
	return &Auth{sessions: sessions, logger: logger}
}

// Optional attaches the user when a valid bearer token is present and never rejects.
func (a *Auth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok, ok := session.BearerToken(r.Header.Get("Authorization")); ok {
			if u, err := a.sessions.Authenticate(r.Context(), tok); err == nil {
				r = r.WithContext(session.WithUser(r.Context(), u))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Required rejects requests without a valid, current access token.
func (a *Auth) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := session.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			unauthorized(w)
			return
		}
		u, err := a.sessions.Authenticate(r.Context(), tok)
		if err != nil {
			a.logger.Debugw("authentication failed", "request_id", RequestID(r.Context()), "err", err)
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithUser(r.Context(), u)))
	})
}

// Confirmed requires an authenticated user with a confirmed email. Use after Required.
func (a *Auth) Confirmed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := session.UserFrom(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		if !u.Confirmed {
			utilities.WriteMessage(w, http.StatusForbidden, utilities.CategoryWarning, "Please confirm your account to continue.", "/user/unconfirmed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Admin requires an authenticated admin. Use after Required.
func (a *Auth) Admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := session.UserFrom(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		if !u.IsAdmin() {
			utilities.WriteMessage(w, http.StatusForbidden, utilities.CategoryError, "You do not have permission to access this page.", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	utilities.WriteMessage(w, http.StatusUnauthorized, utilities.CategoryError, "Please log in to access this page.", "/user/login")
}
