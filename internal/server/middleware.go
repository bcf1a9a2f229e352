package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/apperr"
)

// AccessLevelHeader carries the caller's clearance when no token verifier
// is configured. Authentication then happens upstream and the header is
// trusted.
const AccessLevelHeader = "X-Access-Level"

type levelKey struct{}

func (s *Server) accessLevel(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		level := s.defaultLevel
		if s.tokens != nil {
			if h := r.Header.Get("Authorization"); h != "" {
				parsed, err := s.tokens.Level(h)
				if err != nil {
					s.log.Debug("rejected bearer token", "error", err, "request_id", middleware.GetReqID(r.Context()))
					writeError(w, r, apperr.New(apperr.KindUnauthorized, "access", "invalid or expired token"))
					return
				}
				level = parsed
			}
		} else if h := r.Header.Get(AccessLevelHeader); h != "" {
			parsed, err := access.ParseLevel(h)
			if err != nil {
				writeError(w, r, apperr.Validation("access", "invalid %s header %q", AccessLevelHeader, h))
				return
			}
			level = parsed
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), levelKey{}, level)))
	})
}

func levelFrom(ctx context.Context) access.Level {
	if l, ok := ctx.Value(levelKey{}).(access.Level); ok {
		return l
	}
	return access.Public
}

// instrument records request counts and latency by route pattern, so path
// parameters do not explode label cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(r.Method, route, strconv.Itoa(status), time.Since(start))
		s.log.Debug("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("panic serving request",
					"path", r.URL.Path,
					"panic", fmt.Sprint(rec),
					"request_id", middleware.GetReqID(r.Context()),
				)
				writeError(w, r, apperr.New(apperr.KindInternal, "http", ""))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
