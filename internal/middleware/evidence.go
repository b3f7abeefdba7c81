// Package middleware provides HTTP middleware for the caller boundary.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/cloudless/internal/app/auth"
	"github.com/R3E-Network/cloudless/internal/errors"
	"github.com/R3E-Network/cloudless/internal/httputil"
	"github.com/R3E-Network/cloudless/internal/logging"
)

// ExtractEvidence reads credential material from request headers. A
// non-Bearer Authorization value is passed through as-is so that it fails
// verification instead of silently disappearing.
func ExtractEvidence(r *http.Request) auth.Evidence {
	ev := auth.Evidence{
		ServiceToken: strings.TrimSpace(r.Header.Get(httputil.ServiceTokenHeader)),
		UserID:       strings.TrimSpace(r.Header.Get(httputil.UserIDHeader)),
	}
	if header := strings.TrimSpace(r.Header.Get(httputil.AuthorizationHeader)); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			ev.SessionToken = strings.TrimSpace(token)
		} else {
			ev.SessionToken = header
		}
	}
	return ev
}

// Resolver maps evidence to a principal.
type Resolver interface {
	Resolve(ctx context.Context, ev auth.Evidence) auth.Principal
}

// Evidence resolves the caller on every request and stores the principal
// on the request context. It never rejects; access control belongs to the
// method registry.
func Evidence(resolver Resolver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p := resolver.Resolve(ctx, ExtractEvidence(r))

			ctx = auth.WithPrincipal(ctx, p)
			if p.UserID != "" {
				ctx = logging.WithUserID(ctx, p.UserID)
			}
			if p.ServiceID != "" {
				ctx = logging.WithServiceID(ctx, p.ServiceID)
			}
			if p.Role != "" {
				ctx = logging.WithRole(ctx, p.Role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTrust rejects callers below min before the handler runs. The API
// routes rely on method tiers instead; this guards non-method endpoints.
func RequireTrust(min auth.Trust) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch trust := auth.FromContext(r.Context()).Trust; {
			case trust >= min:
			case trust == auth.Anonymous:
				httputil.WriteError(w, r, errors.Unauthorized(""))
				return
			default:
				httputil.WriteError(w, r, errors.Forbidden(""))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
