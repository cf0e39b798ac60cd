package rbac

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Headers set by the authenticating gateway in front of the service.
const (
	HeaderActorID    = "X-Actor-ID"
	HeaderActorRoles = "X-Actor-Roles"
	// HeaderAttrPrefix prefixes actor attributes, e.g. X-Actor-Attr-Warehouse.
	HeaderAttrPrefix = "X-Actor-Attr-"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer shared.Authorizer
	Logger     *slog.Logger
}

// Actor resolves the acting user and request metadata from headers once per
// request and stores both in context. Requests without a valid actor id pass
// through without an actor; permission checks reject them.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.ContextWithRequestMeta(r.Context(), shared.RequestMeta{
			RequestID: middleware.GetReqID(r.Context()),
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		})
		if actor, ok := actorFromHeaders(r.Header); ok {
			ctx = shared.ContextWithActor(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAny ensures the current actor has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), false)
}

// RequireAll ensures the current actor has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), true)
}

func (m Middleware) require(perms []string, all bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			granted := 0
			for _, p := range perms {
				allowed, err := m.Authorizer.Authorize(r.Context(), actor, p)
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error("rbac authorize", slog.String("permission", p), slog.Int64("actor_id", actor.ID), slog.Any("error", err))
					}
					httpx.RespondError(w, err)
					return
				}
				if allowed {
					granted++
				}
			}
			if (all && granted == len(perms)) || (!all && granted > 0) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, shared.ErrForbidden)
		})
	}
}

func actorFromHeaders(h http.Header) (shared.Actor, bool) {
	raw := strings.TrimSpace(h.Get(HeaderActorID))
	if raw == "" {
		return shared.Actor{}, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return shared.Actor{}, false
	}
	actor := shared.Actor{ID: id}
	for _, role := range strings.Split(h.Get(HeaderActorRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			actor.Roles = append(actor.Roles, strings.ToLower(role))
		}
	}
	for key, values := range h {
		canonical := http.CanonicalHeaderKey(key)
		if !strings.HasPrefix(canonical, HeaderAttrPrefix) || len(values) == 0 {
			continue
		}
		if actor.Attributes == nil {
			actor.Attributes = map[string]string{}
		}
		name := strings.ToLower(strings.TrimPrefix(canonical, HeaderAttrPrefix))
		actor.Attributes[name] = values[0]
	}
	return actor, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
