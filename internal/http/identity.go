package http

import (
	"context"
	"net/http"
	"strings"
)

// Role is the caller's role as asserted by the fronting auth proxy.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"

	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// Identity is the authenticated caller. For clients UserID is also the
// client id their payments are filed under.
type Identity struct {
	UserID string
	Role   Role
}

func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// CanAccessClient reports whether the caller may read clientID's data.
func (id Identity) CanAccessClient(clientID string) bool {
	return id.IsAdmin() || id.UserID == clientID
}

type identityKey struct{}

func identityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func parseIdentity(r *http.Request) (Identity, bool) {
	id := Identity{
		UserID: strings.TrimSpace(r.Header.Get(headerUserID)),
		Role:   Role(strings.ToLower(strings.TrimSpace(r.Header.Get(headerUserRole)))),
	}
	if id.UserID == "" {
		return Identity{}, false
	}
	if id.Role != RoleAdmin && id.Role != RoleClient {
		return Identity{}, false
	}
	return id, true
}

// withIdentity rejects requests without a usable identity.
func withIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIdentity(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	}
}

// adminOnly must run inside withIdentity.
func adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if id, _ := identityFrom(r.Context()); !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}
