package security

import (
	"fmt"
	"net/http"
	"strings"
)

// Roles
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// ValidRoles lists all valid roles.
var ValidRoles = []string{RoleOperator, RoleViewer}

// IsValidRole reports whether role is known.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// routePermission defines which roles can access a method+path pattern.
type routePermission struct {
	Method  string // HTTP method or "*" for any
	Pattern string // path prefix with {id} wildcards
	Roles   []string
}

// permissions is checked in order; the first match wins.
var permissions = []routePermission{
	{Method: "GET", Pattern: "/api/", Roles: []string{RoleOperator, RoleViewer}},
	{Method: "*", Pattern: "/api/approvals/{id}/approve", Roles: []string{RoleOperator}},
	{Method: "*", Pattern: "/api/approvals/{id}/deny", Roles: []string{RoleOperator}},
	{Method: "*", Pattern: "/api/", Roles: []string{RoleOperator}},
}

// CheckPermission reports whether role may call method on path.
func CheckPermission(role, method, path string) bool {
	if role == RoleOperator {
		return true
	}

	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}

	for _, perm := range permissions {
		if !matchRoute(perm.Pattern, path) || (perm.Method != "*" && perm.Method != method) {
			continue
		}
		for _, r := range perm.Roles {
			if r == role {
				return true
			}
		}
		return false
	}
	return false
}

// RequirePermission returns middleware enforcing the permission table
// against the caller's role. Requests without claims (public paths, dev
// mode) pass through.
func RequirePermission() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetClaims(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !CheckPermission(claims.Role, r.Method, r.URL.Path) {
				http.Error(w, fmt.Sprintf(`{"error":"%s"}`, ErrInsufficientRole.Error()), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// matchRoute checks if a path matches a route pattern (prefix-based with {id} wildcards).
func matchRoute(pattern, path string) bool {
	if pattern == "/api/" {
		return strings.HasPrefix(path, "/api")
	}

	patParts := strings.Split(strings.Trim(pattern, "/"), "/")
	pathParts := strings.Split(strings.Trim(path, "/"), "/")
	if len(pathParts) < len(patParts) {
		return false
	}

	for i, pp := range patParts {
		if strings.HasPrefix(pp, "{") && strings.HasSuffix(pp, "}") {
			continue
		}
		if pp != pathParts[i] {
			return false
		}
	}
	return true
}
