package guard

import (
	"strings"

	"leaderlite/cmd/member"
)

// Well-known paths the policy reasons about.
const (
	PathRoot   = "/"
	PathLogin  = "/auth/login"
	PathSignup = "/auth/signup"
	PathAdmin  = "/admin"
	PathMember = "/member"
)

// Decision is the outcome of a policy evaluation.
// When Allow is false, Redirect names where the client belongs instead.
type Decision struct {
	Allow    bool
	Redirect string
}

func allow() Decision             { return Decision{Allow: true} }
func redirect(to string) Decision { return Decision{Redirect: to} }

// HomeFor returns the dashboard path for a role.
func HomeFor(role member.Role) string {
	if role == member.RoleAdmin {
		return PathAdmin
	}
	return PathMember
}

// Decide evaluates the routing rules for one (auth, role, path) triple.
//
// Rules:
//   - anonymous clients may only be on the auth pages; anywhere else
//     redirects to the login page
//   - authenticated clients on an auth page or the root land on their
//     role's dashboard
//   - the admin dashboard requires the admin role; members are sent to
//     their own dashboard
//   - admins may view the member dashboard
func Decide(authenticated bool, role member.Role, path string) Decision {
	path = normalizePath(path)

	if !authenticated {
		if isAuthPath(path) {
			return allow()
		}
		return redirect(PathLogin)
	}

	if isAuthPath(path) || path == PathRoot {
		return redirect(HomeFor(role))
	}

	if isUnder(path, PathAdmin) && role != member.RoleAdmin {
		return redirect(PathMember)
	}

	return allow()
}

func isAuthPath(path string) bool {
	return isUnder(path, PathLogin) || isUnder(path, PathSignup) || path == "/auth"
}

// isUnder reports whether path equals prefix or sits below it.
func isUnder(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return PathRoot
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = PathRoot
		}
	}
	return path
}
