package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "carbon-scribe/project-portal/registry-backend/pkg/errors"
	"carbon-scribe/project-portal/registry-backend/pkg/response"
)

// ContextCallerKey is the gin context key storing the resolved caller.
const ContextCallerKey = "caller"

// Authenticate resolves the bearer token into a Caller or rejects the request.
func Authenticate(tokens *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			return
		}

		caller, err := tokens.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token"))
			return
		}

		SetCaller(c, caller)
		c.Next()
	}
}

// RequireRoles rejects callers whose role is not listed.
func RequireRoles(roles ...Role) gin.HandlerFunc {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		caller, ok := CallerFromContext(c)
		if !ok {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := allowed[caller.Role]; !ok {
			response.Abort(c, appErrors.Clonef(appErrors.ErrForbidden, "role %s may not perform this operation", caller.Role))
			return
		}
		c.Next()
	}
}

// SetCaller stores caller on the context.
func SetCaller(c *gin.Context, caller Caller) {
	c.Set(ContextCallerKey, caller)
}

// CallerFromContext returns the caller resolved by Authenticate.
func CallerFromContext(c *gin.Context) (Caller, bool) {
	v, ok := c.Get(ContextCallerKey)
	if !ok {
		return Caller{}, false
	}
	caller, ok := v.(Caller)
	return caller, ok
}
