package core

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenCookieName is the fallback carrier for the access token.
const TokenCookieName = "jwt_token"

// contextKeyPrincipal is the gin context key holding the authenticated User.
const contextKeyPrincipal = "principal"

// AuthMiddleware authenticates each request once from a bearer token.
//
// It extracts the token from the Authorization header first and the
// jwt_token cookie as a fallback, verifies it, loads the account and
// installs the principal on the request context. Every failure along the
// way (missing token, bad signature, expired, unknown account) makes the
// request proceed unauthenticated: rejection is the authorization
// layer's job, never this filter's.
func AuthMiddleware(tokens *TokenService, users UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		installPrincipal(c, tokens, users)
		c.Next()
	}
}

func installPrincipal(c *gin.Context, tokens *TokenService, users UserRepository) {
	// Idempotence guard: never override an authentication another
	// mechanism already installed for this request.
	if _, exists := c.Get(contextKeyPrincipal); exists {
		return
	}

	token := extractToken(c)
	if token == "" {
		return
	}

	subject := tokens.Subject(token)
	if subject == "" {
		return
	}

	u, err := users.FindByLogin(c.Request.Context(), subject)
	if err != nil || u == nil {
		// Valid token for an account that no longer exists: treated as
		// unauthenticated, not as an error.
		return
	}

	c.Set(contextKeyPrincipal, User{
		ID:        u.ID,
		Login:     u.Login,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	})
}

// extractToken resolves the bearer token from its ordered carriers:
// Authorization header first, cookie fallback only when the header is
// absent or malformed.
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if t := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); t != "" {
			return t
		}
	}
	if cookie, err := c.Cookie(TokenCookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

// CurrentUser returns the principal installed by AuthMiddleware, if any.
func CurrentUser(c *gin.Context) (User, bool) {
	v, ok := c.Get(contextKeyPrincipal)
	if !ok {
		return User{}, false
	}
	u, ok := v.(User)
	return u, ok
}

// RequireUser rejects requests without an installed principal.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); !ok {
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "É necessário estar autenticado.")
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminOnly ensures the principal holds the admin capability.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "É necessário estar autenticado.")
			c.Abort()
			return
		}
		if !u.HasAuthority(AuthorityAdmin) {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "É necessário ter perfil de administrador.")
			c.Abort()
			return
		}
		c.Next()
	}
}
