package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/fitmeals-backend/services/common/auth"
	apperrors "github.com/yashrajoria/fitmeals-backend/services/common/errors"
)

const (
	UserContextKey  = "userID"
	EmailContextKey = "email"
	RoleContextKey  = "role"

	RoleAdmin = "admin"
)

// Authenticate resolves the caller from a Bearer token. With trustGateway set,
// identity headers injected by the API gateway are accepted when no token is
// present.
func Authenticate(verifier *auth.TokenVerifier, trustGateway bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
			claims, err := verifier.ParseAndValidateToken(token, auth.TokenTypeAccess)
			if err != nil {
				abortUnauthorized(c, "Invalid token")
				return
			}
			setIdentity(c, claims.UserID, claims.Email, claims.Role)
			c.Next()
			return
		}

		if trustGateway {
			if userID := c.GetHeader("X-User-ID"); userID != "" {
				setIdentity(c, userID, c.GetHeader("X-User-Email"), c.GetHeader("X-User-Role"))
				c.Next()
				return
			}
		}

		abortUnauthorized(c, "Access token required")
	}
}

// AdminOnly restricts access to admin role.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			_ = c.Error(apperrors.Forbidden("Admin role required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user ID, or "" outside an
// authenticated route.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserContextKey)
}

func GetEmail(c *gin.Context) string {
	return c.GetString(EmailContextKey)
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString(RoleContextKey) == RoleAdmin
}

func setIdentity(c *gin.Context, userID, email, role string) {
	c.Set(UserContextKey, userID)
	c.Set(EmailContextKey, email)
	c.Set(RoleContextKey, role)
}

func abortUnauthorized(c *gin.Context, msg string) {
	_ = c.Error(apperrors.Unauthorized(msg))
	c.Abort()
}
