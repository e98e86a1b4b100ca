package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/stitts-dev/xc-results/pkg/utils"
)

const (
	// ContextAdminSubject holds the "sub" claim of the verified admin token.
	ContextAdminSubject = "admin_subject"

	adminRole = "admin"
)

// AdminClaims is the token payload issued to results administrators.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminRequired validates an HMAC-signed bearer token carrying role=admin.
// An empty secret disables the check.
func AdminRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		// Browsers cannot set headers on a websocket handshake.
		if authHeader == "" && strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			if token := c.Query("access_token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if authHeader == "" {
			utils.SendUnauthorized(c, "Authorization header required")
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			utils.SendUnauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == "" {
			utils.SendUnauthorized(c, "Token required")
			c.Abort()
			return
		}

		claims := &AdminClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			utils.SendUnauthorized(c, "Invalid token")
			c.Abort()
			return
		}
		if claims.Role != adminRole {
			utils.SendForbidden(c, "Admin role required")
			c.Abort()
			return
		}

		c.Set(ContextAdminSubject, claims.Subject)
		c.Next()
	}
}

// AdminSubject returns the verified admin's subject, or "anonymous" when the
// guard is disabled.
func AdminSubject(c *gin.Context) string {
	if v, ok := c.Get(ContextAdminSubject); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "anonymous"
}
