package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// securityHeaders sets standard hardening headers on every response,
// grounded on the teacher's pkg/api/middleware.go securityHeaders.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// requireAuth validates a bearer JWT against s.jwtSecret (spec §1 "JWT
// issuance for operators" is an external collaborator; this engine only
// verifies). A blank jwtSecret fails closed: operator routes reject every
// request rather than silently allowing them.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.jwtSecret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator authentication not configured"})
			return
		}

		header := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return []byte(s.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Set("actor", sub)
		}
		c.Next()
	}
}

// actorFromContext returns the authenticated operator identity, falling
// back to "api-client" when the verified token carries no subject,
// mirroring the teacher's extractAuthor fallback chain.
func actorFromContext(c *gin.Context) string {
	if v, ok := c.Get("actor"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "api-client"
}
