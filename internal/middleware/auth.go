package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classroom/internal/domain"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/jwt"
	"classroom/pkg/logger"
)

// Ключи контекста gin
const (
	ContextIdentity = "identity"
	ContextRole     = "role"
)

type AuthMiddleware struct {
	tokens *jwt.Manager
	log    logger.Logger
}

func NewAuthMiddleware(tokens *jwt.Manager, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		log:    log,
	}
}

// bearerToken берет токен из заголовка Authorization, а для websocket - из ?token=
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		token := c.Query("token")
		return token, token != ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		claims, err := m.tokens.Parse(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ContextIdentity, claims.Subject)
		c.Set(ContextRole, domain.Role(claims.Role))
		c.Next()
	}
}

// RequireOperator пропускает только роли, которым разрешены действия оператора.
// Ставится после RequireAuth.
func (m *AuthMiddleware) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ContextRole)
		r, _ := role.(domain.Role)
		if !domain.CanOperate(r) {
			m.log.Warn("Operator action denied", "identity", c.GetString(ContextIdentity), "role", r, "path", c.FullPath())
			c.JSON(http.StatusForbidden, gin.H{"error": apperrors.ErrForbidden.Error()})
			c.Abort()
			return
		}
		c.Next()
	}
}
