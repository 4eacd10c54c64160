package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextUserID = "userId"
	contextEmail  = "email"
	contextClaims = "claims"
)

type Claims struct {
	UserID         string `json:"userId,omitempty"`
	Email          string `json:"email,omitempty"`
	NameIdentifier string `json:"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier,omitempty"`
	jwt.RegisteredClaims
}

// Identity resolves the caller's user ID: the name identifier claim first,
// then the subject, then the userId claim.
func (c *Claims) Identity() string {
	switch {
	case c.NameIdentifier != "":
		return c.NameIdentifier
	case c.Subject != "":
		return c.Subject
	default:
		return c.UserID
	}
}

// AuthConfig configures token verification. Issuer and Audience are only
// enforced when set.
type AuthConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

func (cfg AuthConfig) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return opts
}

// ParseToken verifies a signed token and returns its claims.
func ParseToken(cfg AuthConfig, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return cfg.Secret, nil
	}, cfg.parserOptions()...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// AuthMiddleware rejects requests without a valid bearer token. A valid
// token without any identity claim is let through; handlers that need the
// caller's identity answer 401 themselves.
func AuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"message": "Authorization header required",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"message": "Invalid authorization header format",
			})
			c.Abort()
			return
		}

		claims, err := ParseToken(cfg, parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"message": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set(contextClaims, claims)
		if id := claims.Identity(); id != "" {
			c.Set(contextUserID, id)
		}
		if claims.Email != "" {
			c.Set(contextEmail, claims.Email)
		}
		c.Next()
	}
}

// GetUserID returns the authenticated caller's identity, if any.
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(contextUserID)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok && id != ""
}

func GetEmail(c *gin.Context) (string, bool) {
	email, exists := c.Get(contextEmail)
	if !exists {
		return "", false
	}
	s, ok := email.(string)
	return s, ok
}
