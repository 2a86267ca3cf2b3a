package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"tripbook/pkg/utils"
)

const (
	// AuthorizationHeader authentication header name
	AuthorizationHeader = "Authorization"
	// BearerPrefix bearer token prefix
	BearerPrefix = "Bearer "
	// UserIDKey user ID key in the gin context
	UserIDKey = "user_id"
	// OperatorKey operator name key in the gin context
	OperatorKey = "operator"
)

// Claims JWT claims carried by user tokens
type Claims struct {
	UserID uint64 `json:"user_id"`
	jwt.RegisteredClaims
}

// NewToken issues a signed user token.
func NewToken(secret, issuer string, userID uint64, expire time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expire)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a user token and returns its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Auth authenticates user requests with a bearer JWT and puts the user ID
// on the context.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(AuthorizationHeader)
		if !strings.HasPrefix(header, BearerPrefix) {
			utils.ErrorResponse(c, utils.CodeUnauthorized, "Missing bearer token")
			c.Abort()
			return
		}

		claims, err := ParseToken(secret, strings.TrimPrefix(header, BearerPrefix))
		if err != nil {
			utils.ErrorResponse(c, utils.CodeUnauthorized, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// UserID pulls the authenticated user ID off the context.
func UserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// AdminAuth authenticates operators with basic auth against a name ->
// bcrypt hash table. Operator accounts are few and provisioned by config,
// not by a user store.
func AdminAuth(operators map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, secret, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="tripbook-admin"`)
			utils.ErrorResponse(c, utils.CodeUnauthorized, "Operator credentials required")
			c.Abort()
			return
		}

		hash, found := operators[name]
		if !found || bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
			utils.ErrorResponse(c, utils.CodeForbidden, "Operator not authorized")
			c.Abort()
			return
		}

		c.Set(OperatorKey, name)
		c.Next()
	}
}

// Operator pulls the authenticated operator name off the context.
func Operator(c *gin.Context) string {
	return c.GetString(OperatorKey)
}
