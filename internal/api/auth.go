package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const operatorContextKey = "Operator"

// OperatorClaims represents JWT claims for an authenticated operator.
type OperatorClaims struct {
	Operator string `json:"op"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for operator that expires after ttl.
func IssueToken(operator, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := OperatorClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return claims.Operator, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for protected routes. An empty secret
// disables the check. WebSocket upgrades may carry the token in the `token`
// query parameter, since browsers cannot set headers on them.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		tokenStr, code, msg := bearerToken(c)
		if tokenStr == "" {
			respondError(c, http.StatusUnauthorized, code, msg)
			c.Abort()
			return
		}

		operator, err := parseToken(tokenStr, secret)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(operatorContextKey, operator)
		c.Next()
	}
}

// bearerToken extracts the token, or returns the error code and message to
// report.
func bearerToken(c *gin.Context) (token, code, msg string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if websocket.IsWebSocketUpgrade(c.Request) {
			if q := c.Query("token"); q != "" {
				return q, "", ""
			}
		}
		return "", "MISSING_TOKEN", "missing Authorization header"
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", "INVALID_AUTH_HEADER", "invalid Authorization header"
	}
	return parts[1], "", ""
}

// CurrentOperator returns the authenticated operator from context.
func CurrentOperator(c *gin.Context) string {
	if v, ok := c.Get(operatorContextKey); ok {
		if op, okCast := v.(string); okCast {
			return op
		}
	}
	return ""
}
